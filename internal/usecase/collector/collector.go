package collector

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	bookv1 "github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/domain/book/v1"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/usecase/eventbus"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/usecase/sink"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/logger"
)

// BookBuilder is a venue book builder the collector supervises. Run blocks
// until its context is done; builders retry their own connection epochs, so
// a builder returning early is not treated as fatal.
type BookBuilder interface {
	Run(ctx context.Context)
	ResyncCount() int64
}

// LatestStore mirrors freshly published states for downstream lookup.
// Mirror failures are logged, never fatal.
type LatestStore interface {
	SetLatestState(ctx context.Context, state *bookv1.BookState) error
}

// Collector owns the single bus consumer: it drains published book states
// into the sink, supervises the venue builders and the sink's flush loop, and
// heartbeats cumulative counts. A sink failure stops the whole run; builder
// failures are absorbed by the builders' own resync loops.
type Collector struct {
	bus    *eventbus.Bus
	sink   *sink.Sink
	logger logger.Interface

	heartbeatInterval time.Duration
	latest            LatestStore

	mu       sync.Mutex
	builders map[string]BookBuilder

	stateCount atomic.Int64
}

// Option configures optional collector wiring.
type Option func(*Collector)

// WithLatestStore mirrors every consumed state into store.
func WithLatestStore(store LatestStore) Option {
	return func(c *Collector) {
		c.latest = store
	}
}

// New creates a collector around one bus and one sink.
func New(bus *eventbus.Bus, s *sink.Sink, log logger.Interface, heartbeatInterval time.Duration, opts ...Option) *Collector {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 5 * time.Second
	}
	c := &Collector{
		bus:               bus,
		sink:              s,
		logger:            log,
		heartbeatInterval: heartbeatInterval,
		builders:          make(map[string]BookBuilder),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddBuilder registers a venue builder under its venue name.
func (c *Collector) AddBuilder(venue string, builder BookBuilder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.builders[venue] = builder
}

// StateCount returns the number of book states consumed so far.
func (c *Collector) StateCount() int64 {
	return c.stateCount.Load()
}

// Run blocks until ctx is done or the sink fails. On return every builder
// has stopped and the sink has performed its final flush.
func (c *Collector) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	fatal := make(chan error, 2)
	var wg sync.WaitGroup

	c.mu.Lock()
	for _, builder := range c.builders {
		wg.Add(1)
		go func(builder BookBuilder) {
			defer wg.Done()
			builder.Run(runCtx)
		}(builder)
	}
	c.mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := c.sink.Run(runCtx); err != nil {
			if runCtx.Err() == nil {
				fatal <- err
				cancel()
				return
			}
			// a failed final flush surfaces here after a clean cancel
			if !stderrors.Is(err, context.Canceled) {
				c.logger.Error(err)
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.runHeartbeat(runCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := c.consume(runCtx); err != nil && runCtx.Err() == nil {
			fatal <- err
			cancel()
		}
	}()

	<-runCtx.Done()
	wg.Wait()

	select {
	case err := <-fatal:
		return err
	default:
	}
	return ctx.Err()
}

// consume is the bus's single consumer, feeding every book state into the
// sink and the optional latest-state mirror.
func (c *Collector) consume(ctx context.Context) error {
	for {
		event, err := c.bus.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if event.Type != bookv1.EventTypeBookState || event.BookState == nil {
			continue
		}
		c.stateCount.Add(1)

		if err := c.sink.Add(ctx, event.BookState); err != nil {
			return err
		}
		if c.latest != nil {
			if err := c.latest.SetLatestState(ctx, event.BookState); err != nil {
				c.logger.WarnContext(ctx, "latest-state mirror failed, continuing",
					logger.Field{Key: "venue", Value: event.BookState.Venue},
					logger.Field{Key: "error", Value: err.Error()},
				)
			}
		}
	}
}

func (c *Collector) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fields := []logger.Field{
				{Key: "book_states", Value: c.stateCount.Load()},
				{Key: "rows", Value: c.sink.RowCount()},
				{Key: "bus_depth", Value: c.bus.Len()},
			}
			c.mu.Lock()
			for venue, builder := range c.builders {
				fields = append(fields, logger.Field{
					Key:   fmt.Sprintf("%s_resyncs", venue),
					Value: builder.ResyncCount(),
				})
			}
			c.mu.Unlock()
			c.logger.InfoContext(ctx, "collector running", fields...)
		case <-ctx.Done():
			return
		}
	}
}
