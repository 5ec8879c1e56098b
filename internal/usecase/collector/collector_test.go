package collector

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	bookv1 "github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/domain/book/v1"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/usecase/eventbus"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/usecase/sink"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/errors"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryPageStore struct {
	mu      sync.Mutex
	pages   map[int64][]bookv1.Row
	readErr error
}

func newMemoryPageStore() *memoryPageStore {
	return &memoryPageStore{pages: map[int64][]bookv1.Row{}}
}

func (m *memoryPageStore) ReadPage(ctx context.Context, bucketMs int64) ([]bookv1.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	return append([]bookv1.Row{}, m.pages[bucketMs]...), nil
}

func (m *memoryPageStore) WritePage(ctx context.Context, bucketMs int64, rows []bookv1.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[bucketMs] = append([]bookv1.Row{}, rows...)
	return nil
}

func (m *memoryPageStore) totalRows() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, rows := range m.pages {
		total += len(rows)
	}
	return total
}

// publishingBuilder pushes a fixed number of states onto the bus, then parks
// until cancelled, like a live builder between updates.
type publishingBuilder struct {
	bus     *eventbus.Bus
	venue   string
	states  int
	resyncs atomic.Int64
}

func (b *publishingBuilder) Run(ctx context.Context) {
	base := time.Now().UnixMilli()
	for i := 0; i < b.states; i++ {
		state := &bookv1.BookState{
			Venue:     b.venue,
			Symbol:    "BTCUSDT",
			TsLocalMs: base + int64(i),
			Kind:      bookv1.KindL2,
			BestBid:   10.0,
			BestAsk:   10.5,
			Bids:      []bookv1.PriceLevel{{Price: 10.0, Qty: 1}},
			Asks:      []bookv1.PriceLevel{{Price: 10.5, Qty: 1}},
		}
		if err := b.bus.Publish(ctx, bookv1.NewBookStateEvent(state)); err != nil {
			return
		}
	}
	<-ctx.Done()
}

func (b *publishingBuilder) ResyncCount() int64 {
	return b.resyncs.Load()
}

type recordingLatest struct {
	mu     sync.Mutex
	states []*bookv1.BookState
	err    error
}

func (r *recordingLatest) SetLatestState(ctx context.Context, state *bookv1.BookState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.states = append(r.states, state)
	return nil
}

func testLogger(t *testing.T) logger.Interface {
	t.Helper()
	log, err := logger.NewLogger(logger.WithLoggingLevel(logger.ErrorLevel))
	require.NoError(t, err)
	return log
}

func TestCollector_DrainsStatesIntoSink(t *testing.T) {
	bus := eventbus.New(64)
	store := newMemoryPageStore()
	s := sink.New(store, testLogger(t), sink.Config{FlushInterval: 10 * time.Millisecond})
	latest := &recordingLatest{}
	c := New(bus, s, testLogger(t), time.Hour, WithLatestStore(latest))
	c.AddBuilder("binance", &publishingBuilder{bus: bus, venue: "binance", states: 3})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return c.StateCount() == 3 && store.totalRows() == 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("collector did not stop on cancel")
	}

	latest.mu.Lock()
	defer latest.mu.Unlock()
	assert.Len(t, latest.states, 3, "every state mirrored")
}

func TestCollector_SinkFailureStopsRun(t *testing.T) {
	bus := eventbus.New(64)
	store := newMemoryPageStore()
	store.readErr = io.ErrUnexpectedEOF
	s := sink.New(store, testLogger(t), sink.Config{FlushInterval: 10 * time.Millisecond})
	c := New(bus, s, testLogger(t), time.Hour)
	c.AddBuilder("binance", &publishingBuilder{bus: bus, venue: "binance", states: 5})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, errors.PageStoreError, errors.CodeOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("collector did not stop on sink failure")
	}
}

func TestCollector_LatestStoreFailureIsNotFatal(t *testing.T) {
	bus := eventbus.New(64)
	store := newMemoryPageStore()
	s := sink.New(store, testLogger(t), sink.Config{FlushInterval: 10 * time.Millisecond})
	latest := &recordingLatest{err: io.ErrUnexpectedEOF}
	c := New(bus, s, testLogger(t), time.Hour, WithLatestStore(latest))
	c.AddBuilder("binance", &publishingBuilder{bus: bus, venue: "binance", states: 2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return c.StateCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("collector did not stop on cancel")
	}
	assert.Equal(t, 2, store.totalRows(), "states still persisted")
}
