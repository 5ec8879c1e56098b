package l3book

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	bookv1 "github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/domain/book/v1"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/usecase/eventbus"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/errors"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/logger"
)

// Config holds the builder's tunables.
type Config struct {
	// TopN is the number of levels per side published in each BookState.
	TopN int
	// SnapshotRetryBudget is the number of level-3 snapshot failures
	// tolerated before the builder degrades to level-2 polling.
	SnapshotRetryBudget int
	// FallbackPoll is the polling interval of the degraded mode.
	FallbackPoll time.Duration
	// AllowFallback enables the degraded level-2 mode at all.
	AllowFallback bool
	// ResyncBackoff is the pause between connection epochs after a failure.
	ResyncBackoff time.Duration
}

type liveOrder struct {
	side  bookv1.Side
	price float64
	size  float64
}

// Builder reconstructs a book from individual order lifecycle events bridged
// onto a full order-level snapshot. The order map, the aggregated level maps
// and the sequence cursor belong to one connection epoch and are discarded
// wholesale on any failure; sequence numbers are never assumed continuous
// across reconnects. When the level-3 snapshot keeps failing past the retry
// budget the builder trades fidelity for availability and polls level-2
// snapshots instead, publishing states tagged KindL2.
type Builder struct {
	feed   bookv1.OrderFeed
	bus    *eventbus.Bus
	logger logger.Interface
	config Config

	orders       map[string]*liveOrder
	levels       map[bookv1.Side]map[float64]float64
	lastSequence int64

	resyncCount      atomic.Int64
	snapshotFailures int
}

// NewBuilder creates an order-stream book builder for one venue feed.
func NewBuilder(feed bookv1.OrderFeed, bus *eventbus.Bus, log logger.Interface, config Config) *Builder {
	if config.TopN <= 0 {
		config.TopN = 10
	}
	if config.SnapshotRetryBudget <= 0 {
		config.SnapshotRetryBudget = 3
	}
	if config.FallbackPoll <= 0 {
		config.FallbackPoll = time.Second
	}
	if config.ResyncBackoff <= 0 {
		config.ResyncBackoff = time.Second
	}
	b := &Builder{
		feed:   feed,
		bus:    bus,
		logger: log,
		config: config,
	}
	b.reset()
	return b
}

// ResyncCount returns the number of epoch restarts since the builder started.
func (b *Builder) ResyncCount() int64 {
	return b.resyncCount.Load()
}

// Run drives connection epochs until ctx is done, converting every failure
// into a counted resync.
func (b *Builder) Run(ctx context.Context) {
	for ctx.Err() == nil {
		err := b.runEpoch(ctx)
		if ctx.Err() != nil {
			return
		}
		n := b.resyncCount.Add(1)
		b.logger.WarnContext(ctx, fmt.Sprintf("%s l3 resync #%d", b.feed.Venue(), n),
			logger.Field{Key: "venue", Value: b.feed.Venue()},
			logger.Field{Key: "symbol", Value: b.feed.Symbol()},
			logger.Field{Key: "resync_count", Value: n},
			logger.Field{Key: "code", Value: string(errors.CodeOf(err))},
			logger.Field{Key: "error", Value: err.Error()},
		)

		select {
		case <-time.After(b.config.ResyncBackoff):
		case <-ctx.Done():
			return
		}
	}
}

func (b *Builder) runEpoch(ctx context.Context) error {
	b.reset()

	epochCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := b.feed.Dial(epochCtx)
	if err != nil {
		return errors.NewCollectorError(errors.TransientNetworkError, "dial order stream").Wrap(err)
	}
	defer stream.Close()

	messages := make(chan bookv1.OrderMessage, 4096)
	streamErr := make(chan error, 1)
	go pump(epochCtx, stream, messages, streamErr)

	snapshot, err := b.feed.Snapshot(epochCtx)
	if err != nil {
		b.snapshotFailures++
		if b.config.AllowFallback && b.snapshotFailures >= b.config.SnapshotRetryBudget {
			b.logger.WarnContext(ctx, fmt.Sprintf("%s l3 snapshot failed %dx, degrading to level-2 polling",
				b.feed.Venue(), b.snapshotFailures),
				logger.Field{Key: "venue", Value: b.feed.Venue()},
				logger.Field{Key: "snapshot_failures", Value: b.snapshotFailures},
			)
			return b.runFallback(epochCtx)
		}
		return errors.NewCollectorError(errors.SnapshotUnavailableError, "fetch order snapshot").Wrap(err)
	}
	b.snapshotFailures = 0
	b.loadSnapshot(snapshot)

	// Replay whatever buffered while the snapshot was in flight, then keep
	// consuming live. Both phases obey the same contiguity rule, so no
	// distinction between them is needed beyond the nonblocking drain.
	for {
		select {
		case msg := <-messages:
			if err := b.consumeMessage(epochCtx, msg); err != nil {
				return err
			}
			continue
		default:
		}
		break
	}

	for {
		select {
		case msg := <-messages:
			if err := b.consumeMessage(epochCtx, msg); err != nil {
				return err
			}
		case err := <-streamErr:
			return err
		case <-epochCtx.Done():
			return epochCtx.Err()
		}
	}
}

// consumeMessage folds one stream message into the book: sequences at or
// below the cursor are duplicates and ignored, the cursor's successor is
// applied and published, anything further ahead is a gap.
func (b *Builder) consumeMessage(ctx context.Context, msg bookv1.OrderMessage) error {
	if msg.Sequence <= b.lastSequence {
		return nil
	}
	if msg.Sequence > b.lastSequence+1 {
		return errors.NewCollectorError(
			errors.SequenceGapError,
			fmt.Sprintf("order message sequence %d does not follow %d", msg.Sequence, b.lastSequence),
		)
	}
	b.applyMessage(msg)
	b.lastSequence = msg.Sequence
	return b.publishState(ctx, msg.TsExchangeMs)
}

// runFallback polls level-2 snapshots and publishes them as KindL2 states.
// An explicit availability-over-fidelity tradeoff: no order-level state is
// kept through the window, because nothing could bridge it back to the
// sequence stream afterwards.
func (b *Builder) runFallback(ctx context.Context) error {
	b.reset()
	for {
		snapshot, err := b.feed.SnapshotL2(ctx)
		if err != nil {
			b.logger.WarnContext(ctx, fmt.Sprintf("%s level-2 fallback snapshot failed", b.feed.Venue()),
				logger.Field{Key: "venue", Value: b.feed.Venue()},
				logger.Field{Key: "error", Value: err.Error()},
			)
		} else if err := b.publishFallbackState(ctx, snapshot); err != nil {
			return err
		}

		select {
		case <-time.After(b.config.FallbackPoll):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func pump(ctx context.Context, stream bookv1.OrderStream, messages chan<- bookv1.OrderMessage, streamErr chan<- error) {
	for {
		msg, err := stream.Recv(ctx)
		if err != nil {
			select {
			case streamErr <- errors.NewCollectorError(errors.TransientNetworkError, "order stream receive").Wrap(err):
			default:
			}
			return
		}
		select {
		case messages <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (b *Builder) reset() {
	b.orders = make(map[string]*liveOrder)
	b.levels = map[bookv1.Side]map[float64]float64{
		bookv1.SideBuy:  {},
		bookv1.SideSell: {},
	}
	b.lastSequence = 0
}

// loadSnapshot rebuilds the order map and the aggregated levels from a full
// order-level snapshot and seeds the sequence cursor.
func (b *Builder) loadSnapshot(snapshot *bookv1.OrderBookSnapshot) {
	b.reset()
	for _, entry := range snapshot.Bids {
		b.addOrder(entry.OrderID, bookv1.SideBuy, entry.Price, entry.Size)
	}
	for _, entry := range snapshot.Asks {
		b.addOrder(entry.OrderID, bookv1.SideSell, entry.Price, entry.Size)
	}
	b.lastSequence = snapshot.Sequence
}

func (b *Builder) addOrder(orderID string, side bookv1.Side, price, size float64) {
	b.orders[orderID] = &liveOrder{side: side, price: price, size: size}
	b.levels[side][price] += size
}

func (b *Builder) removeOrder(orderID string) {
	order, ok := b.orders[orderID]
	if !ok {
		return
	}
	delete(b.orders, orderID)
	b.addToLevel(order.side, order.price, -order.size)
}

// addToLevel adjusts an aggregated level by delta, pruning it once nothing
// remains. Levels never go negative.
func (b *Builder) addToLevel(side bookv1.Side, price, delta float64) {
	level := b.levels[side]
	next := level[price] + delta
	if next <= 0 {
		delete(level, price)
		return
	}
	level[price] = next
}

// applyMessage applies one order lifecycle event to the book. Messages
// referencing unknown orders are ignored: the snapshot predates them and the
// venue guarantees a done for everything it opened.
func (b *Builder) applyMessage(msg bookv1.OrderMessage) {
	switch msg.Type {
	case bookv1.OrderMessageReceived:
		// no-op: the order is not on the book yet

	case bookv1.OrderMessageOpen:
		if msg.OrderID == "" || msg.Side == "" || msg.Price == 0 || msg.Size == 0 {
			return
		}
		b.addOrder(msg.OrderID, msg.Side, msg.Price, msg.Size)

	case bookv1.OrderMessageMatch:
		order, ok := b.orders[msg.MakerOrderID]
		if !ok {
			return
		}
		if msg.Size >= order.size {
			b.removeOrder(msg.MakerOrderID)
			return
		}
		order.size -= msg.Size
		b.addToLevel(order.side, order.price, -msg.Size)

	case bookv1.OrderMessageDone:
		b.removeOrder(msg.OrderID)

	case bookv1.OrderMessageChange:
		order, ok := b.orders[msg.OrderID]
		if !ok {
			return
		}
		if msg.NewSize <= 0 {
			b.removeOrder(msg.OrderID)
			return
		}
		b.addToLevel(order.side, order.price, msg.NewSize-order.size)
		order.size = msg.NewSize
	}
}

// sortedLevels returns the aggregated levels, bids price-descending and asks
// price-ascending, truncated to top N.
func (b *Builder) sortedLevels() (bids, asks []bookv1.PriceLevel) {
	bids = make([]bookv1.PriceLevel, 0, len(b.levels[bookv1.SideBuy]))
	for price, qty := range b.levels[bookv1.SideBuy] {
		bids = append(bids, bookv1.PriceLevel{Price: price, Qty: qty})
	}
	sort.Slice(bids, func(i, j int) bool {
		return bids[i].Price > bids[j].Price
	})

	asks = make([]bookv1.PriceLevel, 0, len(b.levels[bookv1.SideSell]))
	for price, qty := range b.levels[bookv1.SideSell] {
		asks = append(asks, bookv1.PriceLevel{Price: price, Qty: qty})
	}
	sort.Slice(asks, func(i, j int) bool {
		return asks[i].Price < asks[j].Price
	})

	if len(bids) > b.config.TopN {
		bids = bids[:b.config.TopN]
	}
	if len(asks) > b.config.TopN {
		asks = asks[:b.config.TopN]
	}
	return bids, asks
}

func (b *Builder) publishState(ctx context.Context, tsExchangeMs int64) error {
	bids, asks := b.sortedLevels()
	if len(bids) == 0 || len(asks) == 0 {
		return nil
	}
	state := &bookv1.BookState{
		Venue:        b.feed.Venue(),
		Symbol:       b.feed.Symbol(),
		TsExchangeMs: tsExchangeMs,
		TsLocalMs:    time.Now().UnixMilli(),
		Kind:         bookv1.KindL3,
		BestBid:      bids[0].Price,
		BestAsk:      asks[0].Price,
		Bids:         bids,
		Asks:         asks,
		OrderCount:   len(b.orders),
	}
	return b.bus.Publish(ctx, bookv1.NewBookStateEvent(state))
}

func (b *Builder) publishFallbackState(ctx context.Context, snapshot *bookv1.DepthSnapshot) error {
	bids := make([]bookv1.PriceLevel, 0, len(snapshot.Bids))
	for _, entry := range snapshot.Bids {
		if entry.Qty > 0 {
			bids = append(bids, bookv1.PriceLevel{Price: entry.Price, Qty: entry.Qty})
		}
	}
	asks := make([]bookv1.PriceLevel, 0, len(snapshot.Asks))
	for _, entry := range snapshot.Asks {
		if entry.Qty > 0 {
			asks = append(asks, bookv1.PriceLevel{Price: entry.Price, Qty: entry.Qty})
		}
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })
	if len(bids) > b.config.TopN {
		bids = bids[:b.config.TopN]
	}
	if len(asks) > b.config.TopN {
		asks = asks[:b.config.TopN]
	}
	if len(bids) == 0 || len(asks) == 0 {
		return nil
	}

	now := time.Now().UnixMilli()
	state := &bookv1.BookState{
		Venue:        b.feed.Venue(),
		Symbol:       b.feed.Symbol(),
		TsExchangeMs: now,
		TsLocalMs:    now,
		Kind:         bookv1.KindL2,
		BestBid:      bids[0].Price,
		BestAsk:      asks[0].Price,
		Bids:         bids,
		Asks:         asks,
	}
	return b.bus.Publish(ctx, bookv1.NewBookStateEvent(state))
}
