package l2book

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
	// EmitFull publishes every level instead of the top N.
	EmitFull bool
	// ResyncBackoff is the pause between connection epochs after a failure.
	ResyncBackoff time.Duration
}

// Builder reconstructs an aggregated book from a REST snapshot bridged onto a
// continuous diff stream. The bid/ask maps and the update-id cursor are owned
// exclusively by one connection epoch: any gap, parse failure or disconnect
// aborts the epoch and the whole book is rebuilt from a fresh snapshot. The
// cursor is never carried across reconnects; venues are not assumed to keep
// update ids continuous between connections.
type Builder struct {
	feed   bookv1.DiffFeed
	bus    *eventbus.Bus
	logger logger.Interface
	config Config

	bids         map[float64]float64
	asks         map[float64]float64
	lastUpdateID int64

	resyncCount atomic.Int64
}

// NewBuilder creates a diff-stream book builder for one venue feed.
func NewBuilder(feed bookv1.DiffFeed, bus *eventbus.Bus, log logger.Interface, config Config) *Builder {
	if config.TopN <= 0 {
		config.TopN = 10
	}
	if config.ResyncBackoff <= 0 {
		config.ResyncBackoff = time.Second
	}
	return &Builder{
		feed:   feed,
		bus:    bus,
		logger: log,
		config: config,
		bids:   make(map[float64]float64),
		asks:   make(map[float64]float64),
	}
}

// ResyncCount returns the number of epoch restarts since the builder started.
func (b *Builder) ResyncCount() int64 {
	return b.resyncCount.Load()
}

// Run drives connection epochs until ctx is done. Every epoch failure is
// converted into a resync: the in-memory book is discarded, the resync
// counter is incremented and a fresh epoch starts after the backoff.
func (b *Builder) Run(ctx context.Context) {
	for ctx.Err() == nil {
		err := b.runEpoch(ctx)
		if ctx.Err() != nil {
			return
		}
		n := b.resyncCount.Add(1)
		b.logger.WarnContext(ctx, fmt.Sprintf("%s l2 resync #%d", b.feed.Venue(), n),
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

// runEpoch executes one connection attempt: open the stream, buffer diffs
// until the first update id is known, fetch a snapshot no older than the
// buffered stream, replay the buffer over it and then consume live diffs
// until an error ends the epoch.
func (b *Builder) runEpoch(ctx context.Context) error {
	b.reset()

	epochCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := b.feed.Dial(epochCtx)
	if err != nil {
		return errors.NewCollectorError(errors.TransientNetworkError, "dial diff stream").Wrap(err)
	}
	defer stream.Close()

	updates := make(chan bookv1.DepthUpdate, 4096)
	streamErr := make(chan error, 1)
	go pump(epochCtx, stream, updates, streamErr)

	// Step 1: the first buffered diff fixes the earliest update id the
	// snapshot must cover.
	var buffered []bookv1.DepthUpdate
	select {
	case first := <-updates:
		buffered = append(buffered, first)
	case err := <-streamErr:
		return err
	case <-epochCtx.Done():
		return epochCtx.Err()
	}
	firstU := buffered[0].FirstUpdateID

	// Steps 2-4: fetch the snapshot, refetching while it is stale relative
	// to the stream, then seed the book from it.
	snapshot, err := b.feed.Snapshot(epochCtx)
	if err != nil {
		return errors.NewCollectorError(errors.SnapshotUnavailableError, "fetch depth snapshot").Wrap(err)
	}
	for snapshot.LastUpdateID < firstU {
		staleID := snapshot.LastUpdateID
		b.logger.InfoContext(ctx, "snapshot older than buffered stream, refetching",
			logger.Field{Key: "venue", Value: b.feed.Venue()},
			logger.Field{Key: "snapshot_last_update_id", Value: staleID},
			logger.Field{Key: "first_u", Value: firstU},
		)
		snapshot, err = b.feed.Snapshot(epochCtx)
		if err != nil {
			return errors.NewCollectorError(errors.SnapshotStaleError,
				fmt.Sprintf("stale snapshot (last update id %d, stream starts at %d) could not be refetched",
					staleID, firstU)).Wrap(err)
		}
	}
	b.loadSnapshot(snapshot)

	// Step 5: drain whatever accumulated while the snapshot was fetched and
	// replay it over the seeded book.
	for {
		select {
		case update := <-updates:
			buffered = append(buffered, update)
			continue
		default:
		}
		break
	}
	if err := b.replayBuffered(buffered); err != nil {
		return err
	}

	// Step 6: live consumption under the identical bridge rule, publishing a
	// fresh state after every applied diff.
	for {
		select {
		case update := <-updates:
			applied, err := b.applyLive(update)
			if err != nil {
				return err
			}
			if applied {
				if err := b.publishState(epochCtx, update.TsExchangeMs); err != nil {
					return err
				}
			}
		case err := <-streamErr:
			return err
		case <-epochCtx.Done():
			return epochCtx.Err()
		}
	}
}

func pump(ctx context.Context, stream bookv1.DiffStream, updates chan<- bookv1.DepthUpdate, streamErr chan<- error) {
	for {
		update, err := stream.Recv(ctx)
		if err != nil {
			select {
			case streamErr <- errors.NewCollectorError(errors.TransientNetworkError, "diff stream receive").Wrap(err):
			default:
			}
			return
		}
		select {
		case updates <- update:
		case <-ctx.Done():
			return
		}
	}
}

func (b *Builder) reset() {
	b.bids = make(map[float64]float64)
	b.asks = make(map[float64]float64)
	b.lastUpdateID = 0
}

// loadSnapshot seeds the book and the update-id cursor from a snapshot.
// Zero-quantity snapshot entries are dropped.
func (b *Builder) loadSnapshot(snapshot *bookv1.DepthSnapshot) {
	b.bids = make(map[float64]float64, len(snapshot.Bids))
	b.asks = make(map[float64]float64, len(snapshot.Asks))
	for _, entry := range snapshot.Bids {
		if entry.Qty > 0 {
			b.bids[entry.Price] = entry.Qty
		}
	}
	for _, entry := range snapshot.Asks {
		if entry.Qty > 0 {
			b.asks[entry.Price] = entry.Qty
		}
	}
	b.lastUpdateID = snapshot.LastUpdateID
}

// replayBuffered applies diffs buffered before the snapshot landed. A diff
// already covered by the snapshot is skipped, one that bridges the cursor is
// applied, anything else is a gap.
func (b *Builder) replayBuffered(buffered []bookv1.DepthUpdate) error {
	for _, update := range buffered {
		if update.FinalUpdateID <= b.lastUpdateID {
			continue
		}
		if update.FirstUpdateID <= b.lastUpdateID+1 && b.lastUpdateID+1 <= update.FinalUpdateID {
			b.applyUpdate(update)
			b.lastUpdateID = update.FinalUpdateID
			continue
		}
		return b.gapError(update)
	}
	return nil
}

// applyLive applies one live diff under the bridge rule. It reports whether
// the diff advanced the book; stale diffs are ignored.
func (b *Builder) applyLive(update bookv1.DepthUpdate) (bool, error) {
	if update.FinalUpdateID <= b.lastUpdateID {
		return false, nil
	}
	if update.FirstUpdateID > b.lastUpdateID+1 {
		return false, b.gapError(update)
	}
	b.applyUpdate(update)
	b.lastUpdateID = update.FinalUpdateID
	return true, nil
}

func (b *Builder) gapError(update bookv1.DepthUpdate) error {
	return errors.NewCollectorError(
		errors.SequenceGapError,
		fmt.Sprintf("diff [%d,%d] does not bridge last applied update id %d",
			update.FirstUpdateID, update.FinalUpdateID, b.lastUpdateID),
	)
}

// applyUpdate mutates the level maps: zero quantity deletes a level, nonzero
// replaces it.
func (b *Builder) applyUpdate(update bookv1.DepthUpdate) {
	for _, entry := range update.Bids {
		if entry.Qty == 0 {
			delete(b.bids, entry.Price)
		} else {
			b.bids[entry.Price] = entry.Qty
		}
	}
	for _, entry := range update.Asks {
		if entry.Qty == 0 {
			delete(b.asks, entry.Price)
		} else {
			b.asks[entry.Price] = entry.Qty
		}
	}
}

// sortedLevels returns the book's levels, bids price-descending and asks
// price-ascending, truncated to top N unless the builder emits full depth.
func (b *Builder) sortedLevels() (bids, asks []bookv1.PriceLevel) {
	bids = make([]bookv1.PriceLevel, 0, len(b.bids))
	for price, qty := range b.bids {
		bids = append(bids, bookv1.PriceLevel{Price: price, Qty: qty})
	}
	sort.Slice(bids, func(i, j int) bool {
		return bids[i].Price > bids[j].Price
	})

	asks = make([]bookv1.PriceLevel, 0, len(b.asks))
	for price, qty := range b.asks {
		asks = append(asks, bookv1.PriceLevel{Price: price, Qty: qty})
	}
	sort.Slice(asks, func(i, j int) bool {
		return asks[i].Price < asks[j].Price
	})

	if !b.config.EmitFull {
		if len(bids) > b.config.TopN {
			bids = bids[:b.config.TopN]
		}
		if len(asks) > b.config.TopN {
			asks = asks[:b.config.TopN]
		}
	}
	return bids, asks
}

// publishState constructs a fresh BookState and hands it to the bus,
// blocking under backpressure. Nothing is published while either side is
// empty.
func (b *Builder) publishState(ctx context.Context, tsExchangeMs int64) error {
	bids, asks := b.sortedLevels()
	if len(bids) == 0 || len(asks) == 0 {
		return nil
	}
	if tsExchangeMs == 0 {
		tsExchangeMs = time.Now().UnixMilli()
	}
	state := &bookv1.BookState{
		Venue:        b.feed.Venue(),
		Symbol:       b.feed.Symbol(),
		TsExchangeMs: tsExchangeMs,
		TsLocalMs:    time.Now().UnixMilli(),
		Kind:         bookv1.KindL2,
		BestBid:      bids[0].Price,
		BestAsk:      asks[0].Price,
		Bids:         bids,
		Asks:         asks,
	}
	return b.bus.Publish(ctx, bookv1.NewBookStateEvent(state))
}
