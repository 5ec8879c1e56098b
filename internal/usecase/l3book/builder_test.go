package l3book

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	bookv1 "github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/domain/book/v1"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/usecase/eventbus"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	messages chan bookv1.OrderMessage
}

func (s *fakeStream) Recv(ctx context.Context) (bookv1.OrderMessage, error) {
	select {
	case msg, ok := <-s.messages:
		if !ok {
			return bookv1.OrderMessage{}, io.EOF
		}
		return msg, nil
	case <-ctx.Done():
		return bookv1.OrderMessage{}, ctx.Err()
	}
}

func (s *fakeStream) Close() error { return nil }

type fakeFeed struct {
	mu          sync.Mutex
	streams     []*fakeStream
	dials       int
	snapshot    *bookv1.OrderBookSnapshot
	snapshotErr error
	l2Snapshot  *bookv1.DepthSnapshot
	l2Err       error
}

func (f *fakeFeed) Venue() string  { return "coinbase" }
func (f *fakeFeed) Symbol() string { return "BTC-USD" }

func (f *fakeFeed) Dial(ctx context.Context) (bookv1.OrderStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dials >= len(f.streams) {
		return nil, io.ErrUnexpectedEOF
	}
	stream := f.streams[f.dials]
	f.dials++
	return stream, nil
}

func (f *fakeFeed) Snapshot(ctx context.Context) (*bookv1.OrderBookSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapshotErr != nil {
		return nil, f.snapshotErr
	}
	return f.snapshot, nil
}

func (f *fakeFeed) SnapshotL2(ctx context.Context) (*bookv1.DepthSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.l2Err != nil {
		return nil, f.l2Err
	}
	return f.l2Snapshot, nil
}

func testLogger(t *testing.T) logger.Interface {
	t.Helper()
	log, err := logger.NewLogger(logger.WithLoggingLevel(logger.ErrorLevel))
	require.NoError(t, err)
	return log
}

func newTestBuilder(t *testing.T, feed bookv1.OrderFeed, bus *eventbus.Bus, config Config) *Builder {
	t.Helper()
	if config.TopN == 0 {
		config.TopN = 10
	}
	if config.ResyncBackoff == 0 {
		config.ResyncBackoff = 10 * time.Millisecond
	}
	return NewBuilder(feed, bus, testLogger(t), config)
}

func seededBuilder(t *testing.T, bus *eventbus.Bus) *Builder {
	b := newTestBuilder(t, &fakeFeed{}, bus, Config{})
	b.loadSnapshot(&bookv1.OrderBookSnapshot{
		Sequence: 50,
		Bids: []bookv1.OrderEntry{
			{OrderID: "b1", Price: 100.0, Size: 2},
			{OrderID: "b2", Price: 100.0, Size: 3},
			{OrderID: "b3", Price: 99.5, Size: 1},
		},
		Asks: []bookv1.OrderEntry{
			{OrderID: "a1", Price: 100.5, Size: 4},
		},
	})
	return b
}

func TestBuilder_LoadSnapshot_AggregatesLevels(t *testing.T) {
	b := seededBuilder(t, eventbus.New(16))

	assert.Equal(t, int64(50), b.lastSequence)
	assert.Len(t, b.orders, 4)
	assert.Equal(t, 5.0, b.levels[bookv1.SideBuy][100.0], "two orders compose the level")
	assert.Equal(t, 1.0, b.levels[bookv1.SideBuy][99.5])
	assert.Equal(t, 4.0, b.levels[bookv1.SideSell][100.5])
}

// open → partial match → match of the remainder must leave the level equal to
// the sum of the surviving orders, with no done message required.
func TestBuilder_MatchLifecycle(t *testing.T) {
	b := seededBuilder(t, eventbus.New(16))

	b.applyMessage(bookv1.OrderMessage{
		Type: bookv1.OrderMessageOpen, OrderID: "b4", Side: bookv1.SideBuy, Price: 100.0, Size: 1.5,
	})
	require.Equal(t, 6.5, b.levels[bookv1.SideBuy][100.0])

	b.applyMessage(bookv1.OrderMessage{
		Type: bookv1.OrderMessageMatch, MakerOrderID: "b4", Size: 0.5,
	})
	assert.Equal(t, 6.0, b.levels[bookv1.SideBuy][100.0])
	assert.Equal(t, 1.0, b.orders["b4"].size)

	b.applyMessage(bookv1.OrderMessage{
		Type: bookv1.OrderMessageMatch, MakerOrderID: "b4", Size: 1.0,
	})
	assert.NotContains(t, b.orders, "b4", "fully consumed order leaves the book")
	assert.Equal(t, 5.0, b.levels[bookv1.SideBuy][100.0], "level equals the sum of surviving orders")

	var sum float64
	for _, order := range b.orders {
		if order.side == bookv1.SideBuy && order.price == 100.0 {
			sum += order.size
		}
	}
	assert.Equal(t, sum, b.levels[bookv1.SideBuy][100.0])
}

func TestBuilder_Done_RemovesRemainingQuantity(t *testing.T) {
	b := seededBuilder(t, eventbus.New(16))

	b.applyMessage(bookv1.OrderMessage{Type: bookv1.OrderMessageDone, OrderID: "a1"})
	assert.NotContains(t, b.orders, "a1")
	assert.NotContains(t, b.levels[bookv1.SideSell], 100.5, "emptied level is pruned")

	// done for an unknown order is ignored
	b.applyMessage(bookv1.OrderMessage{Type: bookv1.OrderMessageDone, OrderID: "ghost"})
	assert.Len(t, b.orders, 3)
}

func TestBuilder_Change_AppliesDeltaToLevel(t *testing.T) {
	b := seededBuilder(t, eventbus.New(16))

	b.applyMessage(bookv1.OrderMessage{
		Type: bookv1.OrderMessageChange, OrderID: "b1", NewSize: 0.5,
	})
	assert.Equal(t, 0.5, b.orders["b1"].size)
	assert.Equal(t, 3.5, b.levels[bookv1.SideBuy][100.0])

	b.applyMessage(bookv1.OrderMessage{
		Type: bookv1.OrderMessageChange, OrderID: "b1", NewSize: 0,
	})
	assert.NotContains(t, b.orders, "b1", "size change to zero removes the order")
	assert.Equal(t, 3.0, b.levels[bookv1.SideBuy][100.0])
}

func TestBuilder_ReceivedAndUnknownMatch_AreNoOps(t *testing.T) {
	b := seededBuilder(t, eventbus.New(16))

	b.applyMessage(bookv1.OrderMessage{Type: bookv1.OrderMessageReceived, OrderID: "b9"})
	b.applyMessage(bookv1.OrderMessage{Type: bookv1.OrderMessageMatch, MakerOrderID: "ghost", Size: 1})

	assert.Len(t, b.orders, 4)
	assert.Equal(t, 5.0, b.levels[bookv1.SideBuy][100.0])
}

func TestBuilder_PublishState_CarriesOrderCount(t *testing.T) {
	bus := eventbus.New(16)
	b := seededBuilder(t, bus)

	require.NoError(t, b.publishState(context.Background(), 777))

	event, err := bus.Next(context.Background())
	require.NoError(t, err)
	state := event.BookState
	assert.Equal(t, bookv1.KindL3, state.Kind)
	assert.Equal(t, 4, state.OrderCount)
	assert.Equal(t, 100.0, state.BestBid)
	assert.Equal(t, 100.5, state.BestAsk)
	assert.Less(t, state.BestBid, state.BestAsk)
}

// A live message jumping past the cursor's successor must end the epoch with
// a gap and increment the resync counter.
func TestBuilder_Run_SequenceGapTriggersResync(t *testing.T) {
	first := &fakeStream{messages: make(chan bookv1.OrderMessage, 8)}
	first.messages <- bookv1.OrderMessage{
		Type: bookv1.OrderMessageOpen, Sequence: 53,
		OrderID: "n1", Side: bookv1.SideBuy, Price: 99.0, Size: 1,
	}

	second := &fakeStream{messages: make(chan bookv1.OrderMessage, 8)}

	feed := &fakeFeed{
		streams: []*fakeStream{first, second},
		snapshot: &bookv1.OrderBookSnapshot{
			Sequence: 51,
			Bids:     []bookv1.OrderEntry{{OrderID: "b1", Price: 100.0, Size: 1}},
			Asks:     []bookv1.OrderEntry{{OrderID: "a1", Price: 100.5, Size: 1}},
		},
	}
	b := newTestBuilder(t, feed, eventbus.New(64), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	require.Eventually(t, func() bool {
		return b.ResyncCount() >= 1
	}, 2*time.Second, 10*time.Millisecond, "sequence 53 after 51 must resync")

	require.Eventually(t, func() bool {
		feed.mu.Lock()
		defer feed.mu.Unlock()
		return feed.dials >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBuilder_RunEpoch_IgnoresStaleSequences(t *testing.T) {
	stream := &fakeStream{messages: make(chan bookv1.OrderMessage, 8)}
	// covered by the snapshot: discarded without touching the book
	stream.messages <- bookv1.OrderMessage{
		Type: bookv1.OrderMessageDone, Sequence: 50, OrderID: "b1",
	}
	// contiguous: applied
	stream.messages <- bookv1.OrderMessage{
		Type: bookv1.OrderMessageOpen, Sequence: 52,
		OrderID: "n1", Side: bookv1.SideSell, Price: 101.0, Size: 2,
	}

	feed := &fakeFeed{
		streams: []*fakeStream{stream},
		snapshot: &bookv1.OrderBookSnapshot{
			Sequence: 51,
			Bids:     []bookv1.OrderEntry{{OrderID: "b1", Price: 100.0, Size: 1}},
			Asks:     []bookv1.OrderEntry{{OrderID: "a1", Price: 100.5, Size: 1}},
		},
	}
	bus := eventbus.New(64)
	b := newTestBuilder(t, feed, bus, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.runEpoch(ctx) }()

	event, err := bus.Next(contextWithTimeout(t, 2*time.Second))
	require.NoError(t, err)
	cancel()
	<-done

	state := event.BookState
	assert.Equal(t, 100.0, state.BestBid, "stale done for b1 must not have applied")
	assert.Equal(t, 3, state.OrderCount)
	assert.Equal(t, int64(52), b.lastSequence)
}

// Snapshot failures past the retry budget degrade to level-2 polling instead
// of stalling; published states are tagged KindL2 and no gap is ever raised.
func TestBuilder_Run_DegradesToL2Fallback(t *testing.T) {
	stream := &fakeStream{messages: make(chan bookv1.OrderMessage, 8)}
	feed := &fakeFeed{
		streams:     []*fakeStream{stream},
		snapshotErr: io.ErrUnexpectedEOF,
		l2Snapshot: &bookv1.DepthSnapshot{
			Bids: []bookv1.PriceQty{{Price: 100.0, Qty: 1}},
			Asks: []bookv1.PriceQty{{Price: 100.5, Qty: 2}},
		},
	}
	bus := eventbus.New(64)
	b := newTestBuilder(t, feed, bus, Config{
		AllowFallback:       true,
		SnapshotRetryBudget: 1,
		FallbackPoll:        10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	event, err := bus.Next(contextWithTimeout(t, 2*time.Second))
	require.NoError(t, err)
	state := event.BookState
	assert.Equal(t, bookv1.KindL2, state.Kind)
	assert.Equal(t, 100.0, state.BestBid)
	assert.Equal(t, 100.5, state.BestAsk)
	assert.Zero(t, state.OrderCount)
}

func contextWithTimeout(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}
