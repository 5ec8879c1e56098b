package bookv1

import "context"

// PriceQty is one (price, quantity) pair of a snapshot or diff entry.
type PriceQty struct {
	Price float64
	Qty   float64
}

// DepthUpdate is one incremental diff of an aggregated book. FirstUpdateID
// and FinalUpdateID delimit the update-id range the diff covers; a quantity
// of zero deletes the level, a nonzero quantity replaces it.
type DepthUpdate struct {
	FirstUpdateID int64 // start of the covered range (U)
	FinalUpdateID int64 // end of the covered range (u)
	TsExchangeMs  int64
	Bids          []PriceQty
	Asks          []PriceQty
}

// DepthSnapshot is a point-in-time aggregated book carrying the update id it
// is valid through.
type DepthSnapshot struct {
	LastUpdateID int64
	Bids         []PriceQty
	Asks         []PriceQty
}

// DiffStream is one live diff connection. Recv blocks until the next diff is
// available; malformed frames are skipped inside the stream, never surfaced.
type DiffStream interface {
	Recv(ctx context.Context) (DepthUpdate, error)
	Close() error
}

// DiffFeed is a venue serving an aggregated diff stream plus a REST snapshot,
// the two halves the L2 builder bridges.
type DiffFeed interface {
	Venue() string
	Symbol() string
	Dial(ctx context.Context) (DiffStream, error)
	Snapshot(ctx context.Context) (*DepthSnapshot, error)
}

// OrderMessageType discriminates order lifecycle messages.
type OrderMessageType string

const (
	// OrderMessageReceived acknowledges an order entering the venue; a no-op for the book.
	OrderMessageReceived OrderMessageType = "received"
	// OrderMessageOpen inserts a resting order.
	OrderMessageOpen OrderMessageType = "open"
	// OrderMessageMatch reduces the maker order by the traded size.
	OrderMessageMatch OrderMessageType = "match"
	// OrderMessageDone removes an order outright.
	OrderMessageDone OrderMessageType = "done"
	// OrderMessageChange adjusts a resting order's size in place.
	OrderMessageChange OrderMessageType = "change"
)

// OrderMessage is one order lifecycle event. Sequence is the venue's
// monotonic per-product sequence number. Field population depends on Type:
// open carries OrderID/Side/Price/Size, match carries MakerOrderID/Size,
// done carries OrderID, change carries OrderID/NewSize.
type OrderMessage struct {
	Type         OrderMessageType
	Sequence     int64
	OrderID      string
	MakerOrderID string
	Side         Side
	Price        float64
	Size         float64
	NewSize      float64
	TsExchangeMs int64
}

// OrderEntry is one live order of a level-3 snapshot.
type OrderEntry struct {
	OrderID string
	Price   float64
	Size    float64
}

// OrderBookSnapshot is a point-in-time order-level book carrying the sequence
// number it is valid through.
type OrderBookSnapshot struct {
	Sequence int64
	Bids     []OrderEntry
	Asks     []OrderEntry
}

// OrderStream is one live order-event connection.
type OrderStream interface {
	Recv(ctx context.Context) (OrderMessage, error)
	Close() error
}

// OrderFeed is a venue serving a full order-event stream plus level-3 and
// level-2 snapshots. The level-2 snapshot backs the builder's degraded
// polling fallback.
type OrderFeed interface {
	Venue() string
	Symbol() string
	Dial(ctx context.Context) (OrderStream, error)
	Snapshot(ctx context.Context) (*OrderBookSnapshot, error)
	SnapshotL2(ctx context.Context) (*DepthSnapshot, error)
}
