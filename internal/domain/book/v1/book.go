package bookv1

// Kind represents the fidelity of a reconstructed book.
type Kind string

const (
	// KindL2 is an aggregated (price, total quantity) view with no per-order detail.
	KindL2 Kind = "L2"
	// KindL3 is a full per-order view; multiple live orders can compose one price level.
	KindL3 Kind = "L3"
)

// Side represents the side of the book an order rests on.
type Side string

const (
	// SideBuy is the bid side.
	SideBuy Side = "buy"
	// SideSell is the ask side.
	SideSell Side = "sell"
)

// PriceLevel is one aggregated level of the book. For L2 the quantity is the
// latest diff's quantity; for L3 it is the sum of live order sizes at that price.
type PriceLevel struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

// BookState is an immutable snapshot of one venue/symbol's top levels at one
// instant. A fresh value is constructed on every applied update and handed to
// the bus; it is never mutated after construction.
//
// Invariants: each side's levels are price-unique with positive quantity,
// bids are price-descending, asks price-ascending, BestBid/BestAsk equal the
// first element of each side, and a state is only published when both sides
// are non-empty.
type BookState struct {
	Venue  string `json:"venue"`
	Symbol string `json:"symbol"`

	// TsExchangeMs is the venue's event timestamp in unix milliseconds,
	// 0 when the venue supplied none.
	TsExchangeMs int64 `json:"ts_exchange_ms"`
	// TsLocalMs is the local receipt timestamp in unix milliseconds.
	TsLocalMs int64 `json:"ts_local_ms"`

	Kind Kind `json:"kind"`

	BestBid float64      `json:"best_bid"`
	BestAsk float64      `json:"best_ask"`
	Bids    []PriceLevel `json:"bids"`
	Asks    []PriceLevel `json:"asks"`

	// OrderCount is the number of live orders backing the book, L3 only.
	// 0 for L2 states.
	OrderCount int `json:"order_count,omitempty"`
}
