package bookstate

import (
	"time"
)

// BookState represents one persisted book-state row in QuestDB. Level arrays
// are kept as JSON strings, matching the page-store row layout.
type BookState struct {
	Timestamp    time.Time
	TsExchangeMs int64
	Venue        string
	Symbol       string
	Kind         string
	BestBid      float64
	BestAsk      float64
	Bids         string
	Asks         string
	OrderCount   int
}

// Filter represents the filter criteria for book-state queries.
type Filter struct {
	Venue  string
	Symbol string
	From   *time.Time
	To     *time.Time
	Limit  int
}
