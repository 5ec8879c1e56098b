package bookv1

import "encoding/json"

// Row is the persisted form of a BookState. Level arrays are stored as JSON
// strings so rows stay flat for columnar stores and message payloads.
type Row struct {
	TsMs         int64   `json:"ts_ms"`
	TsExchangeMs int64   `json:"ts_exchange_ms"`
	Venue        string  `json:"venue"`
	Symbol       string  `json:"symbol"`
	Kind         Kind    `json:"kind"`
	BestBid      float64 `json:"best_bid"`
	BestAsk      float64 `json:"best_ask"`
	Bids         string  `json:"bids"`
	Asks         string  `json:"asks"`
	L3OrderCount int     `json:"l3_order_count"`
}

// NewRow flattens a BookState into its persisted row form.
func NewRow(state *BookState) (Row, error) {
	bids, err := json.Marshal(state.Bids)
	if err != nil {
		return Row{}, err
	}
	asks, err := json.Marshal(state.Asks)
	if err != nil {
		return Row{}, err
	}
	return Row{
		TsMs:         state.TsLocalMs,
		TsExchangeMs: state.TsExchangeMs,
		Venue:        state.Venue,
		Symbol:       state.Symbol,
		Kind:         state.Kind,
		BestBid:      state.BestBid,
		BestAsk:      state.BestAsk,
		Bids:         string(bids),
		Asks:         string(asks),
		L3OrderCount: state.OrderCount,
	}, nil
}
