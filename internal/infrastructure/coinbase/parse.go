package coinbase

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	bookv1 "github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/domain/book/v1"
)

type fullMessage struct {
	Type          string `json:"type"`
	Sequence      int64  `json:"sequence"`
	OrderID       string `json:"order_id"`
	MakerOrderID  string `json:"maker_order_id"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	Size          string `json:"size"`
	RemainingSize string `json:"remaining_size"`
	NewSize       string `json:"new_size"`
	Time          string `json:"time"`
}

// parseMessage decodes one full-channel frame into an order lifecycle
// message. Subscription acks, heartbeats and other administrative frames
// return nil without error.
func parseMessage(message []byte) (*bookv1.OrderMessage, error) {
	var msg fullMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return nil, err
	}

	var msgType bookv1.OrderMessageType
	switch msg.Type {
	case "received":
		msgType = bookv1.OrderMessageReceived
	case "open":
		msgType = bookv1.OrderMessageOpen
	case "match":
		msgType = bookv1.OrderMessageMatch
	case "done":
		msgType = bookv1.OrderMessageDone
	case "change":
		msgType = bookv1.OrderMessageChange
	default:
		return nil, nil
	}

	out := &bookv1.OrderMessage{
		Type:         msgType,
		Sequence:     msg.Sequence,
		OrderID:      msg.OrderID,
		MakerOrderID: msg.MakerOrderID,
		Side:         bookv1.Side(msg.Side),
		TsExchangeMs: parseTimeMs(msg.Time),
	}

	var err error
	if out.Price, err = parseOptionalFloat(msg.Price); err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	// open frames carry the resting quantity as remaining_size
	size := msg.Size
	if msgType == bookv1.OrderMessageOpen && msg.RemainingSize != "" {
		size = msg.RemainingSize
	}
	if out.Size, err = parseOptionalFloat(size); err != nil {
		return nil, fmt.Errorf("parse size: %w", err)
	}
	if out.NewSize, err = parseOptionalFloat(msg.NewSize); err != nil {
		return nil, fmt.Errorf("parse new_size: %w", err)
	}
	return out, nil
}

func parseOptionalFloat(value string) (float64, error) {
	if value == "" {
		return 0, nil
	}
	return strconv.ParseFloat(value, 64)
}

// parseTimeMs converts the venue's RFC3339 timestamp, 0 when absent or
// unparseable.
func parseTimeMs(value string) int64 {
	if value == "" {
		return 0
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return 0
	}
	return ts.UnixMilli()
}

// parseOrderEntries decodes level-3 book entries of the form
// [price, size, order_id].
func parseOrderEntries(entries [][]json.RawMessage) ([]bookv1.OrderEntry, error) {
	out := make([]bookv1.OrderEntry, 0, len(entries))
	for _, entry := range entries {
		if len(entry) < 3 {
			return nil, fmt.Errorf("level-3 entry has %d fields, want 3", len(entry))
		}
		price, err := parseRawFloat(entry[0])
		if err != nil {
			return nil, err
		}
		size, err := parseRawFloat(entry[1])
		if err != nil {
			return nil, err
		}
		var orderID string
		if err := json.Unmarshal(entry[2], &orderID); err != nil {
			return nil, fmt.Errorf("parse order id: %w", err)
		}
		out = append(out, bookv1.OrderEntry{OrderID: orderID, Price: price, Size: size})
	}
	return out, nil
}

// parseDepthEntries decodes level-2 book entries of the form
// [price, size, num_orders]; the order count is ignored.
func parseDepthEntries(entries [][]json.RawMessage) ([]bookv1.PriceQty, error) {
	out := make([]bookv1.PriceQty, 0, len(entries))
	for _, entry := range entries {
		if len(entry) < 2 {
			return nil, fmt.Errorf("level-2 entry has %d fields, want at least 2", len(entry))
		}
		price, err := parseRawFloat(entry[0])
		if err != nil {
			return nil, err
		}
		qty, err := parseRawFloat(entry[1])
		if err != nil {
			return nil, err
		}
		out = append(out, bookv1.PriceQty{Price: price, Qty: qty})
	}
	return out, nil
}

// parseRawFloat accepts both string-encoded and bare JSON numbers.
func parseRawFloat(raw json.RawMessage) (float64, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return strconv.ParseFloat(asString, 64)
	}
	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err != nil {
		return 0, fmt.Errorf("parse numeric field %s: %w", raw, err)
	}
	return asNumber, nil
}
