package coinbase

import (
	"encoding/json"
	"testing"

	bookv1 "github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/domain/book/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage_Open(t *testing.T) {
	frame := []byte(`{
		"type": "open",
		"time": "2024-04-05T10:15:30.123456Z",
		"product_id": "BTC-USD",
		"sequence": 10,
		"order_id": "d50ec984-77a8-460a-b958-66f114b0de9b",
		"price": "200.2",
		"remaining_size": "1.01",
		"side": "sell"
	}`)

	msg, err := parseMessage(frame)
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, bookv1.OrderMessageOpen, msg.Type)
	assert.Equal(t, int64(10), msg.Sequence)
	assert.Equal(t, "d50ec984-77a8-460a-b958-66f114b0de9b", msg.OrderID)
	assert.Equal(t, bookv1.SideSell, msg.Side)
	assert.Equal(t, 200.2, msg.Price)
	assert.Equal(t, 1.01, msg.Size)
	assert.NotZero(t, msg.TsExchangeMs)
}

func TestParseMessage_Match(t *testing.T) {
	frame := []byte(`{
		"type": "match",
		"sequence": 50,
		"maker_order_id": "ac928c66-ca53-498f-9c13-a110027a60e8",
		"taker_order_id": "132fb6ae-456b-4654-b4e0-d681ac05cea1",
		"size": "5.23512",
		"price": "400.23",
		"side": "sell"
	}`)

	msg, err := parseMessage(frame)
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, bookv1.OrderMessageMatch, msg.Type)
	assert.Equal(t, "ac928c66-ca53-498f-9c13-a110027a60e8", msg.MakerOrderID)
	assert.Equal(t, 5.23512, msg.Size)
}

func TestParseMessage_Change(t *testing.T) {
	frame := []byte(`{
		"type": "change",
		"sequence": 80,
		"order_id": "ac928c66-ca53-498f-9c13-a110027a60e8",
		"new_size": "5.23512",
		"old_size": "12.234412",
		"price": "400.23",
		"side": "sell"
	}`)

	msg, err := parseMessage(frame)
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, bookv1.OrderMessageChange, msg.Type)
	assert.Equal(t, 5.23512, msg.NewSize)
}

func TestParseMessage_AdministrativeFramesSkipped(t *testing.T) {
	for _, frame := range []string{
		`{"type": "subscriptions", "channels": []}`,
		`{"type": "heartbeat", "sequence": 90}`,
	} {
		msg, err := parseMessage([]byte(frame))
		require.NoError(t, err)
		assert.Nil(t, msg)
	}
}

func TestParseMessage_Malformed(t *testing.T) {
	_, err := parseMessage([]byte(`{"type": "open", "price": "not-a-number"}`))
	assert.Error(t, err)

	_, err = parseMessage([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseOrderEntries(t *testing.T) {
	var entries [][]json.RawMessage
	require.NoError(t, json.Unmarshal(
		[]byte(`[["295.96", "0.05", "da863862-25f4-4868-ac41-005d11ab0a5f"]]`), &entries))

	got, err := parseOrderEntries(entries)
	require.NoError(t, err)
	assert.Equal(t, []bookv1.OrderEntry{
		{OrderID: "da863862-25f4-4868-ac41-005d11ab0a5f", Price: 295.96, Size: 0.05},
	}, got)

	_, err = parseOrderEntries([][]json.RawMessage{{json.RawMessage(`"1.0"`)}})
	assert.Error(t, err, "short entry must fail")
}

func TestParseDepthEntries(t *testing.T) {
	var entries [][]json.RawMessage
	require.NoError(t, json.Unmarshal(
		[]byte(`[["295.96", "4.39088265", 2], ["295.97", "25.23", 12]]`), &entries))

	got, err := parseDepthEntries(entries)
	require.NoError(t, err)
	assert.Equal(t, []bookv1.PriceQty{
		{Price: 295.96, Qty: 4.39088265},
		{Price: 295.97, Qty: 25.23},
	}, got)
}

func TestParseTimeMs(t *testing.T) {
	assert.Zero(t, parseTimeMs(""))
	assert.Zero(t, parseTimeMs("garbage"))
	assert.Equal(t, int64(1712312130123), parseTimeMs("2024-04-05T10:15:30.123Z"))
}
