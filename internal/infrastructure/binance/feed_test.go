package binance

import (
	"testing"

	bookv1 "github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/domain/book/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDiff(t *testing.T) {
	frame := []byte(`{
		"e": "depthUpdate",
		"E": 1712345678901,
		"s": "BTCUSDT",
		"U": 157,
		"u": 160,
		"b": [["0.0024", "10"], ["0.0022", "0"]],
		"a": [["0.0026", "100"]]
	}`)

	update, err := parseDiff(frame)
	require.NoError(t, err)
	require.NotNil(t, update)

	assert.Equal(t, int64(157), update.FirstUpdateID)
	assert.Equal(t, int64(160), update.FinalUpdateID)
	assert.Equal(t, int64(1712345678901), update.TsExchangeMs)
	assert.Equal(t, []bookv1.PriceQty{{Price: 0.0024, Qty: 10}, {Price: 0.0022, Qty: 0}}, update.Bids)
	assert.Equal(t, []bookv1.PriceQty{{Price: 0.0026, Qty: 100}}, update.Asks)
}

func TestParseDiff_NonDepthFrameSkipped(t *testing.T) {
	update, err := parseDiff([]byte(`{"result": null, "id": 1}`))
	require.NoError(t, err)
	assert.Nil(t, update)
}

func TestParseDiff_Malformed(t *testing.T) {
	_, err := parseDiff([]byte(`{"e": "depthUpdate", "b": [["not-a-number", "1"]]}`))
	assert.Error(t, err)

	_, err = parseDiff([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseLevels(t *testing.T) {
	levels, err := parseLevels([][2]string{{"100.5", "0.25"}})
	require.NoError(t, err)
	assert.Equal(t, []bookv1.PriceQty{{Price: 100.5, Qty: 0.25}}, levels)

	_, err = parseLevels([][2]string{{"1", "x"}})
	assert.Error(t, err)
}
