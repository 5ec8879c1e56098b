package binance

import (
	"fmt"
	"strconv"

	bookv1 "github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/domain/book/v1"
)

// parseLevels converts the venue's string-decimal (price, qty) pairs.
func parseLevels(pairs [][2]string) ([]bookv1.PriceQty, error) {
	levels := make([]bookv1.PriceQty, 0, len(pairs))
	for _, pair := range pairs {
		price, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			return nil, fmt.Errorf("parse price %q: %w", pair[0], err)
		}
		qty, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			return nil, fmt.Errorf("parse qty %q: %w", pair[1], err)
		}
		levels = append(levels, bookv1.PriceQty{Price: price, Qty: qty})
	}
	return levels, nil
}
