package bookstate

import (
	"context"

	bookv1 "github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/domain/book/v1"
)

// BookStateRepository is the interface for the book-state repository. It
// doubles as the sink tee surface via StoreRows and Name.
type BookStateRepository interface {
	GetByFilter(ctx context.Context, filter Filter) ([]*BookState, error)
	GetLatestByVenue(ctx context.Context, venue, symbol string) (*BookState, error)
	Store(ctx context.Context, state *BookState) error
	StoreBatch(ctx context.Context, states []*BookState) error
	StoreRows(ctx context.Context, rows []bookv1.Row) error
	Name() string
}
