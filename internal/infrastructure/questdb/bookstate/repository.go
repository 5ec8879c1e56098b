package bookstate

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	bookv1 "github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/domain/book/v1"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/questdb"
)

// Repository represents the repository for book-state rows.
type Repository struct {
	client questdb.QuestDBClient
}

var _ BookStateRepository = (*Repository)(nil)

// NewRepository creates a new book-state repository.
func NewRepository(client questdb.QuestDBClient) *Repository {
	return &Repository{
		client: client,
	}
}

// Store stores a single book-state row.
func (r *Repository) Store(ctx context.Context, state *BookState) error {
	query := `INSERT INTO book_states (timestamp, ts_exchange_ms, venue, symbol, kind, best_bid, best_ask, bids, asks, order_count)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	err := r.client.Exec(ctx, query,
		state.Timestamp, state.TsExchangeMs, state.Venue, state.Symbol, state.Kind,
		state.BestBid, state.BestAsk, state.Bids, state.Asks, state.OrderCount)

	if err != nil {
		return fmt.Errorf("failed to store book state: %w", err)
	}

	return nil
}

// StoreBatch stores a batch of book-state rows.
func (r *Repository) StoreBatch(ctx context.Context, states []*BookState) error {
	if len(states) == 0 {
		return nil
	}

	// Use CopyFrom for better performance with large batches
	_, err := r.client.CopyFrom(
		ctx,
		pgx.Identifier{"book_states"},
		[]string{"timestamp", "ts_exchange_ms", "venue", "symbol", "kind", "best_bid", "best_ask", "bids", "asks", "order_count"},
		pgx.CopyFromSlice(len(states), func(i int) ([]any, error) {
			state := states[i]
			return []any{
				state.Timestamp,
				state.TsExchangeMs,
				state.Venue,
				state.Symbol,
				state.Kind,
				state.BestBid,
				state.BestAsk,
				state.Bids,
				state.Asks,
				state.OrderCount,
			}, nil
		}),
	)

	if err != nil {
		return fmt.Errorf("failed to copy book states: %w", err)
	}

	return nil
}

// GetByFilter retrieves book-state rows by filter.
func (r *Repository) GetByFilter(ctx context.Context, filter Filter) ([]*BookState, error) {
	query := "SELECT timestamp, ts_exchange_ms, venue, symbol, kind, best_bid, best_ask, bids, asks, order_count FROM book_states WHERE 1=1"
	args := []interface{}{}
	argIndex := 1

	if filter.Venue != "" {
		query += fmt.Sprintf(" AND venue = $%d", argIndex)
		args = append(args, filter.Venue)
		argIndex++
	}

	if filter.Symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", argIndex)
		args = append(args, filter.Symbol)
		argIndex++
	}

	if filter.From != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argIndex)
		args = append(args, *filter.From)
		argIndex++
	}

	if filter.To != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argIndex)
		args = append(args, *filter.To)
		argIndex++
	}

	query += " ORDER BY timestamp DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
	}

	rows, err := r.client.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query book states: %w", err)
	}
	defer rows.Close()

	var states []*BookState
	for rows.Next() {
		state := &BookState{}
		err := rows.Scan(&state.Timestamp, &state.TsExchangeMs, &state.Venue, &state.Symbol, &state.Kind,
			&state.BestBid, &state.BestAsk, &state.Bids, &state.Asks, &state.OrderCount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book state: %w", err)
		}
		states = append(states, state)
	}

	return states, nil
}

// GetLatestByVenue retrieves the most recent book-state row for a venue/symbol.
func (r *Repository) GetLatestByVenue(ctx context.Context, venue, symbol string) (*BookState, error) {
	query := `SELECT timestamp, ts_exchange_ms, venue, symbol, kind, best_bid, best_ask, bids, asks, order_count
			  FROM book_states WHERE venue = $1 AND symbol = $2 ORDER BY timestamp DESC LIMIT 1`

	row := r.client.QueryRow(ctx, query, venue, symbol)

	state := &BookState{}
	err := row.Scan(&state.Timestamp, &state.TsExchangeMs, &state.Venue, &state.Symbol, &state.Kind,
		&state.BestBid, &state.BestAsk, &state.Bids, &state.Asks, &state.OrderCount)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest book state: %w", err)
	}

	return state, nil
}

// StoreRows converts flattened rows to entities and batch-inserts them. This
// is the sink tee entry point.
func (r *Repository) StoreRows(ctx context.Context, rows []bookv1.Row) error {
	states := make([]*BookState, 0, len(rows))
	for _, row := range rows {
		states = append(states, &BookState{
			Timestamp:    time.UnixMilli(row.TsMs).UTC(),
			TsExchangeMs: row.TsExchangeMs,
			Venue:        row.Venue,
			Symbol:       row.Symbol,
			Kind:         string(row.Kind),
			BestBid:      row.BestBid,
			BestAsk:      row.BestAsk,
			Bids:         row.Bids,
			Asks:         row.Asks,
			OrderCount:   row.L3OrderCount,
		})
	}
	return r.StoreBatch(ctx, states)
}

// Name identifies the tee in sink logs.
func (r *Repository) Name() string { return "questdb" }
