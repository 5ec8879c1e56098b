package session

import (
	"context"
	"encoding/json"
	"fmt"

	bookv1 "github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/domain/book/v1"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/redis"
	"github.com/oklog/ulid/v2"
)

const (
	latestSessionKey = "session:latest"
	latestStateKey   = "state:latest:%s:%s"
)

// NewID generates a fresh session id. ULIDs sort lexically by creation time,
// so session keys in any store list newest-last.
func NewID() string {
	return ulid.Make().String()
}

// Store mirrors the current session id and the most recent book state per
// venue into redis, which is how downstream tooling finds live data without
// touching the page store.
type Store struct {
	client  redis.Client
	session string
}

// NewStore creates a session store bound to one session id.
func NewStore(client redis.Client, session string) *Store {
	return &Store{client: client, session: session}
}

// MarkLatest records this store's session as the current one.
func (s *Store) MarkLatest(ctx context.Context) error {
	return s.client.Set(ctx, latestSessionKey, s.session, 0)
}

// LatestSession returns the most recently marked session id, empty when none
// was ever marked.
func (s *Store) LatestSession(ctx context.Context) (string, error) {
	return s.client.Get(ctx, latestSessionKey)
}

// SetLatestState mirrors a freshly published state under its venue/symbol key.
func (s *Store) SetLatestState(ctx context.Context, state *bookv1.BookState) error {
	value, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode latest state: %w", err)
	}
	return s.client.Set(ctx, fmt.Sprintf(latestStateKey, state.Venue, state.Symbol), string(value), 0)
}

// LatestState returns the most recent mirrored state for a venue/symbol, nil
// when none exists.
func (s *Store) LatestState(ctx context.Context, venue, symbol string) (*bookv1.BookState, error) {
	value, err := s.client.Get(ctx, fmt.Sprintf(latestStateKey, venue, symbol))
	if err != nil {
		return nil, err
	}
	if value == "" {
		return nil, nil
	}
	state := &bookv1.BookState{}
	if err := json.Unmarshal([]byte(value), state); err != nil {
		return nil, fmt.Errorf("failed to decode latest state: %w", err)
	}
	return state, nil
}
