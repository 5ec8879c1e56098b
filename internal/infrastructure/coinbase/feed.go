package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	bookv1 "github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/domain/book/v1"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/config"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/errors"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/logger"
)

const (
	venueName       = "coinbase"
	pingInterval    = 20 * time.Second
	snapshotTimeout = 5 * time.Second
)

// Feed serves the full order-event channel plus the level-3 and level-2 REST
// books for one Coinbase product.
type Feed struct {
	config     config.CoinbaseConfig
	logger     logger.Interface
	httpClient *http.Client
}

// NewFeed creates a Coinbase order feed.
func NewFeed(cfg config.CoinbaseConfig, log logger.Interface) *Feed {
	return &Feed{
		config:     cfg,
		logger:     log,
		httpClient: &http.Client{Timeout: snapshotTimeout},
	}
}

// Venue returns the venue identifier.
func (f *Feed) Venue() string { return venueName }

// Symbol returns the configured product id.
func (f *Feed) Symbol() string { return f.config.ProductID }

// Dial opens the websocket and subscribes to the full channel. The
// connection closes when ctx is cancelled, which unblocks any pending read.
func (f *Feed) Dial(ctx context.Context) (bookv1.OrderStream, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, f.config.WSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", f.config.WSURL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	subscribe := map[string]any{
		"type":        "subscribe",
		"product_ids": []string{f.config.ProductID},
		"channels":    []string{"full"},
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe full channel: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	go func() {
		<-streamCtx.Done()
		conn.Close()
	}()
	go keepAlive(streamCtx, conn)

	return &stream{
		conn:   conn,
		cancel: cancel,
		logger: f.logger,
	}, nil
}

// Snapshot fetches the level-3 REST book.
func (f *Feed) Snapshot(ctx context.Context) (*bookv1.OrderBookSnapshot, error) {
	var payload struct {
		Sequence int64               `json:"sequence"`
		Bids     [][]json.RawMessage `json:"bids"`
		Asks     [][]json.RawMessage `json:"asks"`
	}
	if err := f.fetchBook(ctx, 3, &payload); err != nil {
		return nil, err
	}

	bids, err := parseOrderEntries(payload.Bids)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot bids: %w", err)
	}
	asks, err := parseOrderEntries(payload.Asks)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot asks: %w", err)
	}
	return &bookv1.OrderBookSnapshot{
		Sequence: payload.Sequence,
		Bids:     bids,
		Asks:     asks,
	}, nil
}

// SnapshotL2 fetches the aggregated level-2 REST book backing the degraded
// polling mode.
func (f *Feed) SnapshotL2(ctx context.Context) (*bookv1.DepthSnapshot, error) {
	var payload struct {
		Sequence int64               `json:"sequence"`
		Bids     [][]json.RawMessage `json:"bids"`
		Asks     [][]json.RawMessage `json:"asks"`
	}
	if err := f.fetchBook(ctx, 2, &payload); err != nil {
		return nil, err
	}

	bids, err := parseDepthEntries(payload.Bids)
	if err != nil {
		return nil, fmt.Errorf("parse l2 bids: %w", err)
	}
	asks, err := parseDepthEntries(payload.Asks)
	if err != nil {
		return nil, fmt.Errorf("parse l2 asks: %w", err)
	}
	return &bookv1.DepthSnapshot{
		LastUpdateID: payload.Sequence,
		Bids:         bids,
		Asks:         asks,
	}, nil
}

func (f *Feed) fetchBook(ctx context.Context, level int, payload any) error {
	url := fmt.Sprintf("%s/%s/book?level=%d", f.config.RESTURL, f.config.ProductID, level)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "orderbook-collector")
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("book level %d status %d: %s", level, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(payload); err != nil {
		return fmt.Errorf("decode book level %d: %w", level, err)
	}
	return nil
}

func keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(snapshotTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

type stream struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	logger logger.Interface
}

// Recv blocks until the next order lifecycle message. Administrative frames
// are skipped silently, malformed frames are logged and skipped.
func (s *stream) Recv(ctx context.Context) (bookv1.OrderMessage, error) {
	for {
		if err := ctx.Err(); err != nil {
			return bookv1.OrderMessage{}, err
		}
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return bookv1.OrderMessage{}, ctx.Err()
			}
			return bookv1.OrderMessage{}, err
		}

		msg, err := parseMessage(message)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping malformed order frame",
				logger.Field{Key: "venue", Value: venueName},
				logger.Field{Key: "code", Value: string(errors.MalformedMessageError)},
				logger.Field{Key: "error", Value: err.Error()},
			)
			continue
		}
		if msg == nil {
			continue
		}
		return *msg, nil
	}
}

func (s *stream) Close() error {
	s.cancel()
	return s.conn.Close()
}
