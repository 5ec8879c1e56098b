package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	bookv1 "github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/domain/book/v1"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/config"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/errors"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/logger"
)

const (
	venueName       = "binance"
	pingInterval    = 20 * time.Second
	snapshotTimeout = 5 * time.Second
)

// Feed serves the aggregated diff stream and REST depth snapshot for one
// Binance spot symbol.
type Feed struct {
	config     config.BinanceConfig
	logger     logger.Interface
	httpClient *http.Client
}

// NewFeed creates a Binance diff feed.
func NewFeed(cfg config.BinanceConfig, log logger.Interface) *Feed {
	return &Feed{
		config:     cfg,
		logger:     log,
		httpClient: &http.Client{Timeout: snapshotTimeout},
	}
}

// Venue returns the venue identifier.
func (f *Feed) Venue() string { return venueName }

// Symbol returns the configured symbol.
func (f *Feed) Symbol() string { return f.config.Symbol }

// Dial opens the 100ms diff websocket. The connection closes when ctx is
// cancelled, which unblocks any pending read.
func (f *Feed) Dial(ctx context.Context) (bookv1.DiffStream, error) {
	url := fmt.Sprintf("%s/%s@depth@100ms", f.config.WSURL, strings.ToLower(f.config.Symbol))
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
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

// Snapshot fetches the REST depth snapshot at the configured depth.
func (f *Feed) Snapshot(ctx context.Context) (*bookv1.DepthSnapshot, error) {
	url := fmt.Sprintf("%s?symbol=%s&limit=%d", f.config.RESTURL, f.config.Symbol, f.config.SnapshotDepth)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("depth snapshot status %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		LastUpdateID int64       `json:"lastUpdateId"`
		Bids         [][2]string `json:"bids"`
		Asks         [][2]string `json:"asks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode depth snapshot: %w", err)
	}

	bids, err := parseLevels(payload.Bids)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot bids: %w", err)
	}
	asks, err := parseLevels(payload.Asks)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot asks: %w", err)
	}
	return &bookv1.DepthSnapshot{
		LastUpdateID: payload.LastUpdateID,
		Bids:         bids,
		Asks:         asks,
	}, nil
}

// keepAlive pings the connection on an interval; the venue drops idle
// connections that never pong.
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

// Recv blocks until the next diff arrives. Frames that fail to parse are
// logged and skipped; the stream only surfaces transport errors.
func (s *stream) Recv(ctx context.Context) (bookv1.DepthUpdate, error) {
	for {
		if err := ctx.Err(); err != nil {
			return bookv1.DepthUpdate{}, err
		}
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return bookv1.DepthUpdate{}, ctx.Err()
			}
			return bookv1.DepthUpdate{}, err
		}

		update, err := parseDiff(message)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping malformed diff frame",
				logger.Field{Key: "venue", Value: venueName},
				logger.Field{Key: "code", Value: string(errors.MalformedMessageError)},
				logger.Field{Key: "error", Value: err.Error()},
			)
			continue
		}
		if update == nil {
			continue
		}
		return *update, nil
	}
}

func (s *stream) Close() error {
	s.cancel()
	return s.conn.Close()
}

type diffMessage struct {
	Event         string      `json:"e"`
	EventTimeMs   int64       `json:"E"`
	FirstUpdateID int64       `json:"U"`
	FinalUpdateID int64       `json:"u"`
	Bids          [][2]string `json:"b"`
	Asks          [][2]string `json:"a"`
}

// parseDiff decodes one websocket frame. Non-depthUpdate frames (subscribe
// acks and the like) return nil without error.
func parseDiff(message []byte) (*bookv1.DepthUpdate, error) {
	var msg diffMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return nil, err
	}
	if msg.Event != "depthUpdate" {
		return nil, nil
	}

	bids, err := parseLevels(msg.Bids)
	if err != nil {
		return nil, fmt.Errorf("parse diff bids: %w", err)
	}
	asks, err := parseLevels(msg.Asks)
	if err != nil {
		return nil, fmt.Errorf("parse diff asks: %w", err)
	}
	return &bookv1.DepthUpdate{
		FirstUpdateID: msg.FirstUpdateID,
		FinalUpdateID: msg.FinalUpdateID,
		TsExchangeMs:  msg.EventTimeMs,
		Bids:          bids,
		Asks:          asks,
	}, nil
}
