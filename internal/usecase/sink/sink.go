package sink

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	bookv1 "github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/domain/book/v1"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/errors"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/logger"
)

// PageStore persists row pages keyed by bucket start time. Implementations
// must tolerate rewrites of the same bucket.
type PageStore interface {
	// ReadPage returns the rows previously written for the bucket, or an
	// empty slice when the page does not exist yet.
	ReadPage(ctx context.Context, bucketMs int64) ([]bookv1.Row, error)
	// WritePage replaces the bucket's page with the given rows.
	WritePage(ctx context.Context, bucketMs int64, rows []bookv1.Row) error
}

// RowTee receives every flushed row batch in addition to the page store.
// Tee failures are logged and swallowed; only the page store is load-bearing.
type RowTee interface {
	StoreRows(ctx context.Context, rows []bookv1.Row) error
	Name() string
}

// Config holds the sink's tunables.
type Config struct {
	// BucketWindow is the span of one page, default 5 minutes.
	BucketWindow time.Duration
	// FlushInterval is the periodic flush cadence, default 5 seconds.
	FlushInterval time.Duration
}

// Sink buffers book-state rows per time bucket and flushes them into the page
// store with an idempotent read-merge-rewrite, so a crashed run re-flushing
// the same rows never duplicates them. A row landing in a new bucket flushes
// the previous bucket first; a timer flushes the current bucket regardless.
type Sink struct {
	store  PageStore
	tees   []RowTee
	logger logger.Interface
	config Config

	mu       sync.Mutex
	bucketMs int64
	buffer   []bookv1.Row
	rowCount int64
}

// New creates a sink writing into store, teeing flushed batches into tees.
func New(store PageStore, log logger.Interface, config Config, tees ...RowTee) *Sink {
	if config.BucketWindow <= 0 {
		config.BucketWindow = 5 * time.Minute
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}
	return &Sink{
		store:  store,
		tees:   tees,
		logger: log,
		config: config,
	}
}

// RowCount returns the number of rows accepted since the sink was created.
func (s *Sink) RowCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rowCount
}

// Add flattens a state into a row and buffers it, flushing the previous
// bucket when the row starts a new one. Rows that fail to encode are dropped
// with a log line; a page-store failure on rollover propagates.
func (s *Sink) Add(ctx context.Context, state *bookv1.BookState) error {
	row, err := bookv1.NewRow(state)
	if err != nil {
		s.logger.ErrorContext(ctx, errors.NewCollectorError(errors.RowEncodeError, "encode book state row").Wrap(err),
			logger.Field{Key: "venue", Value: state.Venue},
			logger.Field{Key: "symbol", Value: state.Symbol},
		)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.bucketFor(row.TsMs)
	if bucket != s.bucketMs && len(s.buffer) > 0 {
		if err := s.flushLocked(ctx); err != nil {
			return err
		}
	}
	s.bucketMs = bucket
	s.buffer = append(s.buffer, row)
	s.rowCount++
	return nil
}

// Flush writes the current buffer into its page. Safe to call with an empty
// buffer.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

// Run flushes on a timer until ctx is done, then performs a final flush so a
// graceful shutdown loses nothing. The final flush uses a fresh context
// because the run context is already cancelled.
func (s *Sink) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				return err
			}
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.Flush(flushCtx); err != nil {
				return err
			}
			return ctx.Err()
		}
	}
}

func (s *Sink) bucketFor(tsMs int64) int64 {
	window := s.config.BucketWindow.Milliseconds()
	return tsMs - tsMs%window
}

func (s *Sink) flushLocked(ctx context.Context) error {
	if len(s.buffer) == 0 {
		return nil
	}

	existing, err := s.store.ReadPage(ctx, s.bucketMs)
	if err != nil {
		return errors.NewCollectorError(errors.PageStoreError,
			fmt.Sprintf("read page %d", s.bucketMs)).Wrap(err)
	}
	merged := mergeRows(existing, s.buffer)
	if err := s.store.WritePage(ctx, s.bucketMs, merged); err != nil {
		return errors.NewCollectorError(errors.PageStoreError,
			fmt.Sprintf("write page %d", s.bucketMs)).Wrap(err)
	}

	for _, tee := range s.tees {
		if err := tee.StoreRows(ctx, s.buffer); err != nil {
			s.logger.WarnContext(ctx, fmt.Sprintf("row tee %s failed, continuing", tee.Name()),
				logger.Field{Key: "tee", Value: tee.Name()},
				logger.Field{Key: "rows", Value: len(s.buffer)},
				logger.Field{Key: "error", Value: err.Error()},
			)
		}
	}

	s.buffer = s.buffer[:0]
	return nil
}

// mergeRows unions two row sets, deduplicating on (ts_ms, venue) with the
// already-persisted row winning, ordered by ts_ms ascending then venue.
func mergeRows(existing, fresh []bookv1.Row) []bookv1.Row {
	type rowKey struct {
		tsMs  int64
		venue string
	}
	seen := make(map[rowKey]struct{}, len(existing)+len(fresh))
	merged := make([]bookv1.Row, 0, len(existing)+len(fresh))
	for _, rows := range [][]bookv1.Row{existing, fresh} {
		for _, row := range rows {
			key := rowKey{tsMs: row.TsMs, venue: row.Venue}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, row)
		}
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].TsMs != merged[j].TsMs {
			return merged[i].TsMs < merged[j].TsMs
		}
		return merged[i].Venue < merged[j].Venue
	})
	return merged
}
