package pagestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	bookv1 "github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/domain/book/v1"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/errors"
)

const latestKey = "LATEST"

// Store keeps row pages in a pebble keyspace. Pages live under
// <session>/<prefix>/<bucket-ms> with the bucket zero-padded so lexical key
// order equals chronological order; the value is a JSON row array. A single
// LATEST key points at the most recent session so downstream tooling can find
// current data without listing sessions.
type Store struct {
	db      *pebble.DB
	session string
	prefix  string
}

// Open opens (or creates) a pebble database at dir scoped to one session.
func Open(dir, session, prefix string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.NewCollectorError(errors.PageStoreError, "open page store").Wrap(err)
	}
	return NewWithDB(db, session, prefix), nil
}

// NewWithDB wraps an already-open pebble database, used by tests running on
// an in-memory filesystem.
func NewWithDB(db *pebble.DB, session, prefix string) *Store {
	return &Store{db: db, session: session, prefix: prefix}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReadPage returns the rows stored for the bucket, or an empty slice when the
// page has never been written.
func (s *Store) ReadPage(ctx context.Context, bucketMs int64) ([]bookv1.Row, error) {
	value, closer, err := s.db.Get(s.pageKey(bucketMs))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, nil
		}
		return nil, errors.NewCollectorError(errors.PageStoreError,
			fmt.Sprintf("get page %d", bucketMs)).Wrap(err)
	}
	defer closer.Close()

	var rows []bookv1.Row
	if err := json.Unmarshal(value, &rows); err != nil {
		return nil, errors.NewCollectorError(errors.PageStoreError,
			fmt.Sprintf("decode page %d", bucketMs)).Wrap(err)
	}
	return rows, nil
}

// WritePage replaces the bucket's page with rows, fsynced before returning.
func (s *Store) WritePage(ctx context.Context, bucketMs int64, rows []bookv1.Row) error {
	value, err := json.Marshal(rows)
	if err != nil {
		return errors.NewCollectorError(errors.PageStoreError,
			fmt.Sprintf("encode page %d", bucketMs)).Wrap(err)
	}
	if err := s.db.Set(s.pageKey(bucketMs), value, pebble.Sync); err != nil {
		return errors.NewCollectorError(errors.PageStoreError,
			fmt.Sprintf("set page %d", bucketMs)).Wrap(err)
	}
	return nil
}

// Buckets lists the bucket start times written for this session, ascending.
func (s *Store) Buckets(ctx context.Context) ([]int64, error) {
	lower := []byte(fmt.Sprintf("%s/%s/", s.session, s.prefix))
	upper := []byte(fmt.Sprintf("%s/%s/~", s.session, s.prefix))
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, errors.NewCollectorError(errors.PageStoreError, "list pages").Wrap(err)
	}
	defer iter.Close()

	var buckets []int64
	for iter.First(); iter.Valid(); iter.Next() {
		var bucketMs int64
		suffix := bytes.TrimPrefix(iter.Key(), lower)
		if _, err := fmt.Sscanf(string(suffix), "%d", &bucketMs); err != nil {
			return nil, errors.NewCollectorError(errors.PageStoreError,
				fmt.Sprintf("parse page key %q", iter.Key())).Wrap(err)
		}
		buckets = append(buckets, bucketMs)
	}
	if err := iter.Error(); err != nil {
		return nil, errors.NewCollectorError(errors.PageStoreError, "iterate pages").Wrap(err)
	}
	return buckets, nil
}

// MarkLatest points the LATEST key at this store's session.
func (s *Store) MarkLatest(ctx context.Context) error {
	if err := s.db.Set([]byte(latestKey), []byte(s.session), pebble.Sync); err != nil {
		return errors.NewCollectorError(errors.PageStoreError, "mark latest session").Wrap(err)
	}
	return nil
}

// LatestSession returns the session id the LATEST key points at, empty when
// no session was ever marked.
func (s *Store) LatestSession(ctx context.Context) (string, error) {
	value, closer, err := s.db.Get([]byte(latestKey))
	if err != nil {
		if err == pebble.ErrNotFound {
			return "", nil
		}
		return "", errors.NewCollectorError(errors.PageStoreError, "get latest session").Wrap(err)
	}
	defer closer.Close()
	return string(value), nil
}

func (s *Store) pageKey(bucketMs int64) []byte {
	return []byte(fmt.Sprintf("%s/%s/%020d", s.session, s.prefix, bucketMs))
}
