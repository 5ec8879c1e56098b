package pagestore

import (
	"context"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	bookv1 "github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/domain/book/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memStore(t *testing.T, session string) *Store {
	t.Helper()
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	store := NewWithDB(db, session, "book_states")
	t.Cleanup(func() { store.Close() })
	return store
}

func rowAt(tsMs int64, venue string) bookv1.Row {
	return bookv1.Row{
		TsMs:    tsMs,
		Venue:   venue,
		Symbol:  "BTCUSDT",
		Kind:    bookv1.KindL2,
		BestBid: 10.0,
		BestAsk: 10.5,
		Bids:    `[{"price":10,"qty":1}]`,
		Asks:    `[{"price":10.5,"qty":1}]`,
	}
}

func TestStore_PageRoundTrip(t *testing.T) {
	store := memStore(t, "01SESSION")
	ctx := context.Background()

	rows := []bookv1.Row{rowAt(1000, "binance"), rowAt(2000, "coinbase")}
	require.NoError(t, store.WritePage(ctx, 0, rows))

	got, err := store.ReadPage(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, rows, got)
}

func TestStore_ReadPage_MissingIsEmpty(t *testing.T) {
	store := memStore(t, "01SESSION")

	rows, err := store.ReadPage(context.Background(), 300_000)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStore_WritePage_ReplacesExisting(t *testing.T) {
	store := memStore(t, "01SESSION")
	ctx := context.Background()

	require.NoError(t, store.WritePage(ctx, 0, []bookv1.Row{rowAt(1000, "binance")}))
	require.NoError(t, store.WritePage(ctx, 0, []bookv1.Row{rowAt(1000, "binance"), rowAt(1500, "binance")}))

	got, err := store.ReadPage(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1500), got[1].TsMs)
}

func TestStore_Buckets_SortedAndScopedToSession(t *testing.T) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mine := NewWithDB(db, "01AAA", "book_states")
	other := NewWithDB(db, "01BBB", "book_states")
	ctx := context.Background()

	require.NoError(t, mine.WritePage(ctx, 600_000, []bookv1.Row{rowAt(600_100, "binance")}))
	require.NoError(t, mine.WritePage(ctx, 300_000, []bookv1.Row{rowAt(300_100, "binance")}))
	require.NoError(t, other.WritePage(ctx, 900_000, []bookv1.Row{rowAt(900_100, "binance")}))

	buckets, err := mine.Buckets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{300_000, 600_000}, buckets)
}

func TestStore_LatestSessionMarker(t *testing.T) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	first := NewWithDB(db, "01AAA", "book_states")
	latest, err := first.LatestSession(ctx)
	require.NoError(t, err)
	assert.Empty(t, latest, "nothing marked yet")

	require.NoError(t, first.MarkLatest(ctx))
	second := NewWithDB(db, "01BBB", "book_states")
	require.NoError(t, second.MarkLatest(ctx))

	latest, err = first.LatestSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "01BBB", latest, "marker follows the newest session")
}
