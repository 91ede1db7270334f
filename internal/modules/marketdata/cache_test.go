package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldlabs/herald/internal/clock"
	"github.com/heraldlabs/herald/internal/domain"
	htesting "github.com/heraldlabs/herald/internal/testing"
)

func newCacheFixture(t *testing.T) (*Cache, *clock.Manual, func()) {
	db, cleanup := htesting.NewTestDB(t, "cache")
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewCache(db.Conn(), clk, zerolog.Nop()), clk, cleanup
}

func TestSnapshotCacheRoundTrip(t *testing.T) {
	cache, clk, cleanup := newCacheFixture(t)
	defer cleanup()

	snap := htesting.NewSnapshotFixture("BTC", 45000.50, clk.Now())
	require.NoError(t, cache.PutSnapshot(snap, 15*time.Second))

	got, err := cache.GetSnapshot("BTC", "BINANCE")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 45000.50, got.Price)
	assert.Equal(t, snap.Volume, got.Volume)

	// Expired entries read as misses.
	clk.Advance(16 * time.Second)
	got, err = cache.GetSnapshot("BTC", "BINANCE")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSnapshotCacheMiss(t *testing.T) {
	cache, _, cleanup := newCacheFixture(t)
	defer cleanup()

	got, err := cache.GetSnapshot("ETH", "BINANCE")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestIndicatorCacheRoundTrip(t *testing.T) {
	cache, clk, cleanup := newCacheFixture(t)
	defer cleanup()

	key := IndicatorKey("BTC", "binance", domain.FieldSMA, 20, clk.Now())
	require.NoError(t, cache.PutIndicator(key, 139.5, 5*time.Minute))

	v, ok, err := cache.GetIndicator(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 139.5, v)

	clk.Advance(6 * time.Minute)
	_, ok, err = cache.GetIndicator(key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSweepExpired(t *testing.T) {
	cache, clk, cleanup := newCacheFixture(t)
	defer cleanup()

	snap := htesting.NewSnapshotFixture("BTC", 45000.50, clk.Now())
	require.NoError(t, cache.PutSnapshot(snap, 15*time.Second))
	key := IndicatorKey("BTC", "binance", domain.FieldRSI, 14, clk.Now())
	require.NoError(t, cache.PutIndicator(key, 61.2, time.Minute))

	swept, err := cache.SweepExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(0), swept)

	clk.Advance(2 * time.Minute)
	swept, err = cache.SweepExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(2), swept)
}

func TestCachedProviderServesFromCache(t *testing.T) {
	db, cleanup := htesting.NewTestDB(t, "cache")
	defer cleanup()

	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	cache := NewCache(db.Conn(), clk, zerolog.Nop())
	mock := htesting.NewMockMarketDataProvider()
	mock.SetSnapshot(htesting.NewSnapshotFixture("BTC", 45000.50, clk.Now()))

	provider := NewCachedProvider(mock, cache, 15*time.Second, zerolog.Nop())

	first, err := provider.GetSnapshot(context.Background(), "BTC", "BINANCE")
	require.NoError(t, err)
	assert.Equal(t, 45000.50, first.Price)
	assert.Equal(t, 1, mock.Calls())

	// Within the TTL the upstream is not consulted again.
	_, err = provider.GetSnapshot(context.Background(), "BTC", "BINANCE")
	require.NoError(t, err)
	assert.Equal(t, 1, mock.Calls())

	clk.Advance(16 * time.Second)
	_, err = provider.GetSnapshot(context.Background(), "BTC", "BINANCE")
	require.NoError(t, err)
	assert.Equal(t, 2, mock.Calls())
}

func TestCachedProviderPassesErrors(t *testing.T) {
	db, cleanup := htesting.NewTestDB(t, "cache")
	defer cleanup()

	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	mock := htesting.NewMockMarketDataProvider()
	mock.SetError(domain.NewExternalUnavailable("fetch snapshot", assert.AnError))

	provider := NewCachedProvider(mock, NewCache(db.Conn(), clk, zerolog.Nop()), 15*time.Second, zerolog.Nop())

	_, err := provider.GetSnapshot(context.Background(), "BTC", "BINANCE")
	assert.True(t, domain.IsKind(err, domain.KindExternalUnavailable))
}
