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

// linearCloses returns n closes walking from start by step per bar.
func linearCloses(n int, start, step float64) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = start + float64(i)*step
	}
	return closes
}

func TestComputeSMA(t *testing.T) {
	// Closes 100..149; SMA(20) over the last 20 bars is mean(130..149).
	v, err := Compute(domain.FieldSMA, linearCloses(50, 100, 1), 20)
	require.NoError(t, err)
	assert.InDelta(t, 139.5, v, 1e-9)
}

func TestComputeRSIMonotonicRise(t *testing.T) {
	// A strictly rising series has no losses, so RSI saturates at 100.
	v, err := Compute(domain.FieldRSI, linearCloses(50, 100, 1), 14)
	require.NoError(t, err)
	assert.InDelta(t, 100, v, 1e-6)
}

func TestComputeMACDRisingTrend(t *testing.T) {
	v, err := Compute(domain.FieldMACD, linearCloses(60, 100, 1), 0)
	require.NoError(t, err)
	assert.Greater(t, v, 0.0, "rising trend has a positive MACD line")
}

func TestComputeBollingerPercentB(t *testing.T) {
	// On a rising series the last close sits in the upper half of the bands.
	v, err := Compute(domain.FieldBollinger, linearCloses(50, 100, 1), 20)
	require.NoError(t, err)
	assert.Greater(t, v, 0.5)
	assert.LessOrEqual(t, v, 1.0)

	// Collapsed bands resolve to the middle.
	v, err = Compute(domain.FieldBollinger, linearCloses(50, 100, 0), 20)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, v, 1e-9)
}

func TestComputeInsufficientData(t *testing.T) {
	_, err := Compute(domain.FieldSMA, linearCloses(10, 100, 1), 20)
	assert.True(t, IsInsufficientData(err))

	// RSI needs period+1 bars.
	_, err = Compute(domain.FieldRSI, linearCloses(14, 100, 1), 14)
	assert.True(t, IsInsufficientData(err))

	_, err = Compute(domain.FieldMACD, linearCloses(30, 100, 1), 0)
	assert.True(t, IsInsufficientData(err))
}

func TestComputeRejectsNonIndicatorField(t *testing.T) {
	_, err := Compute(domain.FieldPrice, linearCloses(50, 100, 1), 20)
	require.Error(t, err)
	assert.False(t, IsInsufficientData(err))
}

func newEngineFixture(t *testing.T) (*Engine, *htesting.MockMarketDataProvider, *Cache, *clock.Manual, func()) {
	db, cleanup := htesting.NewTestDB(t, "cache")
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	cache := NewCache(db.Conn(), clk, zerolog.Nop())
	provider := htesting.NewMockMarketDataProvider()
	engine := NewEngine(provider, cache, 5*time.Minute, 0, zerolog.Nop())
	return engine, provider, cache, clk, cleanup
}

func TestEngineResolveCachesByLastBar(t *testing.T) {
	engine, provider, _, clk, cleanup := newEngineFixture(t)
	defer cleanup()

	end := clk.Now()
	provider.SetHistory("BTC", "binance", htesting.NewHistoryFixture(50, 100, 1, 5*time.Minute, end))

	first, err := engine.Resolve(context.Background(), "BTC", "binance", domain.FieldSMA, 20)
	require.NoError(t, err)
	assert.InDelta(t, 139.5, first, 1e-9)

	// Same bars, different closes: the last bar timestamp is unchanged, so
	// the cached value wins and the new closes are never consulted.
	provider.SetHistory("BTC", "binance", htesting.NewHistoryFixture(50, 500, 1, 5*time.Minute, end))
	second, err := engine.Resolve(context.Background(), "BTC", "binance", domain.FieldSMA, 20)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// A new bar shifts the key and forces a recompute.
	provider.SetHistory("BTC", "binance", htesting.NewHistoryFixture(50, 500, 1, 5*time.Minute, end.Add(5*time.Minute)))
	third, err := engine.Resolve(context.Background(), "BTC", "binance", domain.FieldSMA, 20)
	require.NoError(t, err)
	assert.InDelta(t, 539.5, third, 1e-9)
}

func TestEngineResolveDefaultsPeriod(t *testing.T) {
	engine, provider, _, clk, cleanup := newEngineFixture(t)
	defer cleanup()

	provider.SetHistory("BTC", "binance", htesting.NewHistoryFixture(50, 100, 1, 5*time.Minute, clk.Now()))

	// Period 0 falls back to the RSI default of 14.
	v, err := engine.Resolve(context.Background(), "BTC", "binance", domain.FieldRSI, 0)
	require.NoError(t, err)
	assert.InDelta(t, 100, v, 1e-6)
}

func TestEngineResolveEmptyHistory(t *testing.T) {
	engine, _, _, _, cleanup := newEngineFixture(t)
	defer cleanup()

	_, err := engine.Resolve(context.Background(), "BTC", "binance", domain.FieldSMA, 20)
	assert.True(t, IsInsufficientData(err))
}

func TestEngineResolveProviderErrorPassesThrough(t *testing.T) {
	engine, provider, _, _, cleanup := newEngineFixture(t)
	defer cleanup()

	provider.SetError(domain.NewExternalUnavailable("fetch history", assert.AnError))
	_, err := engine.Resolve(context.Background(), "BTC", "binance", domain.FieldSMA, 20)
	assert.True(t, domain.IsKind(err, domain.KindExternalUnavailable))
}
