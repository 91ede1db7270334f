package marketdata

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/clock"
	"github.com/heraldlabs/herald/internal/domain"
)

// Cache stores market snapshots and computed indicator values in cache.db.
// Entries expire by TTL and are evicted lazily on read plus periodically by
// the maintenance sweeper. The cache is safe to lose wholesale.
type Cache struct {
	db    *sql.DB
	clock clock.Clock
	log   zerolog.Logger
}

// NewCache creates a cache over the cache database connection.
func NewCache(db *sql.DB, clk clock.Clock, log zerolog.Logger) *Cache {
	return &Cache{
		db:    db,
		clock: clk,
		log:   log.With().Str("component", "market_cache").Logger(),
	}
}

// GetSnapshot returns a cached snapshot for (symbol, venue), or nil on miss.
func (c *Cache) GetSnapshot(symbol, venue string) (*domain.MarketSnapshot, error) {
	key := quoteKey(symbol, venue)
	now := c.clock.Now().UnixMilli()

	var payload string
	err := c.db.QueryRow(
		`SELECT payload FROM quote_cache WHERE cache_key = ? AND expires_at > ?`,
		key, now,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read quote cache: %w", err)
	}

	var snap domain.MarketSnapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		// A corrupt row is treated as a miss; the next store overwrites it.
		c.log.Warn().Str("key", key).Err(err).Msg("Dropping unreadable quote cache entry")
		return nil, nil
	}
	return &snap, nil
}

// PutSnapshot stores a snapshot with the given TTL.
func (c *Cache) PutSnapshot(snap *domain.MarketSnapshot, ttl time.Duration) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	key := quoteKey(snap.Symbol, snap.Venue)
	_, err = c.db.Exec(
		`INSERT INTO quote_cache (cache_key, payload, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET payload = excluded.payload, expires_at = excluded.expires_at`,
		key, string(payload), c.clock.Now().Add(ttl).UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

// GetIndicator returns a cached indicator value, reporting whether it was found.
func (c *Cache) GetIndicator(key string) (float64, bool, error) {
	now := c.clock.Now().UnixMilli()

	var value float64
	err := c.db.QueryRow(
		`SELECT value FROM indicator_cache WHERE cache_key = ? AND expires_at > ?`,
		key, now,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read indicator cache: %w", err)
	}
	return value, true, nil
}

// PutIndicator stores a computed indicator value with the given TTL.
func (c *Cache) PutIndicator(key string, value float64, ttl time.Duration) error {
	now := c.clock.Now()
	_, err := c.db.Exec(
		`INSERT INTO indicator_cache (cache_key, value, computed_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET value = excluded.value,
		     computed_at = excluded.computed_at, expires_at = excluded.expires_at`,
		key, value, now.UnixMilli(), now.Add(ttl).UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to store indicator: %w", err)
	}
	return nil
}

// SweepExpired deletes expired quote and indicator entries, returning the
// total number of rows removed.
func (c *Cache) SweepExpired() (int64, error) {
	now := c.clock.Now().UnixMilli()

	var total int64
	for _, table := range []string{"quote_cache", "indicator_cache"} {
		res, err := c.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= ?`, table), now)
		if err != nil {
			return total, fmt.Errorf("failed to sweep %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if total > 0 {
		c.log.Debug().Int64("removed", total).Msg("Swept expired market cache entries")
	}
	return total, nil
}

func quoteKey(symbol, venue string) string {
	return strings.ToUpper(symbol) + "|" + strings.ToLower(venue)
}

// IndicatorKey builds the deterministic cache key for a computed indicator.
// Keying on the last bar timestamp means a new bar naturally invalidates the
// cached value without any explicit eviction.
func IndicatorKey(symbol, venue string, field domain.ConditionField, period int, lastBar time.Time) string {
	return fmt.Sprintf("%s|%s|%s|%d|%d",
		strings.ToUpper(symbol), strings.ToLower(venue), field, period, lastBar.Unix())
}

// CachedProvider decorates a MarketDataProvider with the snapshot cache.
// History requests pass through; indicator caching happens in the Engine
// because keys depend on the fetched bars.
type CachedProvider struct {
	inner domain.MarketDataProvider
	cache *Cache
	ttl   time.Duration
	log   zerolog.Logger
}

// NewCachedProvider wraps inner with snapshot caching at the given TTL.
func NewCachedProvider(inner domain.MarketDataProvider, cache *Cache, ttl time.Duration, log zerolog.Logger) *CachedProvider {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &CachedProvider{
		inner: inner,
		cache: cache,
		ttl:   ttl,
		log:   log.With().Str("component", "market_data").Logger(),
	}
}

// GetSnapshot serves from the cache when fresh, falling back to the inner
// provider and storing the result. Cache failures degrade to pass-through.
func (p *CachedProvider) GetSnapshot(ctx context.Context, symbol, venue string) (*domain.MarketSnapshot, error) {
	cached, err := p.cache.GetSnapshot(symbol, venue)
	if err != nil {
		p.log.Warn().Err(err).Msg("Quote cache read failed, fetching upstream")
	} else if cached != nil {
		return cached, nil
	}

	snap, err := p.inner.GetSnapshot(ctx, symbol, venue)
	if err != nil {
		return nil, err
	}
	if err := p.cache.PutSnapshot(snap, p.ttl); err != nil {
		p.log.Warn().Err(err).Msg("Quote cache write failed")
	}
	return snap, nil
}

// GetHistory delegates to the inner provider.
func (p *CachedProvider) GetHistory(ctx context.Context, symbol, venue string, limit int) ([]domain.OHLCV, error) {
	return p.inner.GetHistory(ctx, symbol, venue, limit)
}
