package intake

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/clock"
)

// Observation is the outcome of one fingerprint check.
type Observation int

const (
	// Fresh means the fingerprint was not seen within the TTL.
	Fresh Observation = iota
	// Duplicate means the fingerprint was already observed within the TTL.
	Duplicate
)

// Deduper is a bounded fingerprint set with TTL, backed by the cache
// database so a clustered deployment shares one dedup window. Expired rows
// are evicted lazily on observation and in bulk by maintenance.
type Deduper struct {
	db    *sql.DB
	clock clock.Clock
	ttl   time.Duration
	log   zerolog.Logger
}

// NewDeduper creates a deduper with the given TTL.
func NewDeduper(cacheDB *sql.DB, clk clock.Clock, ttl time.Duration, log zerolog.Logger) *Deduper {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Deduper{
		db:    cacheDB,
		clock: clk,
		ttl:   ttl,
		log:   log.With().Str("component", "deduper").Logger(),
	}
}

// TTL returns the configured dedup window.
func (d *Deduper) TTL() time.Duration { return d.ttl }

// Observe atomically records the fingerprint and reports whether it was
// fresh. A row left over from a previous window is evicted first, so one
// statement pair decides freshness without a read-modify-write race: the
// INSERT either takes the slot or loses to a live row.
func (d *Deduper) Observe(fingerprint string) (Observation, error) {
	nowMs := d.clock.Now().UnixMilli()

	if _, err := d.db.Exec(
		"DELETE FROM dedup_fingerprints WHERE fingerprint = ? AND expires_at <= ?",
		fingerprint, nowMs,
	); err != nil {
		return Fresh, fmt.Errorf("failed to evict expired fingerprint: %w", err)
	}

	res, err := d.db.Exec(`
		INSERT INTO dedup_fingerprints (fingerprint, first_seen_at, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING
	`, fingerprint, nowMs, nowMs+d.ttl.Milliseconds())
	if err != nil {
		return Fresh, fmt.Errorf("failed to record fingerprint: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return Fresh, fmt.Errorf("failed to check fingerprint insert: %w", err)
	}
	if affected == 0 {
		return Duplicate, nil
	}
	return Fresh, nil
}

// SweepExpired removes all expired fingerprints. Called by maintenance.
func (d *Deduper) SweepExpired() (int64, error) {
	res, err := d.db.Exec(
		"DELETE FROM dedup_fingerprints WHERE expires_at <= ?",
		d.clock.Now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired fingerprints: %w", err)
	}
	return res.RowsAffected()
}
