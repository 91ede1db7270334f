// Package locks provides advisory locks backed by the cache database.
// Three pipeline concerns serialize through them: incoming-alert processing
// (keyed by alert id), trade transitions (keyed by user|config pair), and
// user-alert evaluation leases (keyed by alert id). Keeping the table in the
// store keeps a clustered deployment consistent; expiry guards against
// crashed holders.
package locks

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/clock"
)

// retryInterval is how long a blocked WithLock waits between attempts.
const retryInterval = 25 * time.Millisecond

// Repository manages advisory lock rows. Each repository instance is one
// holder identity; locks it takes can only be released by it (or by expiry).
type Repository struct {
	db     *sql.DB
	clock  clock.Clock
	holder string
	log    zerolog.Logger
}

// NewRepository creates an advisory lock repository over the cache database.
func NewRepository(cacheDB *sql.DB, clk clock.Clock, log zerolog.Logger) *Repository {
	return &Repository{
		db:     cacheDB,
		clock:  clk,
		holder: uuid.NewString(),
		log:    log.With().Str("repo", "locks").Logger(),
	}
}

// PairKey builds the lock key serializing trade transitions for one
// (user, config) pair.
func PairKey(userID string, configID int64) string {
	return fmt.Sprintf("pair|%s|%d", userID, configID)
}

// AlertKey builds the lock key guarding one incoming alert's processing.
func AlertKey(alertID string) string {
	return "alert|" + alertID
}

// LeaseKey builds the lock key for one user alert's evaluation lease.
func LeaseKey(userAlertID int64) string {
	return fmt.Sprintf("lease|%d", userAlertID)
}

// TryAcquire attempts to take the lock without blocking. Expired rows are
// evicted first, so a crashed holder never wedges a key.
func (r *Repository) TryAcquire(key string, ttl time.Duration) (bool, error) {
	nowMs := r.clock.Now().UnixMilli()

	if _, err := r.db.Exec(
		"DELETE FROM advisory_locks WHERE lock_key = ? AND expires_at <= ?",
		key, nowMs,
	); err != nil {
		return false, fmt.Errorf("failed to evict expired lock %s: %w", key, err)
	}

	res, err := r.db.Exec(`
		INSERT INTO advisory_locks (lock_key, holder, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(lock_key) DO NOTHING
	`, key, r.holder, nowMs, nowMs+ttl.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check lock acquisition %s: %w", key, err)
	}
	return affected > 0, nil
}

// Release frees the lock if this repository holds it. Releasing a lock held
// by someone else (or already expired away) is a no-op.
func (r *Repository) Release(key string) error {
	if _, err := r.db.Exec(
		"DELETE FROM advisory_locks WHERE lock_key = ? AND holder = ?",
		key, r.holder,
	); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}

// WithLock runs fn while holding the lock, blocking until the lock becomes
// available or ctx expires. The lock is released on every exit path.
func (r *Repository) WithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	for {
		ok, err := r.TryAcquire(key, ttl)
		if err != nil {
			return err
		}
		if ok {
			break
		}
		if err := clock.Sleep(ctx, r.clock, retryInterval); err != nil {
			return fmt.Errorf("gave up waiting for lock %s: %w", key, err)
		}
	}

	defer func() {
		if err := r.Release(key); err != nil {
			r.log.Warn().Err(err).Str("key", key).Msg("Failed to release lock")
		}
	}()

	return fn()
}

// SweepExpired removes all expired lock rows. Called by maintenance.
func (r *Repository) SweepExpired() (int64, error) {
	res, err := r.db.Exec(
		"DELETE FROM advisory_locks WHERE expires_at <= ?",
		r.clock.Now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired locks: %w", err)
	}
	return res.RowsAffected()
}
