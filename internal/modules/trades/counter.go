// Package trades owns the virtual trade ledger: monotonic trade numbers,
// the append-only trade table, realized P&L, and the open/replace/close
// state machine applied per (user, configuration) pair.
package trades

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrCounterCorrupted marks a trade counter whose value went backwards or to
// zero. Trade numbers must never repeat, so callers treat this as fatal.
var ErrCounterCorrupted = errors.New("trade counter corrupted")

// Counter allocates trade numbers from the single-row trade_counter table.
// Numbers are strictly monotonic across all users and survive restarts;
// allocation runs in a transaction so no two callers see the same value.
type Counter struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewCounter creates a counter over the ledger database connection.
func NewCounter(ledgerDB *sql.DB, log zerolog.Logger) *Counter {
	return &Counter{
		db:  ledgerDB,
		log: log.With().Str("repo", "trade_counter").Logger(),
	}
}

// Next allocates and returns the next trade number.
func (c *Counter) Next() (int64, error) {
	tx, err := c.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin counter transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("UPDATE trade_counter SET value = value + 1 WHERE id = 1"); err != nil {
		return 0, fmt.Errorf("failed to advance trade counter: %w", err)
	}

	var value int64
	if err := tx.QueryRow("SELECT value FROM trade_counter WHERE id = 1").Scan(&value); err != nil {
		return 0, fmt.Errorf("failed to read trade counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit trade counter: %w", err)
	}

	// The value only ever increases; anything else means the ledger row was
	// tampered with and the worker must not hand out trade numbers.
	if value < 1 {
		return 0, fmt.Errorf("%w: value %d", ErrCounterCorrupted, value)
	}
	return value, nil
}

// Current returns the last allocated trade number without advancing.
func (c *Counter) Current() (int64, error) {
	var value int64
	if err := c.db.QueryRow("SELECT value FROM trade_counter WHERE id = 1").Scan(&value); err != nil {
		return 0, fmt.Errorf("failed to read trade counter: %w", err)
	}
	return value, nil
}
