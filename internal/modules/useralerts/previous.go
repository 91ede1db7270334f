package useralerts

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// PreviousValues stores the last observed value per crossing condition,
// keyed by (alert id, condition index). Crossings compare the previous
// observation against the current one; with no previous row the first
// evaluation never fires. Rows are durable so a restart cannot re-arm a
// crossing that already fired.
type PreviousValues struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPreviousValues creates the crossing-state repository.
func NewPreviousValues(registryDB *sql.DB, log zerolog.Logger) *PreviousValues {
	return &PreviousValues{
		db:  registryDB,
		log: log.With().Str("repo", "previous_values").Logger(),
	}
}

// Get returns the previous observation for a condition, reporting whether
// one exists.
func (r *PreviousValues) Get(alertID int64, conditionIndex int) (float64, bool, error) {
	var value float64
	err := r.db.QueryRow(
		"SELECT value FROM previous_values WHERE alert_id = ? AND condition_index = ?",
		alertID, conditionIndex,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get previous value for alert %d: %w", alertID, err)
	}
	return value, true, nil
}

// Put records the current observation for a condition.
func (r *PreviousValues) Put(alertID int64, conditionIndex int, value float64, observedAt time.Time) error {
	_, err := r.db.Exec(`
		INSERT INTO previous_values (alert_id, condition_index, value, observed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(alert_id, condition_index) DO UPDATE SET
			value = excluded.value, observed_at = excluded.observed_at
	`, alertID, conditionIndex, value, observedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to store previous value for alert %d: %w", alertID, err)
	}
	return nil
}

// DeleteForAlert drops all crossing state for an alert, called when the
// alert is deleted or its conditions are rewritten.
func (r *PreviousValues) DeleteForAlert(alertID int64) error {
	if _, err := r.db.Exec("DELETE FROM previous_values WHERE alert_id = ?", alertID); err != nil {
		return fmt.Errorf("failed to delete previous values for alert %d: %w", alertID, err)
	}
	return nil
}
