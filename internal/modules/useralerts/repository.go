// Package useralerts owns user-created monitoring rules: their storage, the
// condition evaluator with crossing detection, the restricted expression
// engine behind custom conditions, and the scheduler that re-evaluates due
// alerts against live market data.
package useralerts

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/heraldlabs/herald/internal/domain"
	"github.com/heraldlabs/herald/internal/utils"
)

// alertColumns is the list of columns for the user_alerts table.
// Column order must match scanAlert() expectations.
const alertColumns = `id, user_id, symbol, venue, interval, type, conditions,
	logical_operator, priority, frequency, max_triggers, trigger_count,
	cooldown_ms, failed_count, last_triggered, last_checked, next_check,
	expires_at, is_active, is_paused, notification_channels, execution_history,
	perf_evaluations, perf_triggers, perf_failures, created_at, updated_at`

// Repository handles user alert database operations. Users own the
// definition fields through Create/Update; only the scheduler writes the
// runtime fields, through UpdateRuntime, while holding the alert's lease.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new user alert repository.
func NewRepository(registryDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  registryDB,
		log: log.With().Str("repo", "user_alerts").Logger(),
	}
}

// Create validates and inserts a new user alert, returning its id. A nil
// NextCheck defaults to the creation instant so the alert becomes due on the
// next scheduler tick.
func (r *Repository) Create(a *domain.UserAlert) (int64, error) {
	a.Symbol = strings.ToUpper(strings.TrimSpace(a.Symbol))
	if err := a.Validate(); err != nil {
		return 0, err
	}

	conditions, err := encodeConditions(a.Conditions)
	if err != nil {
		return 0, err
	}

	res, err := r.db.Exec(`
		INSERT INTO user_alerts
		(user_id, symbol, venue, interval, type, conditions, logical_operator,
		 priority, frequency, max_triggers, cooldown_ms,
		 next_check, expires_at, is_active, is_paused, notification_channels)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), ?, ?, ?, ?)
	`,
		a.UserID, a.Symbol, a.Venue, string(a.Interval), string(a.Type),
		conditions, string(a.LogicalOperator),
		a.Priority, string(a.Frequency), a.MaxTriggers, a.CooldownMs,
		timePtrUTC(a.NextCheck), timePtrUTC(a.ExpiresAt),
		boolToInt(a.IsActive), boolToInt(a.IsPaused),
		utils.JoinCSV(a.NotificationChannels),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create user alert: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get user alert id: %w", err)
	}
	a.ID = id

	return id, nil
}

// Update rewrites the user-owned definition fields of an alert.
func (r *Repository) Update(a *domain.UserAlert) error {
	a.Symbol = strings.ToUpper(strings.TrimSpace(a.Symbol))
	if err := a.Validate(); err != nil {
		return err
	}

	conditions, err := encodeConditions(a.Conditions)
	if err != nil {
		return err
	}

	res, err := r.db.Exec(`
		UPDATE user_alerts SET
			symbol = ?, venue = ?, interval = ?, type = ?, conditions = ?,
			logical_operator = ?, priority = ?, frequency = ?, max_triggers = ?,
			cooldown_ms = ?, expires_at = ?, notification_channels = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND user_id = ?
	`,
		a.Symbol, a.Venue, string(a.Interval), string(a.Type), conditions,
		string(a.LogicalOperator), a.Priority, string(a.Frequency), a.MaxTriggers,
		a.CooldownMs, timePtrUTC(a.ExpiresAt), utils.JoinCSV(a.NotificationChannels),
		a.ID, a.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to update user alert %d: %w", a.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update for user alert %d: %w", a.ID, err)
	}
	if affected == 0 {
		return domain.NewNotFound("user alert", a.ID)
	}

	return nil
}

// UpdateRuntime persists the scheduler-owned fields after an evaluation.
// Callers must hold the alert's lease.
func (r *Repository) UpdateRuntime(a *domain.UserAlert) error {
	history, err := encodeHistory(a.ExecutionHistory)
	if err != nil {
		return err
	}

	res, err := r.db.Exec(`
		UPDATE user_alerts SET
			trigger_count = ?, failed_count = ?,
			last_triggered = ?, last_checked = ?, next_check = ?,
			is_active = ?, execution_history = ?,
			perf_evaluations = ?, perf_triggers = ?, perf_failures = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`,
		a.TriggerCount, a.FailedCount,
		timePtrUTC(a.LastTriggered), timePtrUTC(a.LastChecked), timePtrUTC(a.NextCheck),
		boolToInt(a.IsActive), history,
		a.Performance.TotalEvaluations, a.Performance.TotalTriggers, a.Performance.FailedEvaluations,
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update runtime for user alert %d: %w", a.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check runtime update for user alert %d: %w", a.ID, err)
	}
	if affected == 0 {
		return domain.NewNotFound("user alert", a.ID)
	}

	return nil
}

// SetPaused pauses or resumes an alert on behalf of its owner.
func (r *Repository) SetPaused(id int64, userID string, paused bool) error {
	res, err := r.db.Exec(
		"UPDATE user_alerts SET is_paused = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND user_id = ?",
		boolToInt(paused), id, userID)
	if err != nil {
		return fmt.Errorf("failed to set paused for user alert %d: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check pause for user alert %d: %w", id, err)
	}
	if affected == 0 {
		return domain.NewNotFound("user alert", id)
	}

	return nil
}

// GetByID returns one user alert.
func (r *Repository) GetByID(id int64) (*domain.UserAlert, error) {
	query := "SELECT " + alertColumns + " FROM user_alerts WHERE id = ?"

	a, err := scanAlert(r.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFound("user alert", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user alert %d: %w", id, err)
	}

	return a, nil
}

// ListByUser returns a user's alerts, newest first.
func (r *Repository) ListByUser(userID string) ([]domain.UserAlert, error) {
	query := "SELECT " + alertColumns + " FROM user_alerts WHERE user_id = ? ORDER BY id DESC"
	return r.queryAlerts(query, userID)
}

// LoadDue returns up to limit alerts ready for evaluation: active, not
// paused, due, and not expired, ordered by priority descending then by how
// long they have been due.
func (r *Repository) LoadDue(now time.Time, limit int) ([]domain.UserAlert, error) {
	if limit < 1 {
		limit = 100
	}

	query := "SELECT " + alertColumns + ` FROM user_alerts
		WHERE is_active = 1 AND is_paused = 0
		  AND next_check IS NOT NULL AND next_check <= ?
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY priority DESC, next_check ASC
		LIMIT ?`

	return r.queryAlerts(query, now.UTC(), now.UTC(), limit)
}

// Delete removes an alert on behalf of its owner.
func (r *Repository) Delete(id int64, userID string) error {
	res, err := r.db.Exec("DELETE FROM user_alerts WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user alert %d: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete for user alert %d: %w", id, err)
	}
	if affected == 0 {
		return domain.NewNotFound("user alert", id)
	}

	return nil
}

// DeactivateExpired flips is_active off for alerts past their expiry,
// returning how many were deactivated. Run by the maintenance scheduler so
// the due query stays cheap.
func (r *Repository) DeactivateExpired(now time.Time) (int64, error) {
	res, err := r.db.Exec(`
		UPDATE user_alerts SET is_active = 0, updated_at = CURRENT_TIMESTAMP
		WHERE is_active = 1 AND expires_at IS NOT NULL AND expires_at <= ?
	`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate expired user alerts: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deactivated user alerts: %w", err)
	}
	if n > 0 {
		r.log.Info().Int64("count", n).Msg("Deactivated expired user alerts")
	}
	return n, nil
}

func (r *Repository) queryAlerts(query string, args ...any) ([]domain.UserAlert, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query user alerts: %w", err)
	}
	defer rows.Close()

	var result []domain.UserAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user alert: %w", err)
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user alerts: %w", err)
	}

	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(s rowScanner) (*domain.UserAlert, error) {
	var a domain.UserAlert
	var conditions, channels string
	var history []byte
	var lastTriggered, lastChecked, nextCheck, expiresAt sql.NullTime
	var isActive, isPaused int
	var createdAt, updatedAt time.Time

	err := s.Scan(
		&a.ID, &a.UserID, &a.Symbol, &a.Venue, &a.Interval, &a.Type, &conditions,
		&a.LogicalOperator, &a.Priority, &a.Frequency, &a.MaxTriggers, &a.TriggerCount,
		&a.CooldownMs, &a.FailedCount, &lastTriggered, &lastChecked, &nextCheck,
		&expiresAt, &isActive, &isPaused, &channels, &history,
		&a.Performance.TotalEvaluations, &a.Performance.TotalTriggers, &a.Performance.FailedEvaluations,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if a.Conditions, err = decodeConditions(conditions); err != nil {
		return nil, err
	}
	if a.ExecutionHistory, err = decodeHistory(history); err != nil {
		return nil, err
	}
	a.NotificationChannels = utils.ParseCSV(channels)
	a.LastTriggered = nullTimeUTC(lastTriggered)
	a.LastChecked = nullTimeUTC(lastChecked)
	a.NextCheck = nullTimeUTC(nextCheck)
	a.ExpiresAt = nullTimeUTC(expiresAt)
	a.IsActive = isActive != 0
	a.IsPaused = isPaused != 0
	a.CreatedAt = createdAt.UTC()
	a.UpdatedAt = updatedAt.UTC()
	if a.Performance.TotalEvaluations > 0 {
		a.Performance.Accuracy = float64(a.Performance.TotalTriggers) / float64(a.Performance.TotalEvaluations)
	}

	return &a, nil
}

// encodeHistory packs the execution ring buffer, keeping only the newest
// MaxExecutionHistory records.
func encodeHistory(records []domain.ExecutionRecord) ([]byte, error) {
	if len(records) > domain.MaxExecutionHistory {
		records = records[len(records)-domain.MaxExecutionHistory:]
	}
	if len(records) == 0 {
		return nil, nil
	}

	packed, err := msgpack.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("failed to pack execution history: %w", err)
	}
	return packed, nil
}

func decodeHistory(packed []byte) ([]domain.ExecutionRecord, error) {
	if len(packed) == 0 {
		return nil, nil
	}

	var records []domain.ExecutionRecord
	if err := msgpack.Unmarshal(packed, &records); err != nil {
		return nil, fmt.Errorf("failed to unpack execution history: %w", err)
	}
	return records, nil
}

func encodeConditions(conditions []domain.Condition) (string, error) {
	raw, err := json.Marshal(conditions)
	if err != nil {
		return "", fmt.Errorf("failed to marshal conditions: %w", err)
	}
	return string(raw), nil
}

func decodeConditions(raw string) ([]domain.Condition, error) {
	var conditions []domain.Condition
	if err := json.Unmarshal([]byte(raw), &conditions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
	}
	return conditions, nil
}

func nullTimeUTC(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}

func timePtrUTC(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
