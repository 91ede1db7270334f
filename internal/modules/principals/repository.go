// Package principals stores the consumed identity records. Identity
// management itself is external; herald only needs to know which users are
// enabled, which plans they hold, and where they want notifications.
package principals

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/domain"
	"github.com/heraldlabs/herald/internal/utils"
)

// principalColumns is the list of columns for the principals table.
// Column order must match scanPrincipal() expectations.
const principalColumns = `user_id, active_plan_ids, preferred_channels, timezone, enabled, failed_login_attempts, created_at, updated_at`

// Repository handles principal database operations. It implements
// domain.PrincipalDirectory for the matcher.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new principal repository.
func NewRepository(registryDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  registryDB,
		log: log.With().Str("repo", "principals").Logger(),
	}
}

// Upsert inserts or updates a principal record.
func (r *Repository) Upsert(p *domain.Principal) error {
	if strings.TrimSpace(p.UserID) == "" {
		return domain.NewValidationError("user_id is required", "user_id")
	}
	if p.Timezone == "" {
		p.Timezone = "UTC"
	}

	_, err := r.db.Exec(`
		INSERT INTO principals
		(user_id, active_plan_ids, preferred_channels, timezone, enabled, failed_login_attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			active_plan_ids = excluded.active_plan_ids,
			preferred_channels = excluded.preferred_channels,
			timezone = excluded.timezone,
			enabled = excluded.enabled,
			failed_login_attempts = excluded.failed_login_attempts,
			updated_at = CURRENT_TIMESTAMP
	`,
		p.UserID,
		utils.JoinCSV(p.ActivePlanIDs),
		utils.JoinCSV(p.PreferredChannels),
		p.Timezone,
		boolToInt(p.Enabled),
		p.FailedLoginAttempts,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert principal %s: %w", p.UserID, err)
	}

	return nil
}

// Lookup returns the principal for a user id.
func (r *Repository) Lookup(ctx context.Context, userID string) (*domain.Principal, error) {
	query := "SELECT " + principalColumns + " FROM principals WHERE user_id = ?"

	row := r.db.QueryRowContext(ctx, query, userID)
	p, err := scanPrincipal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFound("principal", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get principal %s: %w", userID, err)
	}

	return p, nil
}

// EligibleForPlans returns enabled principals holding at least one of the
// given plan ids, ordered by ascending user id. The matcher depends on this
// ordering for deterministic processing.
func (r *Repository) EligibleForPlans(ctx context.Context, planIDs []string) ([]domain.Principal, error) {
	if len(planIDs) == 0 {
		return nil, nil
	}

	query := "SELECT " + principalColumns + " FROM principals WHERE enabled = 1 ORDER BY user_id ASC"

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible principals: %w", err)
	}
	defer rows.Close()

	// Plan ids are stored as CSV, so the plan filter happens here rather
	// than in SQL.
	var result []domain.Principal
	for rows.Next() {
		p, err := scanPrincipalFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan principal: %w", err)
		}
		if p.HasAnyPlan(planIDs) {
			result = append(result, *p)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating principals: %w", err)
	}

	return result, nil
}

// List returns all principals ordered by user id.
func (r *Repository) List() ([]domain.Principal, error) {
	query := "SELECT " + principalColumns + " FROM principals ORDER BY user_id ASC"

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list principals: %w", err)
	}
	defer rows.Close()

	var result []domain.Principal
	for rows.Next() {
		p, err := scanPrincipalFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan principal: %w", err)
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating principals: %w", err)
	}

	return result, nil
}

// Delete removes a principal. Deleting a missing principal is not an error.
func (r *Repository) Delete(userID string) error {
	if _, err := r.db.Exec("DELETE FROM principals WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to delete principal %s: %w", userID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row *sql.Row) (*domain.Principal, error) {
	return scanPrincipalFrom(row)
}

func scanPrincipalFromRows(rows *sql.Rows) (*domain.Principal, error) {
	return scanPrincipalFrom(rows)
}

func scanPrincipalFrom(s rowScanner) (*domain.Principal, error) {
	var p domain.Principal
	var plans, channels string
	var enabled int
	var createdAtStr, updatedAtStr string

	if err := s.Scan(&p.UserID, &plans, &channels, &p.Timezone, &enabled,
		&p.FailedLoginAttempts, &createdAtStr, &updatedAtStr); err != nil {
		return nil, err
	}

	p.ActivePlanIDs = utils.ParseCSV(plans)
	p.PreferredChannels = utils.ParseCSV(channels)
	p.Enabled = enabled != 0
	p.CreatedAt = parseTimestamp(createdAtStr)
	p.UpdatedAt = parseTimestamp(updatedAtStr)

	return &p, nil
}

// parseTimestamp parses the formats sqlite CURRENT_TIMESTAMP and Go time
// writes produce. Zero time on failure; timestamps here are informational.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
