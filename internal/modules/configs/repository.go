// Package configs stores admin-defined alert configurations, the matching
// templates that decide which incoming signals are relevant and how they
// translate into trades for subscribed users.
package configs

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/domain"
	"github.com/heraldlabs/herald/internal/utils"
)

// configColumns is the list of columns for the alert_configurations table.
// Column order must match scanConfig() expectations.
const configColumns = `id, symbol, timeframe, strategy, status,
	max_open_trades, allow_opposite_signals, replace_on_same_signal, auto_close_on_tpsl,
	allowed_entry_signals, allowed_exit_signals,
	required_fields, price_tolerance_pct,
	price_min, price_max, window_start, window_end, window_tz, min_volume,
	plan_ids,
	stats_total, stats_success, stats_failed, last_alert_at, avg_processing_ms,
	created_at, updated_at`

// Repository handles alert configuration database operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new alert configuration repository.
func NewRepository(registryDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  registryDB,
		log: log.With().Str("repo", "configs").Logger(),
	}
}

// Create validates and inserts a configuration, returning its assigned id.
func (r *Repository) Create(c *domain.AlertConfiguration) (int64, error) {
	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	if err := c.Validate(); err != nil {
		return 0, err
	}

	res, err := r.db.Exec(`
		INSERT INTO alert_configurations
		(symbol, timeframe, strategy, status,
		 max_open_trades, allow_opposite_signals, replace_on_same_signal, auto_close_on_tpsl,
		 allowed_entry_signals, allowed_exit_signals,
		 required_fields, price_tolerance_pct,
		 price_min, price_max, window_start, window_end, window_tz, min_volume,
		 plan_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.Symbol, string(c.Timeframe), c.Strategy, string(c.Status),
		c.TradeMgmt.MaxOpenTrades,
		boolToInt(c.TradeMgmt.AllowOppositeSignals),
		boolToInt(c.TradeMgmt.ReplaceOnSameSignal),
		boolToInt(c.TradeMgmt.AutoCloseOnTPSL),
		joinSignals(c.AllowedEntrySignals),
		joinSignals(c.AllowedExitSignals),
		utils.JoinCSV(c.Validation.RequiredFields),
		c.Validation.PriceTolerancePct,
		c.Filters.PriceMin, c.Filters.PriceMax,
		nullString(c.Filters.WindowStart), nullString(c.Filters.WindowEnd),
		nullString(c.Filters.WindowTZ), c.Filters.MinVolume,
		utils.JoinCSV(c.PlanIDs),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create configuration: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get configuration id: %w", err)
	}
	c.ID = id

	r.log.Info().
		Int64("config_id", id).
		Str("symbol", c.Symbol).
		Str("timeframe", string(c.Timeframe)).
		Str("strategy", c.Strategy).
		Msg("Configuration created")

	return id, nil
}

// Update validates and rewrites a configuration's definition fields. Stats
// counters are owned by RecordResult and are not touched here.
func (r *Repository) Update(c *domain.AlertConfiguration) error {
	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	if err := c.Validate(); err != nil {
		return err
	}

	res, err := r.db.Exec(`
		UPDATE alert_configurations SET
			symbol = ?, timeframe = ?, strategy = ?, status = ?,
			max_open_trades = ?, allow_opposite_signals = ?, replace_on_same_signal = ?, auto_close_on_tpsl = ?,
			allowed_entry_signals = ?, allowed_exit_signals = ?,
			required_fields = ?, price_tolerance_pct = ?,
			price_min = ?, price_max = ?, window_start = ?, window_end = ?, window_tz = ?, min_volume = ?,
			plan_ids = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`,
		c.Symbol, string(c.Timeframe), c.Strategy, string(c.Status),
		c.TradeMgmt.MaxOpenTrades,
		boolToInt(c.TradeMgmt.AllowOppositeSignals),
		boolToInt(c.TradeMgmt.ReplaceOnSameSignal),
		boolToInt(c.TradeMgmt.AutoCloseOnTPSL),
		joinSignals(c.AllowedEntrySignals),
		joinSignals(c.AllowedExitSignals),
		utils.JoinCSV(c.Validation.RequiredFields),
		c.Validation.PriceTolerancePct,
		c.Filters.PriceMin, c.Filters.PriceMax,
		nullString(c.Filters.WindowStart), nullString(c.Filters.WindowEnd),
		nullString(c.Filters.WindowTZ), c.Filters.MinVolume,
		utils.JoinCSV(c.PlanIDs),
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update configuration %d: %w", c.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check configuration update %d: %w", c.ID, err)
	}
	if affected == 0 {
		return domain.NewNotFound("configuration", c.ID)
	}

	return nil
}

// GetByID returns one configuration.
func (r *Repository) GetByID(id int64) (*domain.AlertConfiguration, error) {
	query := "SELECT " + configColumns + " FROM alert_configurations WHERE id = ?"

	c, err := scanConfig(r.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFound("configuration", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get configuration %d: %w", id, err)
	}

	return c, nil
}

// FindMatching returns all active configurations for the exact match key
// (symbol, timeframe, strategy), ordered by ascending id. The matcher
// depends on this ordering for deterministic processing.
func (r *Repository) FindMatching(symbol string, timeframe domain.Timeframe, strategy string) ([]domain.AlertConfiguration, error) {
	query := "SELECT " + configColumns + ` FROM alert_configurations
		WHERE symbol = ? AND timeframe = ? AND strategy = ? AND status = ?
		ORDER BY id ASC`

	rows, err := r.db.Query(query,
		strings.ToUpper(strings.TrimSpace(symbol)), string(timeframe), strategy,
		string(domain.ConfigStatusActive))
	if err != nil {
		return nil, fmt.Errorf("failed to query matching configurations: %w", err)
	}
	defer rows.Close()

	return collectConfigs(rows)
}

// List returns all configurations ordered by id.
func (r *Repository) List() ([]domain.AlertConfiguration, error) {
	query := "SELECT " + configColumns + " FROM alert_configurations ORDER BY id ASC"

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list configurations: %w", err)
	}
	defer rows.Close()

	return collectConfigs(rows)
}

// SetStatus updates only the lifecycle status.
func (r *Repository) SetStatus(id int64, status domain.ConfigStatus) error {
	if !status.Valid() {
		return domain.NewValidationError(fmt.Sprintf("unknown status %q", status), "status")
	}

	res, err := r.db.Exec(
		"UPDATE alert_configurations SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		string(status), id)
	if err != nil {
		return fmt.Errorf("failed to set configuration %d status: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check configuration %d status update: %w", id, err)
	}
	if affected == 0 {
		return domain.NewNotFound("configuration", id)
	}

	return nil
}

// RecordResult folds one processing outcome into the configuration's stats.
// The running average uses the pre-increment total so it stays exact.
func (r *Repository) RecordResult(id int64, success bool, processingMs int64, at time.Time) error {
	successDelta := 0
	failedDelta := 1
	if success {
		successDelta = 1
		failedDelta = 0
	}

	_, err := r.db.Exec(`
		UPDATE alert_configurations SET
			stats_total = stats_total + 1,
			stats_success = stats_success + ?,
			stats_failed = stats_failed + ?,
			last_alert_at = ?,
			avg_processing_ms = (avg_processing_ms * stats_total + ?) / (stats_total + 1),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, successDelta, failedDelta, at.UTC(), processingMs, id)
	if err != nil {
		return fmt.Errorf("failed to record result for configuration %d: %w", id, err)
	}

	return nil
}

// Delete removes a configuration.
func (r *Repository) Delete(id int64) error {
	res, err := r.db.Exec("DELETE FROM alert_configurations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete configuration %d: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check configuration %d deletion: %w", id, err)
	}
	if affected == 0 {
		return domain.NewNotFound("configuration", id)
	}

	return nil
}

func collectConfigs(rows *sql.Rows) ([]domain.AlertConfiguration, error) {
	var result []domain.AlertConfiguration
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan configuration: %w", err)
		}
		result = append(result, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating configurations: %w", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(s rowScanner) (*domain.AlertConfiguration, error) {
	var c domain.AlertConfiguration
	var allowOpposite, replaceSame, autoClose int
	var entrySignals, exitSignals, requiredFields, planIDs string
	var windowStart, windowEnd, windowTZ sql.NullString
	var lastAlertAt sql.NullTime
	var createdAt, updatedAt time.Time

	err := s.Scan(
		&c.ID, &c.Symbol, &c.Timeframe, &c.Strategy, &c.Status,
		&c.TradeMgmt.MaxOpenTrades, &allowOpposite, &replaceSame, &autoClose,
		&entrySignals, &exitSignals,
		&requiredFields, &c.Validation.PriceTolerancePct,
		&c.Filters.PriceMin, &c.Filters.PriceMax,
		&windowStart, &windowEnd, &windowTZ, &c.Filters.MinVolume,
		&planIDs,
		&c.Stats.Total, &c.Stats.Success, &c.Stats.Failed, &lastAlertAt, &c.Stats.AvgProcessingMs,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.TradeMgmt.AllowOppositeSignals = allowOpposite != 0
	c.TradeMgmt.ReplaceOnSameSignal = replaceSame != 0
	c.TradeMgmt.AutoCloseOnTPSL = autoClose != 0
	c.AllowedEntrySignals = parseSignals(entrySignals)
	c.AllowedExitSignals = parseSignals(exitSignals)
	c.Validation.RequiredFields = utils.ParseCSV(requiredFields)
	c.Filters.WindowStart = windowStart.String
	c.Filters.WindowEnd = windowEnd.String
	c.Filters.WindowTZ = windowTZ.String
	c.PlanIDs = utils.ParseCSV(planIDs)
	if lastAlertAt.Valid {
		t := lastAlertAt.Time.UTC()
		c.Stats.LastAlertAt = &t
	}
	c.CreatedAt = createdAt.UTC()
	c.UpdatedAt = updatedAt.UTC()

	return &c, nil
}

func joinSignals(signals []domain.Signal) string {
	values := make([]string, 0, len(signals))
	for _, s := range signals {
		values = append(values, string(s))
	}
	return utils.JoinCSV(values)
}

func parseSignals(csv string) []domain.Signal {
	values := utils.ParseCSV(csv)
	signals := make([]domain.Signal, 0, len(values))
	for _, v := range values {
		if s, ok := domain.ParseSignal(v); ok {
			signals = append(signals, s)
		}
	}
	if len(signals) == 0 {
		return nil
	}
	return signals
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
