// Package matching resolves incoming alerts against the configuration
// registry: it finds the configurations whose match key fits the alert,
// applies per-configuration validation and filters, and expands each
// surviving configuration into its eligible users.
package matching

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/domain"
	"github.com/heraldlabs/herald/internal/modules/configs"
)

// ConfigMatch pairs one surviving configuration with its eligible users,
// ordered by ascending user id. A match with no users still counts: the
// configuration's stats advance even when nobody is subscribed.
type ConfigMatch struct {
	Config domain.AlertConfiguration
	Users  []domain.Principal
}

// Rejection records a configuration that matched the key but failed its
// validation rules or filters. The reason lands in the incoming alert's
// error list and the configuration's failed counter.
type Rejection struct {
	ConfigID int64
	Reason   string
}

// Matcher resolves alerts to (configuration, users) pairs. Configurations
// are visited in ascending id, users in ascending user id; the pipeline
// depends on this determinism.
type Matcher struct {
	configs   *configs.Repository
	directory domain.PrincipalDirectory
	log       zerolog.Logger
}

// NewMatcher creates a matcher over the configuration repository and the
// principal directory.
func NewMatcher(configRepo *configs.Repository, directory domain.PrincipalDirectory, log zerolog.Logger) *Matcher {
	return &Matcher{
		configs:   configRepo,
		directory: directory,
		log:       log.With().Str("component", "matcher").Logger(),
	}
}

// Match finds every active configuration for the alert's (symbol, timeframe,
// strategy) key, drops those that do not permit the signal, applies
// validation and filters, and resolves eligible users for the survivors.
func (m *Matcher) Match(ctx context.Context, alert *domain.IncomingAlert) ([]ConfigMatch, []Rejection, error) {
	candidates, err := m.configs.FindMatching(alert.Data.Symbol, alert.Data.Timeframe, alert.Data.Strategy)
	if err != nil {
		return nil, nil, err
	}

	var matches []ConfigMatch
	var rejections []Rejection

	for _, cfg := range candidates {
		// Signal permission is a plain filter: a BUY arriving at an
		// exit-only configuration is not an error, just not relevant.
		if !cfg.PermitsSignal(alert.Data.Signal) {
			continue
		}

		if reason := rejects(&cfg, alert); reason != "" {
			m.log.Debug().
				Str("alert_id", alert.ID).
				Int64("config_id", cfg.ID).
				Str("reason", reason).
				Msg("Configuration rejected alert")
			rejections = append(rejections, Rejection{ConfigID: cfg.ID, Reason: reason})
			continue
		}

		users, err := m.directory.EligibleForPlans(ctx, cfg.PlanIDs)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to resolve users for configuration %d: %w", cfg.ID, err)
		}

		matches = append(matches, ConfigMatch{Config: cfg, Users: users})
	}

	return matches, rejections, nil
}

// rejects applies a configuration's validation rules and filters to an
// alert, returning an empty string when the alert passes.
func rejects(cfg *domain.AlertConfiguration, alert *domain.IncomingAlert) string {
	data := &alert.Data

	for _, field := range cfg.Validation.RequiredFields {
		if !hasField(data, field) {
			return fmt.Sprintf("missing required field %s", field)
		}
	}

	if tol := cfg.Validation.PriceTolerancePct; tol > 0 {
		if data.TakeProfitPrice != nil && pctDistance(data.Price, *data.TakeProfitPrice) > tol {
			return fmt.Sprintf("takeProfitPrice outside %.2f%% tolerance", tol)
		}
		if data.StopLossPrice != nil && pctDistance(data.Price, *data.StopLossPrice) > tol {
			return fmt.Sprintf("stopLossPrice outside %.2f%% tolerance", tol)
		}
	}

	if cfg.Filters.PriceMin != nil && data.Price < *cfg.Filters.PriceMin {
		return fmt.Sprintf("price %.8g below minimum %.8g", data.Price, *cfg.Filters.PriceMin)
	}
	if cfg.Filters.PriceMax != nil && data.Price > *cfg.Filters.PriceMax {
		return fmt.Sprintf("price %.8g above maximum %.8g", data.Price, *cfg.Filters.PriceMax)
	}

	if cfg.Filters.HasWindow() {
		ok, err := inWindow(cfg.Filters, alert.ReceivedAt)
		if err != nil {
			return fmt.Sprintf("invalid time window: %v", err)
		}
		if !ok {
			return fmt.Sprintf("received outside window %s-%s %s",
				cfg.Filters.WindowStart, cfg.Filters.WindowEnd, cfg.Filters.WindowTZ)
		}
	}

	if cfg.Filters.MinVolume != nil {
		volume, ok := metadataVolume(data.Metadata)
		if !ok {
			return "volume floor set but payload carries no volume"
		}
		if volume < *cfg.Filters.MinVolume {
			return fmt.Sprintf("volume %.8g below floor %.8g", volume, *cfg.Filters.MinVolume)
		}
	}

	return ""
}

// hasField reports whether an optional payload field is present, using the
// webhook JSON names. Schema-mandatory fields always pass.
func hasField(data *domain.AlertData, field string) bool {
	switch field {
	case "symbol", "timeframe", "strategy", "signal", "price":
		return true
	case "takeProfitPrice":
		return data.TakeProfitPrice != nil
	case "stopLossPrice":
		return data.StopLossPrice != nil
	case "timestamp":
		return data.Timestamp != nil
	case "tradeNumber":
		return data.TradeNumber != nil
	case "metadata":
		return len(data.Metadata) > 0
	}
	return false
}

// pctDistance returns |a-b| as a percentage of a.
func pctDistance(a, b float64) float64 {
	if a == 0 {
		return math.Inf(1)
	}
	return math.Abs(a-b) / math.Abs(a) * 100
}

// inWindow reports whether t falls inside the daily window, evaluated in
// the configured timezone. Start is inclusive, end exclusive; start after
// end wraps midnight.
func inWindow(f domain.ConfigFilters, t time.Time) (bool, error) {
	loc, err := time.LoadLocation(f.WindowTZ)
	if err != nil {
		return false, fmt.Errorf("unknown timezone %q", f.WindowTZ)
	}
	start, err := minutesOfDay(f.WindowStart)
	if err != nil {
		return false, err
	}
	end, err := minutesOfDay(f.WindowEnd)
	if err != nil {
		return false, err
	}

	local := t.In(loc)
	minute := local.Hour()*60 + local.Minute()

	if start <= end {
		return minute >= start && minute < end, nil
	}
	// Wrapped window, e.g. 22:00-02:00.
	return minute >= start || minute < end, nil
}

func minutesOfDay(hhmm string) (int, error) {
	parsed, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("bad window time %q", hhmm)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

// metadataVolume reads a numeric "volume" entry from passthrough metadata.
// JSON numbers decode as float64; integers from internal callers are
// accepted too.
func metadataVolume(meta map[string]any) (float64, bool) {
	raw, ok := meta["volume"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
