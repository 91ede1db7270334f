// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe represents a chart timeframe attached to signals and configurations.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe2h  Timeframe = "2h"
	Timeframe4h  Timeframe = "4h"
	Timeframe6h  Timeframe = "6h"
	Timeframe12h Timeframe = "12h"
	Timeframe1d  Timeframe = "1d"
	Timeframe1w  Timeframe = "1w"
)

var timeframeDurations = map[Timeframe]time.Duration{
	Timeframe1m:  time.Minute,
	Timeframe5m:  5 * time.Minute,
	Timeframe15m: 15 * time.Minute,
	Timeframe30m: 30 * time.Minute,
	Timeframe1h:  time.Hour,
	Timeframe2h:  2 * time.Hour,
	Timeframe4h:  4 * time.Hour,
	Timeframe6h:  6 * time.Hour,
	Timeframe12h: 12 * time.Hour,
	Timeframe1d:  24 * time.Hour,
	Timeframe1w:  7 * 24 * time.Hour,
}

// Valid reports whether the timeframe is one of the supported values.
func (t Timeframe) Valid() bool {
	_, ok := timeframeDurations[t]
	return ok
}

// Duration returns the wall-clock length of one bar of this timeframe.
// Returns 0 for unknown timeframes.
func (t Timeframe) Duration() time.Duration {
	return timeframeDurations[t]
}

// Signal represents the direction or exit type carried by an incoming alert.
type Signal string

const (
	SignalBuy   Signal = "BUY"
	SignalSell  Signal = "SELL"
	SignalTPHit Signal = "TP_HIT"
	SignalSLHit Signal = "SL_HIT"
)

// ParseSignal parses a signal case-insensitively.
func ParseSignal(s string) (Signal, bool) {
	switch Signal(strings.ToUpper(strings.TrimSpace(s))) {
	case SignalBuy:
		return SignalBuy, true
	case SignalSell:
		return SignalSell, true
	case SignalTPHit:
		return SignalTPHit, true
	case SignalSLHit:
		return SignalSLHit, true
	}
	return "", false
}

// IsEntry reports whether the signal opens a position.
func (s Signal) IsEntry() bool { return s == SignalBuy || s == SignalSell }

// IsExit reports whether the signal closes a position.
func (s Signal) IsExit() bool { return s == SignalTPHit || s == SignalSLHit }

// ConfigStatus is the lifecycle status of an alert configuration.
type ConfigStatus string

const (
	ConfigStatusActive   ConfigStatus = "active"
	ConfigStatusInactive ConfigStatus = "inactive"
	ConfigStatusTesting  ConfigStatus = "testing"
)

// Valid reports whether the status is a known value.
func (s ConfigStatus) Valid() bool {
	return s == ConfigStatusActive || s == ConfigStatusInactive || s == ConfigStatusTesting
}

// TradeMgmt holds the per-configuration trade concurrency policy.
type TradeMgmt struct {
	MaxOpenTrades        int  `json:"max_open_trades"`
	AllowOppositeSignals bool `json:"allow_opposite_signals"`
	ReplaceOnSameSignal  bool `json:"replace_on_same_signal"`
	AutoCloseOnTPSL      bool `json:"auto_close_on_tpsl"`
}

// ValidationRules holds configuration-level payload requirements applied
// during matching.
type ValidationRules struct {
	RequiredFields    []string `json:"required_fields"`
	PriceTolerancePct float64  `json:"price_tolerance_pct"`
}

// ConfigFilters holds optional matching filters. Window times are "HH:MM"
// in the configured IANA timezone; a window where start > end wraps midnight.
type ConfigFilters struct {
	PriceMin    *float64 `json:"price_min,omitempty"`
	PriceMax    *float64 `json:"price_max,omitempty"`
	WindowStart string   `json:"window_start,omitempty"`
	WindowEnd   string   `json:"window_end,omitempty"`
	WindowTZ    string   `json:"window_tz,omitempty"`
	MinVolume   *float64 `json:"min_volume,omitempty"`
}

// HasWindow reports whether a daily time window filter is configured.
func (f ConfigFilters) HasWindow() bool {
	return f.WindowStart != "" && f.WindowEnd != ""
}

// ConfigStats holds per-configuration processing counters.
type ConfigStats struct {
	Total           int64      `json:"total"`
	Success         int64      `json:"success"`
	Failed          int64      `json:"failed"`
	LastAlertAt     *time.Time `json:"last_alert_at,omitempty"`
	AvgProcessingMs float64    `json:"avg_processing_ms"`
}

// AlertConfiguration is an admin-defined matching template. The match key
// (symbol, timeframe, strategy, status=active) is not unique; several
// configurations may match one incoming alert.
type AlertConfiguration struct {
	ID                  int64           `json:"id"`
	Symbol              string          `json:"symbol"`
	Timeframe           Timeframe       `json:"timeframe"`
	Strategy            string          `json:"strategy"`
	Status              ConfigStatus    `json:"status"`
	TradeMgmt           TradeMgmt       `json:"trade_mgmt"`
	AllowedEntrySignals []Signal        `json:"allowed_entry_signals"`
	AllowedExitSignals  []Signal        `json:"allowed_exit_signals"`
	Validation          ValidationRules `json:"validation"`
	Filters             ConfigFilters   `json:"filters"`
	PlanIDs             []string        `json:"plan_ids"`
	Stats               ConfigStats     `json:"stats"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// PermitsSignal reports whether the configuration accepts the signal,
// checking entry signals for BUY/SELL and exit signals for TP_HIT/SL_HIT.
func (c *AlertConfiguration) PermitsSignal(sig Signal) bool {
	allowed := c.AllowedEntrySignals
	if sig.IsExit() {
		allowed = c.AllowedExitSignals
	}
	for _, s := range allowed {
		if s == sig {
			return true
		}
	}
	return false
}

// Validate checks structural invariants before persisting a configuration.
func (c *AlertConfiguration) Validate() error {
	if c.Symbol == "" {
		return NewValidationError("symbol is required", "symbol")
	}
	if !c.Timeframe.Valid() {
		return NewValidationError(fmt.Sprintf("unknown timeframe %q", c.Timeframe), "timeframe")
	}
	if c.Strategy == "" {
		return NewValidationError("strategy is required", "strategy")
	}
	if !c.Status.Valid() {
		return NewValidationError(fmt.Sprintf("unknown status %q", c.Status), "status")
	}
	if c.TradeMgmt.MaxOpenTrades < 1 || c.TradeMgmt.MaxOpenTrades > 5 {
		return NewValidationError("max_open_trades must be between 1 and 5", "trade_mgmt.max_open_trades")
	}
	if len(c.AllowedEntrySignals) == 0 && len(c.AllowedExitSignals) == 0 {
		return NewValidationError("at least one entry or exit signal must be allowed",
			"allowed_entry_signals", "allowed_exit_signals")
	}
	for _, s := range c.AllowedEntrySignals {
		if !s.IsEntry() {
			return NewValidationError(fmt.Sprintf("%s is not an entry signal", s), "allowed_entry_signals")
		}
	}
	for _, s := range c.AllowedExitSignals {
		if !s.IsExit() {
			return NewValidationError(fmt.Sprintf("%s is not an exit signal", s), "allowed_exit_signals")
		}
	}
	if c.Validation.PriceTolerancePct < 0 {
		return NewValidationError("price tolerance must not be negative", "validation.price_tolerance_pct")
	}
	if c.Filters.HasWindow() && c.Filters.WindowTZ == "" {
		return NewValidationError("time window requires a timezone", "filters.window_tz")
	}
	return nil
}

// ProcessingStatus tracks an incoming alert through the pipeline.
// It advances monotonically; processed and failed are terminal.
type ProcessingStatus string

const (
	ProcessingReceived   ProcessingStatus = "received"
	ProcessingProcessing ProcessingStatus = "processing"
	ProcessingProcessed  ProcessingStatus = "processed"
	ProcessingFailed     ProcessingStatus = "failed"
)

// Terminal reports whether the status can no longer advance.
func (s ProcessingStatus) Terminal() bool {
	return s == ProcessingProcessed || s == ProcessingFailed
}

// AlertData is the decoded webhook payload carried by an incoming alert.
type AlertData struct {
	Symbol          string         `json:"symbol"`
	Timeframe       Timeframe      `json:"timeframe"`
	Strategy        string         `json:"strategy"`
	Signal          Signal         `json:"signal"`
	Price           float64        `json:"price"`
	TakeProfitPrice *float64       `json:"take_profit_price,omitempty"`
	StopLossPrice   *float64       `json:"stop_loss_price,omitempty"`
	Timestamp       *time.Time     `json:"timestamp,omitempty"`
	TradeNumber     *int64         `json:"trade_number,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Trade action verbs recorded on an incoming alert after trade processing.
const (
	TradeActionOpen    = "open"
	TradeActionReplace = "replace"
	TradeActionClose   = "close"
	TradeActionSkip    = "skip"
)

// TradeAction records one trade-manager decision for one (user, config) pair.
type TradeAction struct {
	Action      string `json:"action"`
	UserID      string `json:"user_id"`
	ConfigID    int64  `json:"config_id"`
	TradeNumber int64  `json:"trade_number,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// IncomingAlert is the immutable record of one external signal. Only the
// processing fields mutate, and only until a terminal status is reached.
type IncomingAlert struct {
	ID               string           `json:"id"`
	ReceivedAt       time.Time        `json:"received_at"`
	SourceIP         string           `json:"source_ip"`
	Fingerprint      string           `json:"fingerprint"`
	Data             AlertData        `json:"data"`
	Status           ProcessingStatus `json:"status"`
	MatchedConfigIDs []int64          `json:"matched_config_ids"`
	MatchedUsers     []string         `json:"matched_users"`
	TradeActions     []TradeAction    `json:"trade_actions"`
	Errors           []string         `json:"errors"`
	ProcessingMs     int64            `json:"processing_ms"`
}

// AlertType classifies what a user alert monitors.
type AlertType string

const (
	AlertTypePrice     AlertType = "price"
	AlertTypeVolume    AlertType = "volume"
	AlertTypeTechnical AlertType = "technical"
	AlertTypeCustom    AlertType = "custom"
)

// Valid reports whether the alert type is a known value.
func (t AlertType) Valid() bool {
	return t == AlertTypePrice || t == AlertTypeVolume || t == AlertTypeTechnical || t == AlertTypeCustom
}

// Frequency controls whether a user alert keeps firing after its first trigger.
type Frequency string

const (
	FrequencyOnce      Frequency = "once"
	FrequencyRecurring Frequency = "recurring"
)

// LogicalOperator combines multiple condition results.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// ConditionField names the value a condition compares against.
type ConditionField string

const (
	FieldPrice         ConditionField = "price"
	FieldVolume        ConditionField = "volume"
	FieldChange        ConditionField = "change"
	FieldChangePercent ConditionField = "changePercent"
	FieldMarketCap     ConditionField = "marketCap"
	FieldSMA           ConditionField = "sma"
	FieldEMA           ConditionField = "ema"
	FieldRSI           ConditionField = "rsi"
	FieldMACD          ConditionField = "macd"
	FieldBollinger     ConditionField = "bollinger"
	FieldCustom        ConditionField = "custom"
)

// Valid reports whether the field is a known value.
func (f ConditionField) Valid() bool {
	switch f {
	case FieldPrice, FieldVolume, FieldChange, FieldChangePercent, FieldMarketCap,
		FieldSMA, FieldEMA, FieldRSI, FieldMACD, FieldBollinger, FieldCustom:
		return true
	}
	return false
}

// Indicator reports whether the field requires OHLCV history to resolve.
func (f ConditionField) Indicator() bool {
	switch f {
	case FieldSMA, FieldEMA, FieldRSI, FieldMACD, FieldBollinger:
		return true
	}
	return false
}

// ConditionOperator is the comparison applied between a resolved field value
// and the condition target(s).
type ConditionOperator string

const (
	OpGreater      ConditionOperator = ">"
	OpLess         ConditionOperator = "<"
	OpGreaterEqual ConditionOperator = ">="
	OpLessEqual    ConditionOperator = "<="
	OpEqual        ConditionOperator = "=="
	OpNotEqual     ConditionOperator = "!="
	OpCrossesAbove ConditionOperator = "crosses_above"
	OpCrossesBelow ConditionOperator = "crosses_below"
	OpBetween      ConditionOperator = "between"
	OpNotBetween   ConditionOperator = "not_between"
)

// Valid reports whether the operator is a known value.
func (o ConditionOperator) Valid() bool {
	switch o {
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual, OpEqual, OpNotEqual,
		OpCrossesAbove, OpCrossesBelow, OpBetween, OpNotBetween:
		return true
	}
	return false
}

// Crossing reports whether the operator compares against the previous
// observation as well as the current one.
func (o ConditionOperator) Crossing() bool {
	return o == OpCrossesAbove || o == OpCrossesBelow
}

// Condition is a single comparison inside a user alert. Period applies to
// indicator fields (0 means the indicator default); Expression applies to
// the custom field only.
type Condition struct {
	Field       ConditionField    `json:"field"`
	Operator    ConditionOperator `json:"operator"`
	Value       float64           `json:"value"`
	SecondValue *float64          `json:"second_value,omitempty"`
	Period      int               `json:"period,omitempty"`
	Expression  string            `json:"expression,omitempty"`
}

// Validate checks one condition for structural soundness.
func (c Condition) Validate() error {
	if !c.Field.Valid() {
		return NewValidationError(fmt.Sprintf("unknown condition field %q", c.Field), "conditions.field")
	}
	if !c.Operator.Valid() {
		return NewValidationError(fmt.Sprintf("unknown operator %q", c.Operator), "conditions.operator")
	}
	if (c.Operator == OpBetween || c.Operator == OpNotBetween) && c.SecondValue == nil {
		return NewValidationError("between operators require a second value", "conditions.second_value")
	}
	if c.Field == FieldCustom && strings.TrimSpace(c.Expression) == "" {
		return NewValidationError("custom conditions require an expression", "conditions.expression")
	}
	if c.Period < 0 {
		return NewValidationError("period must not be negative", "conditions.period")
	}
	return nil
}

// ExecutionRecord is one entry of a user alert's evaluation history.
type ExecutionRecord struct {
	At        time.Time `json:"at" msgpack:"at"`
	Triggered bool      `json:"triggered" msgpack:"triggered"`
	Value     float64   `json:"value" msgpack:"value"`
	Error     string    `json:"error,omitempty" msgpack:"error,omitempty"`
}

// AlertPerformance aggregates evaluation outcomes for a user alert.
type AlertPerformance struct {
	TotalEvaluations  int64   `json:"total_evaluations"`
	TotalTriggers     int64   `json:"total_triggers"`
	FailedEvaluations int64   `json:"failed_evaluations"`
	Accuracy          float64 `json:"accuracy"`
}

// Cooldown and sizing bounds for user alerts.
const (
	MinCooldownMs = 60_000
	MaxCooldownMs = 86_400_000
	// MaxExecutionHistory caps the per-alert history ring buffer.
	MaxExecutionHistory = 100
	// MaxConditions caps the conditions attached to one user alert.
	MaxConditions = 5
)

// UserAlert is a user-owned monitoring rule evaluated by the scheduler.
// The user owns CRUD; only the scheduler mutates runtime fields (next check,
// trigger counters, history).
type UserAlert struct {
	ID                   int64             `json:"id"`
	UserID               string            `json:"user_id"`
	Symbol               string            `json:"symbol"`
	Venue                string            `json:"venue"`
	Interval             Timeframe         `json:"interval"`
	Type                 AlertType         `json:"type"`
	Conditions           []Condition       `json:"conditions"`
	LogicalOperator      LogicalOperator   `json:"logical_operator"`
	Priority             int               `json:"priority"`
	Frequency            Frequency         `json:"frequency"`
	MaxTriggers          int               `json:"max_triggers"`
	TriggerCount         int               `json:"trigger_count"`
	CooldownMs           int64             `json:"cooldown_ms"`
	FailedCount          int               `json:"failed_count"`
	LastTriggered        *time.Time        `json:"last_triggered,omitempty"`
	LastChecked          *time.Time        `json:"last_checked,omitempty"`
	NextCheck            *time.Time        `json:"next_check,omitempty"`
	ExpiresAt            *time.Time        `json:"expires_at,omitempty"`
	IsActive             bool              `json:"is_active"`
	IsPaused             bool              `json:"is_paused"`
	NotificationChannels []string          `json:"notification_channels"`
	ExecutionHistory     []ExecutionRecord `json:"execution_history,omitempty"`
	Performance          AlertPerformance  `json:"performance"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// CanTrigger reports whether the alert is allowed to fire at the given time.
func (a *UserAlert) CanTrigger(now time.Time) bool {
	if !a.IsActive || a.IsPaused {
		return false
	}
	if a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
		return false
	}
	if a.LastTriggered != nil && now.Sub(*a.LastTriggered) < time.Duration(a.CooldownMs)*time.Millisecond {
		return false
	}
	if a.Frequency != FrequencyRecurring && a.TriggerCount >= a.MaxTriggers {
		return false
	}
	return true
}

// Validate checks structural invariants before persisting a user alert.
func (a *UserAlert) Validate() error {
	if a.UserID == "" {
		return NewValidationError("user_id is required", "user_id")
	}
	if a.Symbol == "" {
		return NewValidationError("symbol is required", "symbol")
	}
	if !a.Interval.Valid() {
		return NewValidationError(fmt.Sprintf("unknown interval %q", a.Interval), "interval")
	}
	if !a.Type.Valid() {
		return NewValidationError(fmt.Sprintf("unknown alert type %q", a.Type), "type")
	}
	if len(a.Conditions) == 0 || len(a.Conditions) > MaxConditions {
		return NewValidationError(fmt.Sprintf("conditions must contain 1 to %d entries", MaxConditions), "conditions")
	}
	for _, c := range a.Conditions {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	if a.LogicalOperator != LogicalAnd && a.LogicalOperator != LogicalOr {
		return NewValidationError(fmt.Sprintf("unknown logical operator %q", a.LogicalOperator), "logical_operator")
	}
	if a.CooldownMs < MinCooldownMs || a.CooldownMs > MaxCooldownMs {
		return NewValidationError("cooldown_ms out of range", "cooldown_ms")
	}
	if a.Frequency != FrequencyOnce && a.Frequency != FrequencyRecurring {
		return NewValidationError(fmt.Sprintf("unknown frequency %q", a.Frequency), "frequency")
	}
	if a.Frequency == FrequencyOnce && a.MaxTriggers < 1 {
		return NewValidationError("max_triggers must be at least 1", "max_triggers")
	}
	return nil
}

// TradeStatus is the lifecycle status of a virtual trade.
type TradeStatus string

const (
	TradeStatusOpen     TradeStatus = "open"
	TradeStatusClosed   TradeStatus = "closed"
	TradeStatusReplaced TradeStatus = "replaced"
)

// ExitReason explains why a trade left the open state.
type ExitReason string

const (
	ExitReasonTPHit    ExitReason = "TP_HIT"
	ExitReasonSLHit    ExitReason = "SL_HIT"
	ExitReasonReplaced ExitReason = "REPLACED"
	ExitReasonManual   ExitReason = "MANUAL"
)

// PnL is the realized result of a closed trade, rounded to 2 decimals.
// Defined only for closed trades with an exit price; never for replaced ones.
type PnL struct {
	Amount     float64 `json:"amount"`
	Percentage float64 `json:"percentage"`
	Currency   string  `json:"currency"`
}

// Trade is a per-user virtual position created from one incoming alert.
// TradeNumber is globally monotonic and doubles as the trade's identity;
// ReplacedBy is a lookup number, never a structural pointer.
type Trade struct {
	TradeNumber       int64       `json:"trade_number"`
	UserID            string      `json:"user_id"`
	ConfigID          int64       `json:"config_id"`
	AlertID           string      `json:"alert_id"`
	Symbol            string      `json:"symbol"`
	Timeframe         Timeframe   `json:"timeframe"`
	Strategy          string      `json:"strategy"`
	Signal            Signal      `json:"signal"`
	EntryPrice        float64     `json:"entry_price"`
	TakeProfitPrice   *float64    `json:"take_profit_price,omitempty"`
	StopLossPrice     *float64    `json:"stop_loss_price,omitempty"`
	ExitPrice         *float64    `json:"exit_price,omitempty"`
	ExitReason        *ExitReason `json:"exit_reason,omitempty"`
	Status            TradeStatus `json:"status"`
	OpenedAt          time.Time   `json:"opened_at"`
	ClosedAt          *time.Time  `json:"closed_at,omitempty"`
	ReplacedAt        *time.Time  `json:"replaced_at,omitempty"`
	ReplacedBy        *int64      `json:"replaced_by,omitempty"`
	ReplacementReason *string     `json:"replacement_reason,omitempty"`
	PnL               *PnL        `json:"pnl,omitempty"`
}

// Principal is a consumed identity record. Authentication itself is out of
// scope; the directory reads the root-level failed_login_attempts field and
// ignores any nested security duplicates upstream systems may carry.
type Principal struct {
	UserID              string    `json:"user_id"`
	ActivePlanIDs       []string  `json:"active_plan_ids"`
	PreferredChannels   []string  `json:"preferred_channels"`
	Timezone            string    `json:"timezone"`
	Enabled             bool      `json:"enabled"`
	FailedLoginAttempts int       `json:"failed_login_attempts"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// HasAnyPlan reports whether the principal holds at least one of the plans.
func (p *Principal) HasAnyPlan(planIDs []string) bool {
	for _, want := range planIDs {
		for _, have := range p.ActivePlanIDs {
			if want == have {
				return true
			}
		}
	}
	return false
}

// NotificationKind classifies outbound notifications.
type NotificationKind string

const (
	NotificationEntry     NotificationKind = "ENTRY"
	NotificationExit      NotificationKind = "EXIT"
	NotificationReplace   NotificationKind = "REPLACE"
	NotificationUserAlert NotificationKind = "USER_ALERT"
)

// Notification is a channel-agnostic message handed to the notification bus.
// Body is opaque to the core; downstream renderers format per channel.
type Notification struct {
	ID       string            `json:"id"`
	UserID   string            `json:"user_id"`
	Kind     NotificationKind  `json:"kind"`
	Body     string            `json:"body"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MarketSnapshot is a point-in-time quote with optional indicator values.
type MarketSnapshot struct {
	Symbol        string             `json:"symbol"`
	Venue         string             `json:"venue"`
	Price         float64            `json:"price"`
	Volume        float64            `json:"volume"`
	Change        float64            `json:"change"`
	ChangePercent float64            `json:"change_percent"`
	MarketCap     *float64           `json:"market_cap,omitempty"`
	Indicators    map[string]float64 `json:"indicators,omitempty"`
	AsOf          time.Time          `json:"as_of"`
}

// OHLCV is one history bar.
type OHLCV struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}
