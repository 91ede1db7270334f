package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignal(t *testing.T) {
	tests := []struct {
		input    string
		expected Signal
		ok       bool
	}{
		{"BUY", SignalBuy, true},
		{"buy", SignalBuy, true},
		{" Sell ", SignalSell, true},
		{"tp_hit", SignalTPHit, true},
		{"SL_HIT", SignalSLHit, true},
		{"HOLD", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			sig, ok := ParseSignal(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, sig)
		})
	}
}

func TestSignalDirection(t *testing.T) {
	assert.True(t, SignalBuy.IsEntry())
	assert.True(t, SignalSell.IsEntry())
	assert.False(t, SignalBuy.IsExit())
	assert.True(t, SignalTPHit.IsExit())
	assert.True(t, SignalSLHit.IsExit())
	assert.False(t, SignalTPHit.IsEntry())
}

func TestTimeframeDuration(t *testing.T) {
	assert.Equal(t, 5*time.Minute, Timeframe5m.Duration())
	assert.Equal(t, 24*time.Hour, Timeframe1d.Duration())
	assert.Equal(t, 7*24*time.Hour, Timeframe1w.Duration())
	assert.Equal(t, time.Duration(0), Timeframe("3m").Duration())
	assert.True(t, Timeframe1h.Valid())
	assert.False(t, Timeframe("10m").Valid())
}

func TestPermitsSignal(t *testing.T) {
	cfg := &AlertConfiguration{
		AllowedEntrySignals: []Signal{SignalBuy},
		AllowedExitSignals:  []Signal{SignalTPHit, SignalSLHit},
	}

	assert.True(t, cfg.PermitsSignal(SignalBuy))
	assert.False(t, cfg.PermitsSignal(SignalSell))
	assert.True(t, cfg.PermitsSignal(SignalTPHit))
	assert.True(t, cfg.PermitsSignal(SignalSLHit))
}

func validConfig() *AlertConfiguration {
	return &AlertConfiguration{
		Symbol:             "BTC",
		Timeframe:          Timeframe5m,
		Strategy:           "S2",
		Status:             ConfigStatusActive,
		TradeMgmt:          TradeMgmt{MaxOpenTrades: 3, ReplaceOnSameSignal: true},
		AllowedEntrySignals: []Signal{SignalBuy, SignalSell},
		AllowedExitSignals:  []Signal{SignalTPHit, SignalSLHit},
		PlanIDs:            []string{"pro"},
	}
}

func TestAlertConfigurationValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AlertConfiguration)
		wantErr bool
		field   string
	}{
		{
			name:   "valid",
			mutate: func(c *AlertConfiguration) {},
		},
		{
			name:    "missing symbol",
			mutate:  func(c *AlertConfiguration) { c.Symbol = "" },
			wantErr: true,
			field:   "symbol",
		},
		{
			name:    "bad timeframe",
			mutate:  func(c *AlertConfiguration) { c.Timeframe = "7m" },
			wantErr: true,
			field:   "timeframe",
		},
		{
			name:    "zero max open trades",
			mutate:  func(c *AlertConfiguration) { c.TradeMgmt.MaxOpenTrades = 0 },
			wantErr: true,
			field:   "trade_mgmt.max_open_trades",
		},
		{
			name:    "max open trades above cap",
			mutate:  func(c *AlertConfiguration) { c.TradeMgmt.MaxOpenTrades = 6 },
			wantErr: true,
			field:   "trade_mgmt.max_open_trades",
		},
		{
			name: "no signals at all",
			mutate: func(c *AlertConfiguration) {
				c.AllowedEntrySignals = nil
				c.AllowedExitSignals = nil
			},
			wantErr: true,
		},
		{
			name:    "exit signal in entry set",
			mutate:  func(c *AlertConfiguration) { c.AllowedEntrySignals = []Signal{SignalTPHit} },
			wantErr: true,
		},
		{
			name: "window without timezone",
			mutate: func(c *AlertConfiguration) {
				c.Filters.WindowStart = "09:00"
				c.Filters.WindowEnd = "17:00"
			},
			wantErr: true,
			field:   "filters.window_tz",
		},
		{
			name:    "negative tolerance",
			mutate:  func(c *AlertConfiguration) { c.Validation.PriceTolerancePct = -1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsKind(err, KindValidation))
			if tt.field != "" {
				assert.Contains(t, FieldsOf(err), tt.field)
			}
		})
	}
}

func validUserAlert() *UserAlert {
	return &UserAlert{
		UserID:          "u1",
		Symbol:          "BTC",
		Venue:           "BINANCE",
		Interval:        Timeframe5m,
		Type:            AlertTypePrice,
		Conditions:      []Condition{{Field: FieldPrice, Operator: OpGreater, Value: 100}},
		LogicalOperator: LogicalAnd,
		Frequency:       FrequencyRecurring,
		CooldownMs:      MinCooldownMs,
		IsActive:        true,
	}
}

func TestUserAlertValidate(t *testing.T) {
	second := 200.0

	tests := []struct {
		name    string
		mutate  func(*UserAlert)
		wantErr bool
	}{
		{name: "valid", mutate: func(a *UserAlert) {}},
		{
			name: "valid between",
			mutate: func(a *UserAlert) {
				a.Conditions = []Condition{{Field: FieldPrice, Operator: OpBetween, Value: 100, SecondValue: &second}}
			},
		},
		{name: "missing user", mutate: func(a *UserAlert) { a.UserID = "" }, wantErr: true},
		{name: "no conditions", mutate: func(a *UserAlert) { a.Conditions = nil }, wantErr: true},
		{
			name: "too many conditions",
			mutate: func(a *UserAlert) {
				a.Conditions = make([]Condition, 6)
				for i := range a.Conditions {
					a.Conditions[i] = Condition{Field: FieldPrice, Operator: OpGreater, Value: 1}
				}
			},
			wantErr: true,
		},
		{
			name: "between without second value",
			mutate: func(a *UserAlert) {
				a.Conditions = []Condition{{Field: FieldPrice, Operator: OpBetween, Value: 100}}
			},
			wantErr: true,
		},
		{
			name: "custom without expression",
			mutate: func(a *UserAlert) {
				a.Conditions = []Condition{{Field: FieldCustom, Operator: OpGreater, Value: 0}}
			},
			wantErr: true,
		},
		{name: "cooldown too short", mutate: func(a *UserAlert) { a.CooldownMs = 1000 }, wantErr: true},
		{name: "cooldown too long", mutate: func(a *UserAlert) { a.CooldownMs = MaxCooldownMs + 1 }, wantErr: true},
		{name: "bad operator", mutate: func(a *UserAlert) { a.LogicalOperator = "XOR" }, wantErr: true},
		{
			name: "once without max triggers",
			mutate: func(a *UserAlert) {
				a.Frequency = FrequencyOnce
				a.MaxTriggers = 0
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alert := validUserAlert()
			tt.mutate(alert)
			err := alert.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsKind(err, KindValidation))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestUserAlertCanTrigger(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-30 * time.Second)
	old := now.Add(-10 * time.Minute)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name     string
		mutate   func(*UserAlert)
		expected bool
	}{
		{name: "active alert", mutate: func(a *UserAlert) {}, expected: true},
		{name: "inactive", mutate: func(a *UserAlert) { a.IsActive = false }, expected: false},
		{name: "paused", mutate: func(a *UserAlert) { a.IsPaused = true }, expected: false},
		{name: "expired", mutate: func(a *UserAlert) { a.ExpiresAt = &past }, expected: false},
		{name: "not yet expired", mutate: func(a *UserAlert) { a.ExpiresAt = &future }, expected: true},
		{
			name:     "inside cooldown",
			mutate:   func(a *UserAlert) { a.LastTriggered = &recent },
			expected: false,
		},
		{
			name:     "cooldown elapsed",
			mutate:   func(a *UserAlert) { a.LastTriggered = &old },
			expected: true,
		},
		{
			name: "once alert exhausted",
			mutate: func(a *UserAlert) {
				a.Frequency = FrequencyOnce
				a.MaxTriggers = 1
				a.TriggerCount = 1
			},
			expected: false,
		},
		{
			name: "recurring ignores max triggers",
			mutate: func(a *UserAlert) {
				a.MaxTriggers = 1
				a.TriggerCount = 5
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alert := validUserAlert()
			tt.mutate(alert)
			assert.Equal(t, tt.expected, alert.CanTrigger(now))
		})
	}
}

func TestHasAnyPlan(t *testing.T) {
	p := &Principal{UserID: "u1", ActivePlanIDs: []string{"basic", "pro"}}

	assert.True(t, p.HasAnyPlan([]string{"pro"}))
	assert.True(t, p.HasAnyPlan([]string{"enterprise", "basic"}))
	assert.False(t, p.HasAnyPlan([]string{"enterprise"}))
	assert.False(t, p.HasAnyPlan(nil))
}

func TestProcessingStatusTerminal(t *testing.T) {
	assert.False(t, ProcessingReceived.Terminal())
	assert.False(t, ProcessingProcessing.Terminal())
	assert.True(t, ProcessingProcessed.Terminal())
	assert.True(t, ProcessingFailed.Terminal())
}
