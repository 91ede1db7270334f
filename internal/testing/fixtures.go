package testing

import (
	"time"

	"github.com/heraldlabs/herald/internal/domain"
)

// Float64Ptr returns a pointer to the given float64. Handy for optional
// price fields in fixtures and assertions.
func Float64Ptr(v float64) *float64 { return &v }

// Int64Ptr returns a pointer to the given int64.
func Int64Ptr(v int64) *int64 { return &v }

// NewConfigFixture returns an active BTC/5m/S2 configuration matching the
// common test scenario: cap 3, replace on same signal, both entries and
// both exits allowed, eligible for the "pro" plan.
func NewConfigFixture() *domain.AlertConfiguration {
	return &domain.AlertConfiguration{
		Symbol:    "BTC",
		Timeframe: domain.Timeframe5m,
		Strategy:  "S2",
		Status:    domain.ConfigStatusActive,
		TradeMgmt: domain.TradeMgmt{
			MaxOpenTrades:       3,
			ReplaceOnSameSignal: true,
			AutoCloseOnTPSL:     true,
		},
		AllowedEntrySignals: []domain.Signal{domain.SignalBuy, domain.SignalSell},
		AllowedExitSignals:  []domain.Signal{domain.SignalTPHit, domain.SignalSLHit},
		PlanIDs:             []string{"pro"},
	}
}

// NewPrincipalFixtures returns three principals: two enabled "pro" users in
// ascending id order and one disabled user that must never receive matches.
func NewPrincipalFixtures() []domain.Principal {
	return []domain.Principal{
		{
			UserID:            "u1",
			ActivePlanIDs:     []string{"pro"},
			PreferredChannels: []string{"telegram"},
			Timezone:          "UTC",
			Enabled:           true,
		},
		{
			UserID:            "u2",
			ActivePlanIDs:     []string{"basic", "pro"},
			PreferredChannels: []string{"email"},
			Timezone:          "Europe/Athens",
			Enabled:           true,
		},
		{
			UserID:            "u3",
			ActivePlanIDs:     []string{"pro"},
			PreferredChannels: []string{"telegram"},
			Timezone:          "UTC",
			Enabled:           false,
		},
	}
}

// NewAlertDataFixture returns the canonical BUY payload used across
// pipeline tests: BTC 5m S2 entry at 45000.50 with TP/SL brackets.
func NewAlertDataFixture() domain.AlertData {
	return domain.AlertData{
		Symbol:          "BTC",
		Timeframe:       domain.Timeframe5m,
		Strategy:        "S2",
		Signal:          domain.SignalBuy,
		Price:           45000.50,
		TakeProfitPrice: Float64Ptr(46000),
		StopLossPrice:   Float64Ptr(44500),
	}
}

// NewIncomingAlertFixture wraps NewAlertDataFixture in a received record.
func NewIncomingAlertFixture(id string, receivedAt time.Time) *domain.IncomingAlert {
	return &domain.IncomingAlert{
		ID:          id,
		ReceivedAt:  receivedAt,
		SourceIP:    "203.0.113.10",
		Fingerprint: "fp-" + id,
		Data:        NewAlertDataFixture(),
		Status:      domain.ProcessingReceived,
	}
}

// NewUserAlertFixture returns an active recurring price alert for u1,
// checking BTC on the 5m interval with a 1 minute cooldown.
func NewUserAlertFixture() *domain.UserAlert {
	return &domain.UserAlert{
		UserID:   "u1",
		Symbol:   "BTC",
		Venue:    "BINANCE",
		Interval: domain.Timeframe5m,
		Type:     domain.AlertTypePrice,
		Conditions: []domain.Condition{
			{Field: domain.FieldPrice, Operator: domain.OpGreater, Value: 45000},
		},
		LogicalOperator:      domain.LogicalAnd,
		Priority:             1,
		Frequency:            domain.FrequencyRecurring,
		CooldownMs:           domain.MinCooldownMs,
		IsActive:             true,
		NotificationChannels: []string{"telegram"},
	}
}

// NewSnapshotFixture returns a market snapshot with the given price and
// reasonable filler values for the remaining fields.
func NewSnapshotFixture(symbol string, price float64, asOf time.Time) *domain.MarketSnapshot {
	return &domain.MarketSnapshot{
		Symbol:        symbol,
		Venue:         "BINANCE",
		Price:         price,
		Volume:        1_500_000,
		Change:        120.5,
		ChangePercent: 0.27,
		AsOf:          asOf,
	}
}

// NewHistoryFixture returns n synthetic OHLCV bars spaced by the interval,
// with closes walking linearly from start by step per bar. Deterministic so
// indicator tests can assert exact values.
func NewHistoryFixture(n int, start, step float64, interval time.Duration, end time.Time) []domain.OHLCV {
	bars := make([]domain.OHLCV, n)
	for i := 0; i < n; i++ {
		c := start + float64(i)*step
		bars[i] = domain.OHLCV{
			Timestamp: end.Add(-time.Duration(n-1-i) * interval),
			Open:      c - step/2,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    1000,
		}
	}
	return bars
}
