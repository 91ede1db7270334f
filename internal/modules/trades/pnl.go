package trades

import (
	"github.com/shopspring/decimal"

	"github.com/heraldlabs/herald/internal/domain"
)

// DefaultCurrency applies when the closing alert's metadata carries no
// currency override.
const DefaultCurrency = "USD"

// ComputePnL returns the realized result of closing a position opened in the
// direction of signal at entryPrice and exited at exitPrice. Amounts and
// percentages are rounded to 2 decimals with banker's rounding. Returns nil
// for a zero entry price, which cannot occur for trades created through
// payload validation.
func ComputePnL(signal domain.Signal, entryPrice, exitPrice float64, currency string) *domain.PnL {
	if entryPrice == 0 {
		return nil
	}
	if currency == "" {
		currency = DefaultCurrency
	}

	entry := decimal.NewFromFloat(entryPrice)
	exit := decimal.NewFromFloat(exitPrice)

	amount := exit.Sub(entry)
	if signal == domain.SignalSell {
		amount = entry.Sub(exit)
	}
	percentage := amount.Div(entry).Mul(decimal.NewFromInt(100))

	return &domain.PnL{
		Amount:     amount.RoundBank(2).InexactFloat64(),
		Percentage: percentage.RoundBank(2).InexactFloat64(),
		Currency:   currency,
	}
}

// CurrencyFromMetadata extracts a currency override from alert metadata.
func CurrencyFromMetadata(metadata map[string]any) string {
	if metadata == nil {
		return ""
	}
	if c, ok := metadata["currency"].(string); ok {
		return c
	}
	return ""
}
