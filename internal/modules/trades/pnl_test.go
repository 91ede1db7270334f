package trades

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldlabs/herald/internal/domain"
)

func TestComputePnLBuy(t *testing.T) {
	pnl := ComputePnL(domain.SignalBuy, 45000.50, 46000, "")
	require.NotNil(t, pnl)
	assert.Equal(t, 999.50, pnl.Amount)
	assert.Equal(t, 2.22, pnl.Percentage)
	assert.Equal(t, "USD", pnl.Currency)
}

func TestComputePnLSell(t *testing.T) {
	// A short profits when price falls.
	pnl := ComputePnL(domain.SignalSell, 100, 90, "")
	require.NotNil(t, pnl)
	assert.Equal(t, 10.0, pnl.Amount)
	assert.Equal(t, 10.0, pnl.Percentage)

	pnl = ComputePnL(domain.SignalSell, 100, 110, "")
	require.NotNil(t, pnl)
	assert.Equal(t, -10.0, pnl.Amount)
	assert.Equal(t, -10.0, pnl.Percentage)
}

func TestComputePnLBankersRounding(t *testing.T) {
	// Half-to-even: 0.125 rounds down to 0.12, 0.135 rounds up to 0.14.
	pnl := ComputePnL(domain.SignalBuy, 100, 100.125, "")
	require.NotNil(t, pnl)
	assert.Equal(t, 0.12, pnl.Amount)

	pnl = ComputePnL(domain.SignalBuy, 100, 100.135, "")
	require.NotNil(t, pnl)
	assert.Equal(t, 0.14, pnl.Amount)
}

func TestComputePnLCurrencyOverride(t *testing.T) {
	pnl := ComputePnL(domain.SignalBuy, 100, 110, "EUR")
	require.NotNil(t, pnl)
	assert.Equal(t, "EUR", pnl.Currency)
}

func TestComputePnLZeroEntry(t *testing.T) {
	assert.Nil(t, ComputePnL(domain.SignalBuy, 0, 100, ""))
}

func TestCurrencyFromMetadata(t *testing.T) {
	assert.Equal(t, "", CurrencyFromMetadata(nil))
	assert.Equal(t, "", CurrencyFromMetadata(map[string]any{"currency": 42}))
	assert.Equal(t, "EUR", CurrencyFromMetadata(map[string]any{"currency": "EUR"}))
}
