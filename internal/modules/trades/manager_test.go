package trades

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldlabs/herald/internal/clock"
	"github.com/heraldlabs/herald/internal/domain"
	"github.com/heraldlabs/herald/internal/events"
	"github.com/heraldlabs/herald/internal/locks"
	htesting "github.com/heraldlabs/herald/internal/testing"
)

type managerFixture struct {
	manager *Manager
	repo    *Repository
	clock   *clock.Manual
	cfg     *domain.AlertConfiguration
	cleanup func()
}

func newManagerFixture(t *testing.T) *managerFixture {
	ledgerDB, ledgerCleanup := htesting.NewTestDB(t, "ledger")
	cacheDB, cacheCleanup := htesting.NewTestDB(t, "cache")

	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	bus := events.NewBus(zerolog.Nop())
	lockRepo := locks.NewRepository(cacheDB.Conn(), clk, zerolog.Nop())
	counter := NewCounter(ledgerDB.Conn(), zerolog.Nop())
	repo := NewRepository(ledgerDB.Conn(), zerolog.Nop())

	cfg := htesting.NewConfigFixture()
	cfg.ID = 1

	return &managerFixture{
		manager: NewManager(counter, repo, lockRepo, clk, bus, zerolog.Nop()),
		repo:    repo,
		clock:   clk,
		cfg:     cfg,
		cleanup: func() {
			cacheCleanup()
			ledgerCleanup()
		},
	}
}

func entryAlert(id string, signal domain.Signal, price float64) *domain.IncomingAlert {
	alert := htesting.NewIncomingAlertFixture(id, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	alert.Data.Signal = signal
	alert.Data.Price = price
	if signal == domain.SignalSell {
		alert.Data.TakeProfitPrice = htesting.Float64Ptr(44500)
		alert.Data.StopLossPrice = htesting.Float64Ptr(46000)
	}
	return alert
}

func exitAlert(id string, signal domain.Signal, price float64, tradeNumber *int64) *domain.IncomingAlert {
	alert := htesting.NewIncomingAlertFixture(id, time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC))
	alert.Data.Signal = signal
	alert.Data.Price = price
	alert.Data.TakeProfitPrice = nil
	alert.Data.StopLossPrice = nil
	alert.Data.TradeNumber = tradeNumber
	return alert
}

func (f *managerFixture) openN(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		actions, err := f.manager.Process(context.Background(), f.cfg, "u1",
			entryAlert("a-open", domain.SignalBuy, 45000.50))
		require.NoError(t, err)
		require.Len(t, actions, 1)
		require.Equal(t, domain.TradeActionOpen, actions[0].Action)
		f.clock.Advance(time.Minute)
	}
}

func TestProcessOpensBelowCap(t *testing.T) {
	f := newManagerFixture(t)
	defer f.cleanup()

	actions, err := f.manager.Process(context.Background(), f.cfg, "u1",
		entryAlert("a1", domain.SignalBuy, 45000.50))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, domain.TradeActionOpen, actions[0].Action)
	assert.Equal(t, int64(1), actions[0].TradeNumber)

	trade, err := f.repo.GetByNumber(1)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusOpen, trade.Status)
	assert.Equal(t, "a1", trade.AlertID)
	assert.Equal(t, 45000.50, trade.EntryPrice)
}

func TestProcessReplacesOnSameSignalAtCap(t *testing.T) {
	f := newManagerFixture(t)
	defer f.cleanup()

	f.openN(t, 3)

	actions, err := f.manager.Process(context.Background(), f.cfg, "u1",
		entryAlert("a4", domain.SignalBuy, 45100))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, domain.TradeActionReplace, actions[0].Action)
	assert.Equal(t, int64(4), actions[0].TradeNumber)
	assert.Equal(t, "same signal", actions[0].Reason)

	// The oldest same-signal trade was retired, pointing at its replacement.
	old, err := f.repo.GetByNumber(1)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusReplaced, old.Status)
	require.NotNil(t, old.ReplacedBy)
	assert.Equal(t, int64(4), *old.ReplacedBy)
	assert.Nil(t, old.PnL)

	open, err := f.repo.OpenTrades("u1", 1)
	require.NoError(t, err)
	assert.Len(t, open, 3, "cap holds after replacement")
}

func TestProcessReplacesOldestWhenOppositeAllowed(t *testing.T) {
	f := newManagerFixture(t)
	defer f.cleanup()

	f.cfg.TradeMgmt.ReplaceOnSameSignal = false
	f.cfg.TradeMgmt.AllowOppositeSignals = true
	f.openN(t, 3)

	actions, err := f.manager.Process(context.Background(), f.cfg, "u1",
		entryAlert("a4", domain.SignalSell, 45100))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, domain.TradeActionReplace, actions[0].Action)
	assert.Equal(t, "cap reached", actions[0].Reason)

	old, err := f.repo.GetByNumber(1)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusReplaced, old.Status)
}

func TestProcessSkipsAtCap(t *testing.T) {
	f := newManagerFixture(t)
	defer f.cleanup()

	f.cfg.TradeMgmt.ReplaceOnSameSignal = false
	f.cfg.TradeMgmt.AllowOppositeSignals = false
	f.openN(t, 3)

	actions, err := f.manager.Process(context.Background(), f.cfg, "u1",
		entryAlert("a4", domain.SignalBuy, 45100))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, domain.TradeActionSkip, actions[0].Action)
	assert.Equal(t, "cap", actions[0].Reason)

	open, err := f.repo.OpenTrades("u1", 1)
	require.NoError(t, err)
	assert.Len(t, open, 3)
}

func TestProcessClosesAllOpenOnUntargetedExit(t *testing.T) {
	f := newManagerFixture(t)
	defer f.cleanup()

	f.openN(t, 2)

	actions, err := f.manager.Process(context.Background(), f.cfg, "u1",
		exitAlert("a3", domain.SignalTPHit, 46000, nil))
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, domain.TradeActionClose, actions[0].Action)
	assert.Equal(t, int64(1), actions[0].TradeNumber, "oldest closes first")
	assert.Equal(t, int64(2), actions[1].TradeNumber)

	closed, err := f.repo.GetByNumber(1)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusClosed, closed.Status)
	require.NotNil(t, closed.ExitReason)
	assert.Equal(t, domain.ExitReasonTPHit, *closed.ExitReason)
	require.NotNil(t, closed.PnL)
	assert.Equal(t, 999.50, closed.PnL.Amount)
	assert.Equal(t, "USD", closed.PnL.Currency)
}

func TestProcessTargetedExitClosesOnlyThatTrade(t *testing.T) {
	f := newManagerFixture(t)
	defer f.cleanup()

	f.openN(t, 2)

	actions, err := f.manager.Process(context.Background(), f.cfg, "u1",
		exitAlert("a3", domain.SignalSLHit, 44500, htesting.Int64Ptr(2)))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, int64(2), actions[0].TradeNumber)

	untouched, err := f.repo.GetByNumber(1)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusOpen, untouched.Status)

	closed, err := f.repo.GetByNumber(2)
	require.NoError(t, err)
	require.NotNil(t, closed.ExitReason)
	assert.Equal(t, domain.ExitReasonSLHit, *closed.ExitReason)
	require.NotNil(t, closed.PnL)
	assert.Equal(t, -500.50, closed.PnL.Amount)
}

func TestProcessTargetedExitWrongPair(t *testing.T) {
	f := newManagerFixture(t)
	defer f.cleanup()

	f.openN(t, 1)

	actions, err := f.manager.Process(context.Background(), f.cfg, "u2",
		exitAlert("a2", domain.SignalTPHit, 46000, htesting.Int64Ptr(1)))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, domain.TradeActionSkip, actions[0].Action)
	assert.Equal(t, "trade belongs to another pair", actions[0].Reason)
}

func TestProcessExitWithNoOpenTrades(t *testing.T) {
	f := newManagerFixture(t)
	defer f.cleanup()

	actions, err := f.manager.Process(context.Background(), f.cfg, "u1",
		exitAlert("a1", domain.SignalTPHit, 46000, nil))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, domain.TradeActionSkip, actions[0].Action)
	assert.Equal(t, "no open trades", actions[0].Reason)
}

func TestProcessExitCurrencyOverride(t *testing.T) {
	f := newManagerFixture(t)
	defer f.cleanup()

	f.openN(t, 1)

	alert := exitAlert("a2", domain.SignalTPHit, 46000, nil)
	alert.Data.Metadata = map[string]any{"currency": "EUR"}

	_, err := f.manager.Process(context.Background(), f.cfg, "u1", alert)
	require.NoError(t, err)

	closed, err := f.repo.GetByNumber(1)
	require.NoError(t, err)
	require.NotNil(t, closed.PnL)
	assert.Equal(t, "EUR", closed.PnL.Currency)
}

func TestTradeNumbersMonotonicAcrossUsers(t *testing.T) {
	f := newManagerFixture(t)
	defer f.cleanup()

	for i, user := range []string{"u1", "u2", "u1"} {
		actions, err := f.manager.Process(context.Background(), f.cfg, user,
			entryAlert("a", domain.SignalBuy, 45000.50))
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), actions[0].TradeNumber)
	}
}
