package trades

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/clock"
	"github.com/heraldlabs/herald/internal/domain"
	"github.com/heraldlabs/herald/internal/events"
	"github.com/heraldlabs/herald/internal/locks"
)

// pairLockTTL bounds how long a crashed worker can hold a (user, config)
// pair hostage before the lock is stolen.
const pairLockTTL = 30 * time.Second

// Manager applies the trade lifecycle state machine for one (user, config)
// pair at a time. Entry signals open or replace trades subject to the
// configuration's cap; exit signals close targeted or all matching open
// trades and realize P&L. All transitions for a pair run under its advisory
// lock, so the per-trade compare-and-swaps only conflict with a crashed
// predecessor whose lock was stolen.
type Manager struct {
	counter *Counter
	repo    *Repository
	locks   *locks.Repository
	clock   clock.Clock
	bus     *events.Bus
	log     zerolog.Logger
}

// NewManager creates the trade manager.
func NewManager(counter *Counter, repo *Repository, lockRepo *locks.Repository,
	clk clock.Clock, bus *events.Bus, log zerolog.Logger) *Manager {
	return &Manager{
		counter: counter,
		repo:    repo,
		locks:   lockRepo,
		clock:   clk,
		bus:     bus,
		log:     log.With().Str("component", "trade_manager").Logger(),
	}
}

// Process applies one alert signal to one (user, config) pair and returns
// the actions taken. A Conflict from a lost compare-and-swap is retried once
// with a fresh read of the open set; a second conflict surfaces to the
// caller, who records it on the alert's error list.
func (m *Manager) Process(ctx context.Context, cfg *domain.AlertConfiguration,
	userID string, alert *domain.IncomingAlert) ([]domain.TradeAction, error) {

	var actions []domain.TradeAction
	err := m.locks.WithLock(ctx, locks.PairKey(userID, cfg.ID), pairLockTTL, func() error {
		var err error
		actions, err = m.apply(cfg, userID, alert)
		if domain.IsKind(err, domain.KindConflict) {
			m.log.Warn().Str("user_id", userID).Int64("config_id", cfg.ID).
				Msg("Trade transition conflict, retrying with fresh state")
			actions, err = m.apply(cfg, userID, alert)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return actions, nil
}

func (m *Manager) apply(cfg *domain.AlertConfiguration, userID string,
	alert *domain.IncomingAlert) ([]domain.TradeAction, error) {

	if alert.Data.Signal.IsEntry() {
		return m.applyEntry(cfg, userID, alert)
	}
	return m.applyExit(cfg, userID, alert)
}

// applyEntry decides open vs replace vs skip for a BUY/SELL signal.
func (m *Manager) applyEntry(cfg *domain.AlertConfiguration, userID string,
	alert *domain.IncomingAlert) ([]domain.TradeAction, error) {

	open, err := m.repo.OpenTrades(userID, cfg.ID)
	if err != nil {
		return nil, err
	}

	if len(open) < cfg.TradeMgmt.MaxOpenTrades {
		t, err := m.openTrade(cfg, userID, alert)
		if err != nil {
			return nil, err
		}
		return []domain.TradeAction{{
			Action: domain.TradeActionOpen, UserID: userID, ConfigID: cfg.ID,
			TradeNumber: t.TradeNumber,
		}}, nil
	}

	if cfg.TradeMgmt.ReplaceOnSameSignal {
		for i := range open {
			if open[i].Signal == alert.Data.Signal {
				return m.replaceTrade(cfg, userID, alert, &open[i], "same signal")
			}
		}
	}

	if cfg.TradeMgmt.AllowOppositeSignals {
		// open is ordered oldest first.
		return m.replaceTrade(cfg, userID, alert, &open[0], "cap reached")
	}

	m.bus.Publish("trades", &events.TradeSkippedData{
		UserID: userID, ConfigID: cfg.ID, Reason: "cap",
	})
	return []domain.TradeAction{{
		Action: domain.TradeActionSkip, UserID: userID, ConfigID: cfg.ID, Reason: "cap",
	}}, nil
}

// applyExit closes the targeted trade, or every open trade matching the
// alert's (symbol, strategy), oldest first.
func (m *Manager) applyExit(cfg *domain.AlertConfiguration, userID string,
	alert *domain.IncomingAlert) ([]domain.TradeAction, error) {

	var targets []domain.Trade
	if alert.Data.TradeNumber != nil {
		t, err := m.repo.GetByNumber(*alert.Data.TradeNumber)
		if domain.IsKind(err, domain.KindNotFound) {
			return []domain.TradeAction{{
				Action: domain.TradeActionSkip, UserID: userID, ConfigID: cfg.ID,
				TradeNumber: *alert.Data.TradeNumber, Reason: "trade not found",
			}}, nil
		}
		if err != nil {
			return nil, err
		}
		if t.UserID != userID || t.ConfigID != cfg.ID {
			return []domain.TradeAction{{
				Action: domain.TradeActionSkip, UserID: userID, ConfigID: cfg.ID,
				TradeNumber: t.TradeNumber, Reason: "trade belongs to another pair",
			}}, nil
		}
		if t.Status != domain.TradeStatusOpen {
			return []domain.TradeAction{{
				Action: domain.TradeActionSkip, UserID: userID, ConfigID: cfg.ID,
				TradeNumber: t.TradeNumber, Reason: fmt.Sprintf("trade is %s", t.Status),
			}}, nil
		}
		targets = []domain.Trade{*t}
	} else {
		var err error
		targets, err = m.repo.OpenForExit(userID, cfg.ID, alert.Data.Symbol, alert.Data.Strategy)
		if err != nil {
			return nil, err
		}
		if len(targets) == 0 {
			return []domain.TradeAction{{
				Action: domain.TradeActionSkip, UserID: userID, ConfigID: cfg.ID,
				Reason: "no open trades",
			}}, nil
		}
	}

	reason := domain.ExitReasonTPHit
	if alert.Data.Signal == domain.SignalSLHit {
		reason = domain.ExitReasonSLHit
	}
	currency := CurrencyFromMetadata(alert.Data.Metadata)

	var actions []domain.TradeAction
	for i := range targets {
		t := &targets[i]
		pnl := ComputePnL(t.Signal, t.EntryPrice, alert.Data.Price, currency)

		if err := m.repo.Close(t.TradeNumber, alert.Data.Price, reason, m.clock.Now(), pnl); err != nil {
			return actions, err
		}

		event := &events.TradeClosedData{
			TradeNumber: t.TradeNumber, UserID: userID,
			ExitReason: string(reason), ExitPrice: alert.Data.Price,
		}
		if pnl != nil {
			event.PnLAmount = &pnl.Amount
		}
		m.bus.Publish("trades", event)

		actions = append(actions, domain.TradeAction{
			Action: domain.TradeActionClose, UserID: userID, ConfigID: cfg.ID,
			TradeNumber: t.TradeNumber, Reason: string(reason),
		})
	}

	return actions, nil
}

// openTrade allocates the next trade number and creates an open trade from
// the alert's fields.
func (m *Manager) openTrade(cfg *domain.AlertConfiguration, userID string,
	alert *domain.IncomingAlert) (*domain.Trade, error) {

	number, err := m.counter.Next()
	if err != nil {
		return nil, err
	}

	t := &domain.Trade{
		TradeNumber:     number,
		UserID:          userID,
		ConfigID:        cfg.ID,
		AlertID:         alert.ID,
		Symbol:          alert.Data.Symbol,
		Timeframe:       alert.Data.Timeframe,
		Strategy:        alert.Data.Strategy,
		Signal:          alert.Data.Signal,
		EntryPrice:      alert.Data.Price,
		TakeProfitPrice: alert.Data.TakeProfitPrice,
		StopLossPrice:   alert.Data.StopLossPrice,
		Status:          domain.TradeStatusOpen,
		OpenedAt:        m.clock.Now().UTC(),
	}
	if err := m.repo.Create(t); err != nil {
		return nil, err
	}

	m.bus.Publish("trades", &events.TradeOpenedData{
		TradeNumber: number, UserID: userID, ConfigID: cfg.ID,
		Symbol: t.Symbol, Signal: string(t.Signal), EntryPrice: t.EntryPrice,
	})
	return t, nil
}

// replaceTrade opens the new trade first, then retires the old one pointing
// at its replacement. Replaced trades never carry P&L.
func (m *Manager) replaceTrade(cfg *domain.AlertConfiguration, userID string,
	alert *domain.IncomingAlert, old *domain.Trade, reason string) ([]domain.TradeAction, error) {

	newTrade, err := m.openTrade(cfg, userID, alert)
	if err != nil {
		return nil, err
	}

	if err := m.repo.MarkReplaced(old.TradeNumber, newTrade.TradeNumber, reason, m.clock.Now()); err != nil {
		// The new trade already exists, so a lost compare-and-swap here must
		// not bubble up as a retryable conflict: re-running the decision
		// would open a second replacement. The old trade left the open state
		// through another path; the replacement stands.
		if domain.IsKind(err, domain.KindConflict) {
			m.log.Warn().Int64("old", old.TradeNumber).Int64("new", newTrade.TradeNumber).
				Msg("Replaced trade already left open state")
		} else {
			return nil, err
		}
	}

	m.bus.Publish("trades", &events.TradeReplacedData{
		OldTradeNumber: old.TradeNumber, NewTradeNumber: newTrade.TradeNumber,
		UserID: userID, Reason: reason,
	})
	return []domain.TradeAction{{
		Action: domain.TradeActionReplace, UserID: userID, ConfigID: cfg.ID,
		TradeNumber: newTrade.TradeNumber, Reason: reason,
	}}, nil
}
