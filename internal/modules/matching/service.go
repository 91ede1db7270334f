package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/clock"
	"github.com/heraldlabs/herald/internal/domain"
	"github.com/heraldlabs/herald/internal/events"
	"github.com/heraldlabs/herald/internal/locks"
	"github.com/heraldlabs/herald/internal/metrics"
	"github.com/heraldlabs/herald/internal/modules/configs"
	"github.com/heraldlabs/herald/internal/modules/intake"
	"github.com/heraldlabs/herald/internal/modules/trades"
)

// alertLockTTL bounds how long one worker may hold an incoming alert. Long
// enough for a full fan-out, short enough that a crashed worker does not
// wedge the alert forever.
const alertLockTTL = 2 * time.Minute

// Processor drives one incoming alert through matching and trade
// application. It is the handler behind the matching worker pool.
type Processor struct {
	alerts  *intake.Repository
	configs *configs.Repository
	matcher *Matcher
	trades  *trades.Manager
	locks   *locks.Repository
	clock   clock.Clock
	bus     *events.Bus
	metrics *metrics.Registry
	log     zerolog.Logger
}

// NewProcessor creates the matching processor.
func NewProcessor(alertRepo *intake.Repository, configRepo *configs.Repository,
	matcher *Matcher, tradeManager *trades.Manager, lockRepo *locks.Repository,
	clk clock.Clock, bus *events.Bus, registry *metrics.Registry, log zerolog.Logger) *Processor {

	return &Processor{
		alerts:  alertRepo,
		configs: configRepo,
		matcher: matcher,
		trades:  tradeManager,
		locks:   lockRepo,
		clock:   clk,
		bus:     bus,
		metrics: registry,
		log:     log.With().Str("service", "matching").Logger(),
	}
}

// ProcessAlert matches one persisted alert and applies the resulting trade
// transitions. The per-alert advisory lock plus the received->processing
// CAS guarantee each alert is processed at most once even with competing
// workers.
func (p *Processor) ProcessAlert(ctx context.Context, alertID string) error {
	return p.locks.WithLock(ctx, locks.AlertKey(alertID), alertLockTTL, func() error {
		return p.process(ctx, alertID)
	})
}

func (p *Processor) process(ctx context.Context, alertID string) error {
	started := p.clock.Now()

	alert, err := p.alerts.GetByID(alertID)
	if err != nil {
		return err
	}

	if err := p.alerts.AdvanceStatus(alertID, domain.ProcessingReceived, domain.ProcessingProcessing); err != nil {
		if domain.IsKind(err, domain.KindConflict) {
			// Another worker claimed it, or a maintenance requeue raced a
			// finished alert. Nothing to do.
			p.log.Debug().Str("alert_id", alertID).Msg("Alert already claimed")
			return nil
		}
		return err
	}

	matches, rejections, err := p.matcher.Match(ctx, alert)
	if err != nil {
		p.finishFailed(alert, started, err)
		return err
	}

	var (
		configIDs []int64
		users     []string
		actions   []domain.TradeAction
		errs      []string
	)
	seenUser := make(map[string]bool)
	configOK := make(map[int64]bool)

	for _, rej := range rejections {
		errs = append(errs, fmt.Sprintf("config %d: %s", rej.ConfigID, rej.Reason))
	}

	for _, match := range matches {
		cfg := match.Config
		configIDs = append(configIDs, cfg.ID)
		configOK[cfg.ID] = true

		for _, user := range match.Users {
			if !seenUser[user.UserID] {
				seenUser[user.UserID] = true
				users = append(users, user.UserID)
			}

			userActions, err := p.trades.Process(ctx, &cfg, user.UserID, alert)
			if err != nil {
				if errors.Is(err, trades.ErrCounterCorrupted) {
					p.metrics.TripFatal("trade counter corrupted")
				}
				configOK[cfg.ID] = false
				errs = append(errs, fmt.Sprintf("config %d user %s: %v", cfg.ID, user.UserID, err))
				p.log.Error().
					Str("alert_id", alertID).
					Int64("config_id", cfg.ID).
					Str("user_id", user.UserID).
					Err(err).
					Msg("Trade processing failed")
				continue
			}
			actions = append(actions, userActions...)
		}
	}

	now := p.clock.Now()
	processingMs := now.Sub(started).Milliseconds()

	// Per-configuration stats: success for clean fan-outs, failure for
	// rejections and trade errors.
	for _, rej := range rejections {
		p.recordResult(rej.ConfigID, false, processingMs, now)
	}
	for _, id := range configIDs {
		p.recordResult(id, configOK[id], processingMs, now)
	}

	// An alert is failed only when an operational error occurred; filter
	// rejections and skips still end as processed. Zero matches is the
	// normal quiet outcome.
	terminal := domain.ProcessingProcessed
	if failedCount(configOK) > 0 {
		terminal = domain.ProcessingFailed
	}

	if err := p.alerts.Finish(alertID, terminal, configIDs, users, actions, errs, processingMs); err != nil {
		return err
	}

	if terminal == domain.ProcessingFailed {
		p.bus.Publish("matching", &events.AlertFailedData{
			AlertID: alertID,
			Error:   fmt.Sprintf("%d of %d configurations failed", failedCount(configOK), len(configIDs)),
		})
	} else {
		p.bus.Publish("matching", &events.AlertMatchedData{
			AlertID:      alertID,
			ConfigIDs:    configIDs,
			MatchedUsers: len(users),
			ProcessingMs: processingMs,
		})
	}

	p.log.Info().
		Str("alert_id", alertID).
		Int("configs", len(configIDs)).
		Int("users", len(users)).
		Int("actions", len(actions)).
		Int64("processing_ms", processingMs).
		Str("status", string(terminal)).
		Msg("Alert processed")

	return nil
}

// finishFailed records a matching-stage failure before any fan-out started.
func (p *Processor) finishFailed(alert *domain.IncomingAlert, started time.Time, cause error) {
	processingMs := p.clock.Now().Sub(started).Milliseconds()

	if err := p.alerts.Finish(alert.ID, domain.ProcessingFailed,
		nil, nil, nil, []string{cause.Error()}, processingMs); err != nil {
		p.log.Error().Str("alert_id", alert.ID).Err(err).Msg("Failed to record alert failure")
	}

	p.bus.Publish("matching", &events.AlertFailedData{AlertID: alert.ID, Error: cause.Error()})
}

func (p *Processor) recordResult(configID int64, success bool, processingMs int64, at time.Time) {
	if err := p.configs.RecordResult(configID, success, processingMs, at); err != nil {
		p.log.Error().Int64("config_id", configID).Err(err).Msg("Failed to record configuration stats")
	}
}

func failedCount(configOK map[int64]bool) int {
	n := 0
	for _, ok := range configOK {
		if !ok {
			n++
		}
	}
	return n
}
