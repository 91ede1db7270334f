package useralerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/clock"
	"github.com/heraldlabs/herald/internal/config"
	"github.com/heraldlabs/herald/internal/domain"
	"github.com/heraldlabs/herald/internal/events"
	"github.com/heraldlabs/herald/internal/locks"
)

// Notifier delivers the notification for a triggered alert. The dispatcher
// owns retries; an error here means delivery finally failed and is recorded
// in the alert's history without re-arming the trigger.
type Notifier interface {
	NotifyUserAlert(ctx context.Context, alert *domain.UserAlert, value float64) error
}

// Scheduler drives the evaluation loop: every tick it loads due alerts by
// priority, leases each one, enforces the cooldown before any market fetch,
// evaluates conditions, and reschedules with exponential backoff on failure.
// Only the worker holding an alert's lease mutates its runtime fields.
type Scheduler struct {
	repo      *Repository
	evaluator *Evaluator
	market    domain.MarketDataProvider
	locks     *locks.Repository
	notifier  Notifier
	clock     clock.Clock
	bus       *events.Bus
	cfg       config.SchedulerConfig
	log       zerolog.Logger

	wg sync.WaitGroup
}

// NewScheduler creates the evaluation scheduler.
func NewScheduler(repo *Repository, evaluator *Evaluator, market domain.MarketDataProvider,
	lockRepo *locks.Repository, notifier Notifier, clk clock.Clock, bus *events.Bus,
	cfg config.SchedulerConfig, log zerolog.Logger) *Scheduler {

	if cfg.Tick <= 0 {
		cfg.Tick = 5 * time.Second
	}
	if cfg.Workers < 1 {
		cfg.Workers = 5
	}
	if cfg.MaxBatch < 1 {
		cfg.MaxBatch = 100
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 30 * time.Second
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = time.Hour
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Second
	}

	return &Scheduler{
		repo:      repo,
		evaluator: evaluator,
		market:    market,
		locks:     lockRepo,
		notifier:  notifier,
		clock:     clk,
		bus:       bus,
		cfg:       cfg,
		log:       log.With().Str("component", "scheduler").Logger(),
	}
}

// Run executes the tick loop until ctx is cancelled, then waits for
// in-flight evaluations to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info().
		Dur("tick", s.cfg.Tick).
		Int("workers", s.cfg.Workers).
		Int("max_batch", s.cfg.MaxBatch).
		Msg("Evaluation scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.log.Info().Msg("Evaluation scheduler stopped")
			return
		case <-s.clock.After(s.cfg.Tick):
			s.Tick(ctx)
		}
	}
}

// Tick runs one evaluation round: load due alerts and fan them out to a
// bounded set of workers. Exported so tests drive rounds directly.
func (s *Scheduler) Tick(ctx context.Context) {
	due, err := s.repo.LoadDue(s.clock.Now(), s.cfg.MaxBatch)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load due alerts")
		return
	}
	if len(due) == 0 {
		return
	}

	sem := make(chan struct{}, s.cfg.Workers)
	for i := range due {
		select {
		case <-ctx.Done():
			return
		case sem <- struct{}{}:
		}

		alert := due[i]
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-sem }()
			s.evaluateOne(ctx, &alert)
		}()
	}

	// Wait for the round so ticks never overlap on the same batch.
	for i := 0; i < s.cfg.Workers; i++ {
		sem <- struct{}{}
	}
}

// evaluateOne leases the alert and processes it. A held lease means another
// worker (or instance) owns this alert right now; skipping is correct
// because the alert stays due and the next tick picks it up.
func (s *Scheduler) evaluateOne(ctx context.Context, alert *domain.UserAlert) {
	key := locks.LeaseKey(alert.ID)
	ok, err := s.locks.TryAcquire(key, s.cfg.LeaseTTL)
	if err != nil {
		s.log.Error().Int64("alert_id", alert.ID).Err(err).Msg("Failed to acquire alert lease")
		return
	}
	if !ok {
		return
	}
	defer func() {
		if err := s.locks.Release(key); err != nil {
			s.log.Warn().Int64("alert_id", alert.ID).Err(err).Msg("Failed to release alert lease")
		}
	}()

	s.process(ctx, alert)
}

func (s *Scheduler) process(ctx context.Context, alert *domain.UserAlert) {
	now := s.clock.Now().UTC()
	alert.LastChecked = &now

	// Cooldown and trigger-budget gate, checked before any market fetch.
	if !alert.CanTrigger(now) {
		s.reschedule(alert, now, false)
		s.saveRuntime(alert)
		return
	}

	snap, err := s.market.GetSnapshot(ctx, alert.Symbol, alert.Venue)
	if err != nil {
		s.recordFailure(alert, now, err)
		return
	}

	out, err := s.evaluator.Evaluate(ctx, alert, snap)
	if err != nil {
		s.recordFailure(alert, now, err)
		return
	}

	alert.FailedCount = 0
	alert.Performance.TotalEvaluations++

	record := domain.ExecutionRecord{At: now, Triggered: out.Triggered, Value: out.Value}
	if out.Insufficient {
		record.Error = "insufficient data"
	}

	if out.Triggered && !out.Insufficient {
		// Commit the trigger before delivery: counters and cooldown advance
		// exactly once no matter how delivery fares.
		alert.TriggerCount++
		alert.LastTriggered = &now
		alert.Performance.TotalTriggers++
		if alert.Frequency == domain.FrequencyOnce && alert.TriggerCount >= alert.MaxTriggers {
			alert.IsActive = false
		}

		s.bus.Publish("scheduler", &events.UserAlertTriggeredData{
			AlertID: alert.ID, UserID: alert.UserID, Symbol: alert.Symbol, Value: out.Value,
		})

		if err := s.notifier.NotifyUserAlert(ctx, alert, out.Value); err != nil {
			record.Error = fmt.Sprintf("delivery failed: %v", err)
			s.log.Error().Int64("alert_id", alert.ID).Err(err).Msg("User alert delivery failed")
		}
	}

	appendHistory(alert, record)
	s.reschedule(alert, now, false)
	s.saveRuntime(alert)
}

// recordFailure applies the failure path: count it, push a history record,
// and back off exponentially.
func (s *Scheduler) recordFailure(alert *domain.UserAlert, now time.Time, cause error) {
	alert.FailedCount++
	alert.Performance.TotalEvaluations++
	alert.Performance.FailedEvaluations++
	appendHistory(alert, domain.ExecutionRecord{At: now, Error: cause.Error()})

	s.bus.Publish("scheduler", &events.UserAlertFailedData{
		AlertID: alert.ID, Error: cause.Error(),
	})
	s.log.Warn().Int64("alert_id", alert.ID).Int("failed_count", alert.FailedCount).
		Err(cause).Msg("Alert evaluation failed")

	s.reschedule(alert, now, true)
	s.saveRuntime(alert)
}

// reschedule sets the next check: the alert's interval normally, or an
// exponential backoff of base x 2^(failures-1) capped at the configured
// maximum after a failure.
func (s *Scheduler) reschedule(alert *domain.UserAlert, now time.Time, failed bool) {
	delay := alert.Interval.Duration()
	if delay <= 0 {
		delay = s.cfg.Tick
	}
	if failed {
		delay = s.backoff(alert.FailedCount)
	}

	next := now.Add(delay)
	alert.NextCheck = &next
}

func (s *Scheduler) backoff(failures int) time.Duration {
	delay := s.cfg.BackoffBase
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= s.cfg.BackoffMax {
			return s.cfg.BackoffMax
		}
	}
	if delay > s.cfg.BackoffMax {
		delay = s.cfg.BackoffMax
	}
	return delay
}

func (s *Scheduler) saveRuntime(alert *domain.UserAlert) {
	if err := s.repo.UpdateRuntime(alert); err != nil {
		s.log.Error().Int64("alert_id", alert.ID).Err(err).Msg("Failed to persist alert runtime")
	}
}

func appendHistory(alert *domain.UserAlert, record domain.ExecutionRecord) {
	alert.ExecutionHistory = append(alert.ExecutionHistory, record)
	if len(alert.ExecutionHistory) > domain.MaxExecutionHistory {
		alert.ExecutionHistory = alert.ExecutionHistory[len(alert.ExecutionHistory)-domain.MaxExecutionHistory:]
	}
}
