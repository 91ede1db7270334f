// Package dispatch turns pipeline outcomes into channel-agnostic
// notifications and delivers them through a NotificationBus with bounded
// retries. Rendering per channel happens downstream; this package only
// decides who gets told what, and how hard to try.
package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/clock"
	"github.com/heraldlabs/herald/internal/config"
	"github.com/heraldlabs/herald/internal/domain"
	"github.com/heraldlabs/herald/internal/events"
)

// Dispatcher delivers notifications with exponential backoff. A delivery
// that exhausts its attempts is recorded and dropped; it never re-opens the
// trigger that produced it.
type Dispatcher struct {
	bus   domain.NotificationBus
	clock clock.Clock
	evts  *events.Bus
	cfg   config.DispatchConfig
	log   zerolog.Logger
}

// NewDispatcher creates a dispatcher over the given notification bus.
func NewDispatcher(bus domain.NotificationBus, clk clock.Clock, evts *events.Bus,
	cfg config.DispatchConfig, log zerolog.Logger) *Dispatcher {

	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 30 * time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 5
	}

	return &Dispatcher{
		bus:   bus,
		clock: clk,
		evts:  evts,
		cfg:   cfg,
		log:   log.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch delivers one notification, retrying with exponential backoff
// (base, x2 per attempt, delay capped) up to the attempt budget. The
// returned error is the last delivery error, nil on success.
func (d *Dispatcher) Dispatch(ctx context.Context, n domain.Notification) error {
	var lastErr error

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := clock.Sleep(ctx, d.clock, d.delay(attempt)); err != nil {
				lastErr = err
				break
			}
		}

		lastErr = d.bus.Send(ctx, n)
		if lastErr == nil {
			d.evts.Publish("dispatch", &events.NotificationSentData{
				UserID:   n.UserID,
				Kind:     string(n.Kind),
				Attempts: attempt,
			})
			d.log.Debug().
				Str("user_id", n.UserID).
				Str("kind", string(n.Kind)).
				Int("attempts", attempt).
				Msg("Notification delivered")
			return nil
		}

		d.log.Warn().
			Str("user_id", n.UserID).
			Str("kind", string(n.Kind)).
			Int("attempt", attempt).
			Err(lastErr).
			Msg("Notification delivery failed")
	}

	d.evts.Publish("dispatch", &events.NotificationFailedData{
		UserID:   n.UserID,
		Kind:     string(n.Kind),
		Attempts: d.cfg.MaxAttempts,
		Error:    lastErr.Error(),
	})
	return lastErr
}

// delay returns the wait before the given attempt: base x 2^(attempt-2),
// capped. Attempt 1 has no wait.
func (d *Dispatcher) delay(attempt int) time.Duration {
	delay := d.cfg.RetryBase
	for i := 2; i < attempt; i++ {
		delay *= 2
		if delay >= d.cfg.RetryMax {
			return d.cfg.RetryMax
		}
	}
	if delay > d.cfg.RetryMax {
		delay = d.cfg.RetryMax
	}
	return delay
}
