package metrics

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/events"
)

// Counter names fed by the event listener. The webhook and scheduler paths
// also increment counters directly for states that emit no event.
const (
	CounterAlertsReceived    = "alerts_received"
	CounterAlertsDuplicate   = "alerts_duplicate"
	CounterAlertsMatched     = "alerts_matched"
	CounterAlertsFailed      = "alerts_failed"
	CounterTradesOpened      = "trades_opened"
	CounterTradesClosed      = "trades_closed"
	CounterTradesReplaced    = "trades_replaced"
	CounterTradesSkipped     = "trades_skipped"
	CounterUserAlertsFired   = "user_alerts_triggered"
	CounterUserAlertsFailed  = "user_alerts_failed"
	CounterNotificationsSent = "notifications_sent"
	CounterNotificationsDead = "notifications_failed"
	CounterQueueDrops        = "queue_drops"
	CounterWebhookRejected   = "webhook_rejected"
	HistogramProcessingMs    = "alert_processing_ms"
	HistogramEvaluationMs    = "user_alert_evaluation_ms"
	HistogramNotifyAttempts  = "notification_attempts"
)

var eventCounters = map[events.EventType]string{
	events.AlertReceived:      CounterAlertsReceived,
	events.AlertDuplicate:     CounterAlertsDuplicate,
	events.AlertMatched:       CounterAlertsMatched,
	events.AlertFailed:        CounterAlertsFailed,
	events.TradeOpened:        CounterTradesOpened,
	events.TradeClosed:        CounterTradesClosed,
	events.TradeReplaced:      CounterTradesReplaced,
	events.TradeSkipped:       CounterTradesSkipped,
	events.UserAlertTriggered: CounterUserAlertsFired,
	events.UserAlertFailed:    CounterUserAlertsFailed,
	events.NotificationSent:   CounterNotificationsSent,
	events.NotificationFailed: CounterNotificationsDead,
	events.QueueSaturated:     CounterQueueDrops,
}

// Listener folds bus events into the registry.
type Listener struct {
	registry *Registry
	bus      *events.Bus
	log      zerolog.Logger
}

// NewListener creates a metrics listener over the event bus.
func NewListener(registry *Registry, bus *events.Bus, log zerolog.Logger) *Listener {
	return &Listener{
		registry: registry,
		bus:      bus,
		log:      log.With().Str("component", "metrics_listener").Logger(),
	}
}

// Run consumes events until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) {
	ch, unsub := l.bus.Subscribe(256)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			l.apply(evt)
		}
	}
}

func (l *Listener) apply(evt events.Event) {
	if name, ok := eventCounters[evt.Type]; ok {
		l.registry.Inc(name)
	}

	switch data := evt.Data.(type) {
	case *events.AlertMatchedData:
		l.registry.Observe(HistogramProcessingMs, float64(data.ProcessingMs))
	case *events.NotificationSentData:
		l.registry.Observe(HistogramNotifyAttempts, float64(data.Attempts))
	case *events.NotificationFailedData:
		l.registry.Observe(HistogramNotifyAttempts, float64(data.Attempts))
	}
}
