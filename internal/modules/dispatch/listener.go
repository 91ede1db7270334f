package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/domain"
	"github.com/heraldlabs/herald/internal/events"
	"github.com/heraldlabs/herald/internal/queue"
)

// Listener turns trade lifecycle events into user notifications and hands
// them to the delivery pool through a bounded queue with an enqueue
// deadline, the same backpressure contract as the webhook intake hop. The
// listener itself never waits on a delivery, so a backlog of slow
// notifications shows up as counted queue drops instead of silently lost
// events.
type Listener struct {
	queue   *queue.Queue[domain.Notification]
	bus     *events.Bus
	timeout time.Duration
	log     zerolog.Logger
}

// NewListener creates the trade notification listener over the delivery
// queue. enqueueTimeout bounds how long one notification may wait for room
// when deliveries back up.
func NewListener(q *queue.Queue[domain.Notification], bus *events.Bus,
	enqueueTimeout time.Duration, log zerolog.Logger) *Listener {

	if enqueueTimeout <= 0 {
		enqueueTimeout = 2 * time.Second
	}
	return &Listener{
		queue:   q,
		bus:     bus,
		timeout: enqueueTimeout,
		log:     log.With().Str("component", "dispatch_listener").Logger(),
	}
}

// Run consumes events until ctx is cancelled. User-alert triggers are NOT
// handled here: the scheduler delivers those synchronously so it can record
// delivery failures in the alert's history.
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
			l.forward(ctx, evt)
		}
	}
}

// forward converts one trade event and enqueues its notification for the
// delivery pool.
func (l *Listener) forward(ctx context.Context, evt events.Event) {
	var n domain.Notification

	switch data := evt.Data.(type) {
	case *events.TradeOpenedData:
		n = EntryNotification(data)
	case *events.TradeClosedData:
		n = ExitNotification(data)
	case *events.TradeReplacedData:
		n = ReplaceNotification(data)
	default:
		return
	}

	enqCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if err := l.queue.Enqueue(enqCtx, n); err != nil {
		l.log.Error().
			Str("user_id", n.UserID).
			Str("kind", string(n.Kind)).
			Err(err).
			Msg("Trade notification dropped")
	}
}
