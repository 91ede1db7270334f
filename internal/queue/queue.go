// Package queue provides the bounded in-process queues and worker pools
// that move work between pipeline stages. Producers block with a deadline
// when a queue is full; the caller maps the resulting RateLimited error to
// backpressure at the boundary.
package queue

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/domain"
	"github.com/heraldlabs/herald/internal/events"
)

// DefaultCapacity is the queue depth used when none is configured.
const DefaultCapacity = 1024

// Queue is a bounded FIFO of work items. Closing the queue lets consumers
// drain remaining items and then stop; producers racing a close get an
// error instead of a panic.
type Queue[T any] struct {
	name   string
	ch     chan T
	bus    *events.Bus
	onDrop func()
	log    zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// Option configures a queue.
type Option[T any] func(*Queue[T])

// WithBus attaches an event bus; saturation drops publish queue.saturated.
func WithBus[T any](bus *events.Bus) Option[T] {
	return func(q *Queue[T]) { q.bus = bus }
}

// WithDropCounter registers a callback invoked on every enqueue drop.
func WithDropCounter[T any](fn func()) Option[T] {
	return func(q *Queue[T]) { q.onDrop = fn }
}

// New creates a bounded queue.
func New[T any](name string, capacity int, log zerolog.Logger, opts ...Option[T]) *Queue[T] {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	q := &Queue[T]{
		name: name,
		ch:   make(chan T, capacity),
		log:  log.With().Str("component", "queue").Str("queue", name).Logger(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds an item, blocking until there is room or ctx expires.
// Callers bound the wait with a deadline context; on expiry the item is
// dropped, the drop is recorded, and a RateLimited error is returned.
// Enqueueing into a closed queue fails with an unavailable error.
func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	// The read lock is held across the send so Close cannot close the
	// channel under a blocked producer. Close waits out at most one
	// enqueue deadline.
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return domain.E(domain.KindExternalUnavailable, q.name+" queue closed")
	}

	select {
	case q.ch <- item:
		return nil
	default:
	}

	// Queue full: wait for room up to the caller's deadline.
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		q.recordDrop()
		return domain.NewRateLimited(q.name + " queue saturated")
	}
}

// TryEnqueue adds an item without blocking. Returns false and records a
// drop when the queue is full; a closed queue refuses without recording.
func (q *Queue[T]) TryEnqueue(item T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}

	select {
	case q.ch <- item:
		return true
	default:
		q.recordDrop()
		return false
	}
}

// Items returns the receive channel. The channel is closed by Close; range
// over it to drain.
func (q *Queue[T]) Items() <-chan T { return q.ch }

// Len returns the number of queued items.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Close stops accepting items. Pending items remain readable, and the
// Items channel closes once they are drained. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Name returns the queue name.
func (q *Queue[T]) Name() string { return q.name }

func (q *Queue[T]) recordDrop() {
	q.log.Warn().Msg("Queue saturated, dropping item")
	if q.onDrop != nil {
		q.onDrop()
	}
	if q.bus != nil {
		q.bus.Publish("queue", &events.QueueSaturatedData{Queue: q.name})
	}
}
