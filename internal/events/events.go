// Package events provides typed pipeline events and an in-process bus.
// Every stage of the alert pipeline emits events; listeners fold them into
// metrics and stream them to admin clients.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents different event types
type EventType string

const (
	AlertReceived  EventType = "alert.received"
	AlertDuplicate EventType = "alert.duplicate"
	AlertMatched   EventType = "alert.matched"
	AlertFailed    EventType = "alert.failed"

	TradeOpened   EventType = "trade.opened"
	TradeClosed   EventType = "trade.closed"
	TradeReplaced EventType = "trade.replaced"
	TradeSkipped  EventType = "trade.skipped"

	UserAlertTriggered EventType = "useralert.triggered"
	UserAlertFailed    EventType = "useralert.failed"

	NotificationSent   EventType = "notification.sent"
	NotificationFailed EventType = "notification.failed"

	QueueSaturated EventType = "queue.saturated"
	BackupFinished EventType = "backup.finished"
)

// Event represents one pipeline occurrence.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data,omitempty"`
}

// EventData is the interface that all event data types must implement.
// This allows for type-safe event data while maintaining flexibility.
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event, and the miss is counted. The bus
// is for observation only, pipeline correctness never depends on delivery.
type Bus struct {
	mu      sync.RWMutex
	nextID  int
	subs    map[int]chan Event
	dropped atomic.Int64
	log     zerolog.Logger
}

// NewBus creates a new event bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[int]chan Event),
		log:  log.With().Str("component", "events").Logger(),
	}
}

// Publish emits an event to all subscribers.
func (b *Bus) Publish(module string, data EventData) {
	evt := Event{
		Type:      data.EventType(),
		Timestamp: time.Now().UTC(),
		Module:    module,
		Data:      data,
	}

	b.log.Debug().
		Str("event_type", string(evt.Type)).
		Str("module", module).
		Msg("Event published")

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Slow subscriber, drop rather than stall the pipeline
			b.dropped.Add(1)
			b.log.Warn().
				Str("event_type", string(evt.Type)).
				Msg("Subscriber buffer full, event dropped")
		}
	}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. The unsubscribe function is idempotent.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 64
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}

	return ch, unsubscribe
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many events were lost to full subscriber buffers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
