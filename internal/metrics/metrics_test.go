package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldlabs/herald/internal/events"
)

func TestCounters(t *testing.T) {
	r := NewRegistry()

	r.Inc("a")
	r.Inc("a")
	r.Add("b", 5)

	assert.Equal(t, int64(2), r.Counter("a"))
	assert.Equal(t, int64(5), r.Counter("b"))
	assert.Equal(t, int64(0), r.Counter("missing"))
}

func TestHistogramSummary(t *testing.T) {
	r := NewRegistry()

	for i := 1; i <= 100; i++ {
		r.Observe("latency", float64(i))
	}

	s := r.Summary("latency")
	require.NotNil(t, s)
	assert.Equal(t, int64(100), s.Count)
	assert.InDelta(t, 50.5, s.Mean, 1e-9)
	assert.InDelta(t, 50, s.P50, 1.0)
	assert.InDelta(t, 90, s.P90, 1.0)
	assert.Equal(t, float64(100), s.Max)

	assert.Nil(t, r.Summary("missing"))
}

func TestHistogramReservoirRotates(t *testing.T) {
	r := NewRegistry()

	for i := 0; i < maxSamples+500; i++ {
		r.Observe("x", float64(i))
	}

	s := r.Summary("x")
	require.NotNil(t, s)
	assert.Equal(t, int64(maxSamples+500), s.Count)
	// Oldest samples rotated out, so the minimum retained sample is >= 500.
	assert.GreaterOrEqual(t, s.P50, float64(500))
}

func TestReadinessLatch(t *testing.T) {
	r := NewRegistry()

	ready, _ := r.Ready()
	assert.True(t, ready)

	r.SetNotReady("store", "ping failed")
	ready, reasons := r.Ready()
	assert.False(t, ready)
	assert.Equal(t, "ping failed", reasons["store"])

	r.SetReady("store")
	ready, _ = r.Ready()
	assert.True(t, ready)

	r.TripFatal("negative trade number")
	r.TripFatal("second reason is ignored")
	ready, reasons = r.Ready()
	assert.False(t, ready)
	assert.Equal(t, "negative trade number", reasons["fatal"])
}

func TestListenerFoldsEvents(t *testing.T) {
	r := NewRegistry()
	bus := events.NewBus(zerolog.Nop())
	listener := NewListener(r, bus, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		listener.Run(ctx)
		close(done)
	}()

	// Give the listener a moment to subscribe before publishing.
	time.Sleep(10 * time.Millisecond)

	bus.Publish("intake", &events.AlertReceivedData{AlertID: "a1"})
	bus.Publish("matching", &events.AlertMatchedData{AlertID: "a1", ProcessingMs: 12})
	bus.Publish("trades", &events.TradeOpenedData{TradeNumber: 1})
	bus.Publish("dispatch", &events.NotificationSentData{UserID: "u1", Attempts: 2})

	assert.Eventually(t, func() bool {
		return r.Counter(CounterNotificationsSent) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	assert.Equal(t, int64(1), r.Counter(CounterAlertsReceived))
	assert.Equal(t, int64(1), r.Counter(CounterAlertsMatched))
	assert.Equal(t, int64(1), r.Counter(CounterTradesOpened))

	s := r.Summary(HistogramProcessingMs)
	require.NotNil(t, s)
	assert.Equal(t, float64(12), s.Max)
}
