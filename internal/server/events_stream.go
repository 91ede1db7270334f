package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/heraldlabs/herald/internal/events"
)

// EventsStreamHandler streams pipeline events to admin clients over a
// websocket. Delivery is best effort: a client that cannot keep up misses
// events, the pipeline never waits.
type EventsStreamHandler struct {
	bus *events.Bus
	log zerolog.Logger
}

// NewEventsStreamHandler creates the event stream handler.
func NewEventsStreamHandler(bus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		bus: bus,
		log: log.With().Str("component", "events_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/events/stream. An optional ?types=a,b,c query
// restricts the stream to those event types.
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Admin surface shares the CORS policy of the rest of the API.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	allowed := parseTypeFilter(r.URL.Query().Get("types"))

	ch, unsubscribe := h.bus.Subscribe(256)
	defer unsubscribe()

	h.log.Info().
		Str("remote", r.RemoteAddr).
		Int("type_filter", len(allowed)).
		Msg("Client connected to event stream")

	ctx := r.Context()
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	// Reads are discarded, but the read loop surfaces client disconnects.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readDone:
			h.log.Info().Str("remote", r.RemoteAddr).Msg("Client disconnected from event stream")
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if allowed != nil && !allowed[evt.Type] {
				continue
			}
			if err := h.write(ctx, conn, evt); err != nil {
				h.log.Debug().Err(err).Msg("Event stream write failed")
				return
			}
		case <-heartbeat.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		}
	}
}

func (h *EventsStreamHandler) write(ctx context.Context, conn *websocket.Conn, evt events.Event) error {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(writeCtx, conn, evt)
}

func parseTypeFilter(raw string) map[events.EventType]bool {
	if raw == "" {
		return nil
	}
	allowed := make(map[events.EventType]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			allowed[events.EventType(t)] = true
		}
	}
	return allowed
}
