package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/config"
	"github.com/heraldlabs/herald/internal/domain"
)

// LogBus is a NotificationBus that writes deliveries as structured log
// lines. Default sink for development and for deployments where a real
// channel gateway is not wired yet.
type LogBus struct {
	log zerolog.Logger
}

// NewLogBus creates the logging notification bus.
func NewLogBus(log zerolog.Logger) *LogBus {
	return &LogBus{log: log.With().Str("component", "notification_log").Logger()}
}

// Send logs the notification. Never fails.
func (b *LogBus) Send(_ context.Context, n domain.Notification) error {
	b.log.Info().
		Str("notification_id", n.ID).
		Str("user_id", n.UserID).
		Str("kind", string(n.Kind)).
		Str("body", n.Body).
		Msg("Notification")
	return nil
}

// HTTPBus POSTs notifications to an external gateway that owns per-channel
// rendering and delivery. Any non-2xx response is a delivery failure the
// dispatcher may retry.
type HTTPBus struct {
	client *resty.Client
	log    zerolog.Logger
}

// NewHTTPBus creates the HTTP notification bus from the sink configuration.
func NewHTTPBus(cfg config.NotifyConfig, log zerolog.Logger) *HTTPBus {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.SinkURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &HTTPBus{
		client: client,
		log:    log.With().Str("component", "notification_http").Logger(),
	}
}

// Send POSTs one notification to the sink.
func (b *HTTPBus) Send(ctx context.Context, n domain.Notification) error {
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(n).
		Post("/notifications")
	if err != nil {
		return domain.NewExternalUnavailable("notification sink", err)
	}
	if resp.IsError() {
		return domain.NewExternalUnavailable("notification sink",
			fmt.Errorf("sink returned status %d", resp.StatusCode()))
	}
	return nil
}
