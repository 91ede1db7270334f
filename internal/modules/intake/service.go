package intake

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/clock"
	"github.com/heraldlabs/herald/internal/domain"
	"github.com/heraldlabs/herald/internal/events"
)

// Enqueue hands a persisted alert id to the matching stage. The webhook
// response never waits for matching, only for the enqueue itself (bounded
// by the queue deadline).
type Enqueue func(ctx context.Context, alertID string) error

// Result is the synchronous outcome of one webhook delivery.
type Result struct {
	AlertID   string
	Duplicate bool
}

// Service runs the ingestion pipeline: verify, decode, dedup, persist,
// enqueue.
type Service struct {
	secret  string
	deduper *Deduper
	repo    *Repository
	clock   clock.Clock
	bus     *events.Bus
	enqueue Enqueue
	log     zerolog.Logger
}

// NewService creates the ingestion service. An empty secret disables
// signature verification.
func NewService(secret string, deduper *Deduper, repo *Repository,
	clk clock.Clock, bus *events.Bus, enqueue Enqueue, log zerolog.Logger) *Service {
	return &Service{
		secret:  secret,
		deduper: deduper,
		repo:    repo,
		clock:   clk,
		bus:     bus,
		enqueue: enqueue,
		log:     log.With().Str("service", "intake").Logger(),
	}
}

// Ingest processes one webhook delivery. Auth and validation failures
// return typed errors and persist nothing; duplicates return a marker and
// persist nothing; fresh alerts are persisted with status received and
// queued for matching.
func (s *Service) Ingest(ctx context.Context, body []byte, signatureHeader, sourceIP string) (*Result, error) {
	if err := VerifySignature(s.secret, body, signatureHeader); err != nil {
		s.log.Warn().Str("source_ip", sourceIP).Msg("Webhook signature rejected")
		return nil, err
	}

	data, err := DecodePayload(body)
	if err != nil {
		return nil, err
	}

	fingerprint := Fingerprint(data)
	obs, err := s.deduper.Observe(fingerprint)
	if err != nil {
		return nil, fmt.Errorf("dedup check failed: %w", err)
	}
	if obs == Duplicate {
		s.log.Debug().
			Str("fingerprint", fingerprint).
			Str("symbol", data.Symbol).
			Msg("Duplicate webhook ignored")
		s.bus.Publish("intake", &events.AlertDuplicateData{
			Fingerprint: fingerprint,
			Symbol:      data.Symbol,
		})
		return &Result{Duplicate: true}, nil
	}

	alert := &domain.IncomingAlert{
		ID:          uuid.NewString(),
		ReceivedAt:  s.clock.Now().UTC(),
		SourceIP:    sourceIP,
		Fingerprint: fingerprint,
		Data:        *data,
		Status:      domain.ProcessingReceived,
	}
	if err := s.repo.Create(alert); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("alert_id", alert.ID).
		Str("symbol", data.Symbol).
		Str("signal", string(data.Signal)).
		Msg("Alert received")

	s.bus.Publish("intake", &events.AlertReceivedData{
		AlertID:  alert.ID,
		Symbol:   data.Symbol,
		Signal:   string(data.Signal),
		SourceIP: sourceIP,
	})

	if err := s.enqueue(ctx, alert.ID); err != nil {
		// The alert is durable; matching will not happen until a retry or
		// maintenance requeue, and the caller gets the backpressure error.
		return nil, err
	}

	return &Result{AlertID: alert.ID}, nil
}
