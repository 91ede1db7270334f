package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/heraldlabs/herald/internal/domain"
	"github.com/heraldlabs/herald/internal/metrics"
)

// SignatureHeader carries the webhook HMAC, formatted "sha256=<hex>". The
// name matches what charting platforms send.
const SignatureHeader = "X-TradingView-Signature"

// webhookResponse is the synchronous intake outcome.
type webhookResponse struct {
	Success   bool   `json:"success"`
	AlertID   string `json:"alertId,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Status    string `json:"status,omitempty"`
}

// handleWebhook handles POST /webhook.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		s.writeJSON(w, http.StatusServiceUnavailable, errorBody{
			Error: "shutting down",
			Kind:  "unavailable",
		})
		return
	}

	maxBytes := s.cfg.Ingest.MaxBodyBytes
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, domain.NewValidationError("payload exceeds size limit"))
			return
		}
		s.writeError(w, domain.NewValidationError("failed to read body"))
		return
	}

	result, err := s.intake.Ingest(r.Context(), body, r.Header.Get(SignatureHeader), r.RemoteAddr)
	if err != nil {
		if kind := domain.KindOf(err); kind == domain.KindAuth || kind == domain.KindValidation {
			s.metrics.Inc(metrics.CounterWebhookRejected)
		}
		s.writeError(w, err)
		return
	}

	if result.Duplicate {
		s.writeJSON(w, http.StatusOK, webhookResponse{Success: true, Duplicate: true})
		return
	}
	s.writeJSON(w, http.StatusOK, webhookResponse{Success: true, AlertID: result.AlertID, Status: "received"})
}
