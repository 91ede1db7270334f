// Package intake implements webhook ingestion: signature verification,
// payload validation, fingerprint deduplication, and persistence of
// incoming alerts before they are handed to the matcher.
package intake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/heraldlabs/herald/internal/domain"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9._-]{1,20}$`)

// WebhookPayload is the raw JSON body posted by strategy engines.
type WebhookPayload struct {
	Symbol          string         `json:"symbol"`
	Timeframe       string         `json:"timeframe"`
	Strategy        string         `json:"strategy"`
	Signal          string         `json:"signal"`
	Price           float64        `json:"price"`
	TakeProfitPrice *float64       `json:"takeProfitPrice,omitempty"`
	StopLossPrice   *float64       `json:"stopLossPrice,omitempty"`
	Timestamp       *time.Time     `json:"timestamp,omitempty"`
	TradeNumber     *int64         `json:"tradeNumber,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// DecodePayload parses and validates a webhook body into alert data.
// Unknown fields are rejected so typos surface as 400s instead of silently
// dropped fields.
func DecodePayload(body []byte) (*domain.AlertData, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	var p WebhookPayload
	if err := dec.Decode(&p); err != nil {
		return nil, domain.NewValidationError(fmt.Sprintf("invalid JSON body: %v", err), "body")
	}

	return p.Validate()
}

// Validate enforces the webhook schema and semantic price constraints,
// returning normalized alert data.
func (p *WebhookPayload) Validate() (*domain.AlertData, error) {
	var fields []string

	symbol := strings.ToUpper(strings.TrimSpace(p.Symbol))
	if !symbolPattern.MatchString(symbol) {
		fields = append(fields, "symbol")
	}

	timeframe := domain.Timeframe(strings.TrimSpace(p.Timeframe))
	if !timeframe.Valid() {
		fields = append(fields, "timeframe")
	}

	strategy := strings.TrimSpace(p.Strategy)
	if len(strategy) < 1 || len(strategy) > 100 {
		fields = append(fields, "strategy")
	}

	signal, ok := domain.ParseSignal(p.Signal)
	if !ok {
		fields = append(fields, "signal")
	}

	if p.Price <= 0 {
		fields = append(fields, "price")
	}
	if p.TakeProfitPrice != nil && *p.TakeProfitPrice <= 0 {
		fields = append(fields, "takeProfitPrice")
	}
	if p.StopLossPrice != nil && *p.StopLossPrice <= 0 {
		fields = append(fields, "stopLossPrice")
	}
	if p.TradeNumber != nil && *p.TradeNumber < 1 {
		fields = append(fields, "tradeNumber")
	}

	if len(fields) > 0 {
		return nil, domain.NewValidationError("invalid webhook payload", fields...)
	}

	// Semantic bracket constraints: TP above entry and SL below for BUY,
	// mirrored for SELL.
	if signal == domain.SignalBuy {
		if p.TakeProfitPrice != nil && *p.TakeProfitPrice <= p.Price {
			fields = append(fields, "takeProfitPrice")
		}
		if p.StopLossPrice != nil && *p.StopLossPrice >= p.Price {
			fields = append(fields, "stopLossPrice")
		}
	}
	if signal == domain.SignalSell {
		if p.TakeProfitPrice != nil && *p.TakeProfitPrice >= p.Price {
			fields = append(fields, "takeProfitPrice")
		}
		if p.StopLossPrice != nil && *p.StopLossPrice <= p.Price {
			fields = append(fields, "stopLossPrice")
		}
	}
	if len(fields) > 0 {
		return nil, domain.NewValidationError("price brackets inconsistent with signal direction", fields...)
	}

	var ts *time.Time
	if p.Timestamp != nil {
		utc := p.Timestamp.UTC()
		ts = &utc
	}

	return &domain.AlertData{
		Symbol:          symbol,
		Timeframe:       timeframe,
		Strategy:        strategy,
		Signal:          signal,
		Price:           p.Price,
		TakeProfitPrice: p.TakeProfitPrice,
		StopLossPrice:   p.StopLossPrice,
		Timestamp:       ts,
		TradeNumber:     p.TradeNumber,
		Metadata:        p.Metadata,
	}, nil
}
