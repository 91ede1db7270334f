// Package marketdata supplies quotes, OHLCV history, and derived indicator
// values to the alert evaluator. The HTTP provider talks to an external quote
// API; the cache layer keeps snapshots and computed indicators in cache.db so
// a burst of due alerts on the same symbol costs one upstream round trip.
package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/config"
	"github.com/heraldlabs/herald/internal/domain"
)

// HTTPProvider implements domain.MarketDataProvider against a REST quote API.
type HTTPProvider struct {
	http *resty.Client
	log  zerolog.Logger
}

// NewHTTPProvider builds the provider from config. Requests retry on
// transport errors and 5xx responses before the failure is surfaced as
// ExternalUnavailable to the caller.
func NewHTTPProvider(cfg config.MarketDataConfig, log zerolog.Logger) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Accept", "application/json")

	if cfg.APIKey != "" {
		client.SetHeader("X-API-Key", cfg.APIKey)
	}

	return &HTTPProvider{
		http: client,
		log:  log.With().Str("component", "market_data").Logger(),
	}
}

type snapshotResponse struct {
	Symbol        string             `json:"symbol"`
	Venue         string             `json:"venue"`
	Price         float64            `json:"price"`
	Volume        float64            `json:"volume"`
	Change        float64            `json:"change"`
	ChangePercent float64            `json:"changePercent"`
	MarketCap     *float64           `json:"marketCap,omitempty"`
	Indicators    map[string]float64 `json:"indicators,omitempty"`
	AsOf          time.Time          `json:"asOf"`
}

type historyResponse struct {
	Bars []struct {
		Timestamp time.Time `json:"timestamp"`
		Open      float64   `json:"open"`
		High      float64   `json:"high"`
		Low       float64   `json:"low"`
		Close     float64   `json:"close"`
		Volume    float64   `json:"volume"`
	} `json:"bars"`
}

// GetSnapshot fetches the current quote for (symbol, venue).
func (p *HTTPProvider) GetSnapshot(ctx context.Context, symbol, venue string) (*domain.MarketSnapshot, error) {
	var result snapshotResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetQueryParam("venue", venue).
		SetResult(&result).
		Get("/v1/quote")
	if err != nil {
		return nil, domain.NewExternalUnavailable("fetch snapshot", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, domain.NewNotFound("quote", symbol+"/"+venue)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, domain.NewExternalUnavailable("fetch snapshot",
			fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()))
	}

	snap := &domain.MarketSnapshot{
		Symbol:        symbol,
		Venue:         venue,
		Price:         result.Price,
		Volume:        result.Volume,
		Change:        result.Change,
		ChangePercent: result.ChangePercent,
		MarketCap:     result.MarketCap,
		Indicators:    result.Indicators,
		AsOf:          result.AsOf.UTC(),
	}
	return snap, nil
}

// GetHistory fetches up to limit OHLCV bars, oldest first.
func (p *HTTPProvider) GetHistory(ctx context.Context, symbol, venue string, limit int) ([]domain.OHLCV, error) {
	var result historyResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetQueryParam("venue", venue).
		SetQueryParam("limit", fmt.Sprintf("%d", limit)).
		SetResult(&result).
		Get("/v1/history")
	if err != nil {
		return nil, domain.NewExternalUnavailable("fetch history", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, domain.NewNotFound("history", symbol+"/"+venue)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, domain.NewExternalUnavailable("fetch history",
			fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()))
	}

	bars := make([]domain.OHLCV, 0, len(result.Bars))
	for _, b := range result.Bars {
		bars = append(bars, domain.OHLCV{
			Timestamp: b.Timestamp.UTC(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	return bars, nil
}
