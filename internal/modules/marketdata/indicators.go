package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/domain"
)

// ErrInsufficientData marks an indicator that cannot be computed from the
// available history. The evaluator treats it as "do not trigger", not as a
// failure of the alert.
var ErrInsufficientData = errors.New("insufficient history for indicator")

// IsInsufficientData reports whether err is the insufficient-history outcome.
func IsInsufficientData(err error) bool {
	return errors.Is(err, ErrInsufficientData)
}

// Default periods applied when a condition leaves Period at zero.
const (
	DefaultSMAPeriod       = 20
	DefaultEMAPeriod       = 20
	DefaultRSIPeriod       = 14
	DefaultBollingerPeriod = 20

	// MACD uses the conventional 12/26/9 parameterization; the condition's
	// period is ignored for it.
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9

	bollingerStdDev = 2.0
)

// DefaultHistoryLimit bounds history fetches when config leaves it unset.
// 300 bars covers a 200-period average with warmup to spare.
const DefaultHistoryLimit = 300

// Engine computes technical indicator values from OHLCV history, caching
// results keyed by the last bar so repeated evaluations within one candle
// are free.
type Engine struct {
	provider     domain.MarketDataProvider
	cache        *Cache
	ttl          time.Duration
	historyLimit int
	log          zerolog.Logger
}

// NewEngine builds the indicator engine. ttl bounds how long a computed value
// may outlive its bar; historyLimit caps upstream fetches.
func NewEngine(provider domain.MarketDataProvider, cache *Cache, ttl time.Duration, historyLimit int, log zerolog.Logger) *Engine {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Engine{
		provider:     provider,
		cache:        cache,
		ttl:          ttl,
		historyLimit: historyLimit,
		log:          log.With().Str("component", "indicators").Logger(),
	}
}

// Resolve computes the indicator value for (symbol, venue, field, period).
// Returns ErrInsufficientData when the history cannot support the requested
// period; upstream failures surface as ExternalUnavailable from the provider.
func (e *Engine) Resolve(ctx context.Context, symbol, venue string, field domain.ConditionField, period int) (float64, error) {
	if !field.Indicator() {
		return 0, fmt.Errorf("field %q is not an indicator", field)
	}
	period = effectivePeriod(field, period)

	bars, err := e.provider.GetHistory(ctx, symbol, venue, e.historyLimit)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, ErrInsufficientData
	}

	key := IndicatorKey(symbol, venue, field, period, bars[len(bars)-1].Timestamp)
	if value, ok, err := e.cache.GetIndicator(key); err != nil {
		e.log.Warn().Err(err).Msg("Indicator cache read failed, recomputing")
	} else if ok {
		return value, nil
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	value, err := Compute(field, closes, period)
	if err != nil {
		return 0, err
	}

	if err := e.cache.PutIndicator(key, value, e.ttl); err != nil {
		e.log.Warn().Err(err).Msg("Indicator cache write failed")
	}
	return value, nil
}

// Compute derives one indicator value from closing prices. The last element
// of the talib output series is the current value.
func Compute(field domain.ConditionField, closes []float64, period int) (float64, error) {
	switch field {
	case domain.FieldSMA:
		if len(closes) < period {
			return 0, ErrInsufficientData
		}
		return lastValid(talib.Sma(closes, period))

	case domain.FieldEMA:
		if len(closes) < period {
			return 0, ErrInsufficientData
		}
		return lastValid(talib.Ema(closes, period))

	case domain.FieldRSI:
		if len(closes) < period+1 {
			return 0, ErrInsufficientData
		}
		return lastValid(talib.Rsi(closes, period))

	case domain.FieldMACD:
		if len(closes) < macdSlow+macdSignal {
			return 0, ErrInsufficientData
		}
		macd, _, _ := talib.Macd(closes, macdFast, macdSlow, macdSignal)
		return lastValid(macd)

	case domain.FieldBollinger:
		if len(closes) < period {
			return 0, ErrInsufficientData
		}
		// Resolved as %B: 0 at the lower band, 1 at the upper. Conditions
		// like "bollinger > 1" read as "price above the upper band".
		upper, _, lower := talib.BBands(closes, period, bollingerStdDev, bollingerStdDev, 0)
		u, err := lastValid(upper)
		if err != nil {
			return 0, err
		}
		l, err := lastValid(lower)
		if err != nil {
			return 0, err
		}
		price := closes[len(closes)-1]
		width := u - l
		if width == 0 {
			return 0.5, nil
		}
		return (price - l) / width, nil

	default:
		return 0, fmt.Errorf("field %q is not an indicator", field)
	}
}

// effectivePeriod substitutes the per-indicator default when period is zero.
func effectivePeriod(field domain.ConditionField, period int) int {
	if period > 0 {
		return period
	}
	switch field {
	case domain.FieldSMA:
		return DefaultSMAPeriod
	case domain.FieldEMA:
		return DefaultEMAPeriod
	case domain.FieldRSI:
		return DefaultRSIPeriod
	case domain.FieldBollinger:
		return DefaultBollingerPeriod
	default:
		return 0
	}
}

func lastValid(series []float64) (float64, error) {
	if len(series) == 0 {
		return 0, ErrInsufficientData
	}
	v := series[len(series)-1]
	if v != v { // NaN from talib warmup
		return 0, ErrInsufficientData
	}
	return v, nil
}
