package intake

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldlabs/herald/internal/domain"
)

func validBody() map[string]any {
	return map[string]any{
		"symbol":          "BTC",
		"timeframe":       "5m",
		"strategy":        "S2",
		"signal":          "BUY",
		"price":           45000.50,
		"takeProfitPrice": 46000.0,
		"stopLossPrice":   44500.0,
	}
}

func marshalBody(t *testing.T, body map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return raw
}

func TestDecodeValidPayload(t *testing.T) {
	data, err := DecodePayload(marshalBody(t, validBody()))
	require.NoError(t, err)

	assert.Equal(t, "BTC", data.Symbol)
	assert.Equal(t, domain.Timeframe5m, data.Timeframe)
	assert.Equal(t, domain.SignalBuy, data.Signal)
	assert.Equal(t, 45000.50, data.Price)
	require.NotNil(t, data.TakeProfitPrice)
	assert.Equal(t, 46000.0, *data.TakeProfitPrice)
}

func TestDecodeNormalizes(t *testing.T) {
	body := validBody()
	body["symbol"] = " btc "
	body["signal"] = "buy"

	data, err := DecodePayload(marshalBody(t, body))
	require.NoError(t, err)
	assert.Equal(t, "BTC", data.Symbol)
	assert.Equal(t, domain.SignalBuy, data.Signal)
}

func TestDecodeRejections(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(map[string]any)
		wantFields []string
	}{
		{
			name:       "symbol too long",
			mutate:     func(b map[string]any) { b["symbol"] = "ABCDEFGHIJKLMNOPQRSTU" },
			wantFields: []string{"symbol"},
		},
		{
			name:       "symbol with illegal characters",
			mutate:     func(b map[string]any) { b["symbol"] = "BTC/USD" },
			wantFields: []string{"symbol"},
		},
		{
			name:       "unknown timeframe",
			mutate:     func(b map[string]any) { b["timeframe"] = "3m" },
			wantFields: []string{"timeframe"},
		},
		{
			name:       "empty strategy",
			mutate:     func(b map[string]any) { b["strategy"] = "  " },
			wantFields: []string{"strategy"},
		},
		{
			name:       "unknown signal",
			mutate:     func(b map[string]any) { b["signal"] = "HOLD" },
			wantFields: []string{"signal"},
		},
		{
			name:       "zero price",
			mutate:     func(b map[string]any) { b["price"] = 0 },
			wantFields: []string{"price"},
		},
		{
			name:       "negative take profit",
			mutate:     func(b map[string]any) { b["takeProfitPrice"] = -1 },
			wantFields: []string{"takeProfitPrice"},
		},
		{
			name:       "trade number below one",
			mutate:     func(b map[string]any) { b["tradeNumber"] = 0 },
			wantFields: []string{"tradeNumber"},
		},
		{
			name: "buy with inverted brackets",
			mutate: func(b map[string]any) {
				b["takeProfitPrice"] = 44000.0
				b["stopLossPrice"] = 46000.0
			},
			wantFields: []string{"takeProfitPrice", "stopLossPrice"},
		},
		{
			name: "sell with inverted brackets",
			mutate: func(b map[string]any) {
				b["signal"] = "SELL"
				b["takeProfitPrice"] = 46000.0
				b["stopLossPrice"] = 44000.0
			},
			wantFields: []string{"takeProfitPrice", "stopLossPrice"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := validBody()
			tt.mutate(body)

			_, err := DecodePayload(marshalBody(t, body))
			require.Error(t, err)
			assert.True(t, domain.IsKind(err, domain.KindValidation))
			assert.Equal(t, tt.wantFields, domain.FieldsOf(err))
		})
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	body := validBody()
	body["stoplossprice"] = 44000.0 // typo'd field name

	_, err := DecodePayload(marshalBody(t, body))
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, err := DecodePayload([]byte("{not json"))
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestSellBracketsAccepted(t *testing.T) {
	body := validBody()
	body["signal"] = "SELL"
	body["takeProfitPrice"] = 44000.0
	body["stopLossPrice"] = 46000.0

	data, err := DecodePayload(marshalBody(t, body))
	require.NoError(t, err)
	assert.Equal(t, domain.SignalSell, data.Signal)
}

func TestTimestampNormalizedToUTC(t *testing.T) {
	body := validBody()
	body["timestamp"] = "2026-03-01T15:04:05+02:00"

	data, err := DecodePayload(marshalBody(t, body))
	require.NoError(t, err)
	require.NotNil(t, data.Timestamp)
	assert.Equal(t, time.UTC, data.Timestamp.Location())
	assert.Equal(t, 13, data.Timestamp.Hour())
}
