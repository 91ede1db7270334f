package intake

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/heraldlabs/herald/internal/domain"
)

// Fingerprint computes the stable dedup hash of an alert payload. The hash
// covers (symbol, timeframe, strategy, signal, price rounded to 8 decimals,
// trade number, minute-truncated timestamp), so retransmissions of the same
// signal collapse onto one fingerprint regardless of delivery jitter.
func Fingerprint(data *domain.AlertData) string {
	var b strings.Builder
	b.WriteString(data.Symbol)
	b.WriteByte('|')
	b.WriteString(string(data.Timeframe))
	b.WriteByte('|')
	b.WriteString(data.Strategy)
	b.WriteByte('|')
	b.WriteString(string(data.Signal))
	b.WriteByte('|')
	fmt.Fprintf(&b, "%.8f", data.Price)
	b.WriteByte('|')
	if data.TradeNumber != nil {
		fmt.Fprintf(&b, "%d", *data.TradeNumber)
	}
	b.WriteByte('|')
	if data.Timestamp != nil {
		fmt.Fprintf(&b, "%d", data.Timestamp.UTC().Truncate(time.Minute).Unix())
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// VerifySignature checks the webhook HMAC header against the raw body.
// The header format is "sha256=<64 hex chars>"; comparison is constant
// time. An empty secret disables verification.
func VerifySignature(secret string, body []byte, header string) error {
	if secret == "" {
		return nil
	}

	provided := strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	if provided == "" {
		return domain.NewAuthError("missing webhook signature")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(provided))) {
		return domain.NewAuthError("webhook signature mismatch")
	}

	return nil
}
