package intake

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldlabs/herald/internal/domain"
	htesting "github.com/heraldlabs/herald/internal/testing"
)

func TestFingerprintIsStable(t *testing.T) {
	data := htesting.NewAlertDataFixture()
	fp1 := Fingerprint(&data)
	fp2 := Fingerprint(&data)

	assert.Equal(t, fp1, fp2)
	assert.Len(t, fp1, 64)
}

func TestFingerprintSensitivity(t *testing.T) {
	base := htesting.NewAlertDataFixture()

	changed := base
	changed.Price = base.Price + 0.00000001
	assert.NotEqual(t, Fingerprint(&base), Fingerprint(&changed), "8th decimal is significant")

	withNumber := base
	withNumber.TradeNumber = htesting.Int64Ptr(7)
	assert.NotEqual(t, Fingerprint(&base), Fingerprint(&withNumber))

	otherSignal := base
	otherSignal.Signal = domain.SignalSell
	assert.NotEqual(t, Fingerprint(&base), Fingerprint(&otherSignal))
}

func TestFingerprintTruncatesTimestampToMinute(t *testing.T) {
	a := htesting.NewAlertDataFixture()
	b := htesting.NewAlertDataFixture()

	t1 := time.Date(2026, 3, 1, 12, 30, 5, 0, time.UTC)
	t2 := time.Date(2026, 3, 1, 12, 30, 55, 0, time.UTC)
	t3 := time.Date(2026, 3, 1, 12, 31, 0, 0, time.UTC)

	a.Timestamp = &t1
	b.Timestamp = &t2
	assert.Equal(t, Fingerprint(&a), Fingerprint(&b), "same minute collapses")

	b.Timestamp = &t3
	assert.NotEqual(t, Fingerprint(&a), Fingerprint(&b), "next minute differs")
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"symbol":"BTC"}`)

	require.NoError(t, VerifySignature("topsecret", body, sign("topsecret", body)))

	err := VerifySignature("topsecret", body, sign("wrongsecret", body))
	assert.True(t, domain.IsKind(err, domain.KindAuth))

	err = VerifySignature("topsecret", body, "")
	assert.True(t, domain.IsKind(err, domain.KindAuth))

	err = VerifySignature("topsecret", []byte("tampered"), sign("topsecret", body))
	assert.True(t, domain.IsKind(err, domain.KindAuth))

	// No secret configured: verification is disabled.
	require.NoError(t, VerifySignature("", body, ""))
	require.NoError(t, VerifySignature("", body, "sha256=garbage"))
}
