package payments

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignatureRoundTrip(t *testing.T) {
	v := NewSignatureVerifier("secret", 0)
	header := Sign("secret", "12345", "req-1", time.Now())
	require.NoError(t, v.Verify(header, "req-1", "12345"))

	assert.Error(t, v.Verify(header, "req-2", "12345"), "request id is part of the manifest")
	assert.Error(t, v.Verify(header, "req-1", "99999"), "data id is part of the manifest")
	assert.Error(t, NewSignatureVerifier("other", 0).Verify(header, "req-1", "12345"))
}

func TestSignatureManifestLowercasesDataID(t *testing.T) {
	v := NewSignatureVerifier("secret", 0)
	header := Sign("secret", "ABC123", "req", time.Now())
	assert.NoError(t, v.Verify(header, "req", "abc123"))
	assert.Equal(t, "id:abc123;request-id:req;ts:1;", manifest("ABC123", "req", "1"))
	assert.Equal(t, "ts:1;", manifest("", "", "1"))
}

func TestSignatureHeaderParsing(t *testing.T) {
	v := NewSignatureVerifier("secret", 0)
	cases := map[string]string{
		"empty":      "",
		"missing v1": "ts=1700000000",
		"missing ts": "v1=abcdef",
		"not hex":    "ts=1700000000,v1=zz",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, v.Verify(header, "req", "1"))
		})
	}

	header := Sign("secret", "1", "req", time.Now())
	spaced := " " + header[:len("ts=")+10] + " , " + header[len("ts=")+11:]
	assert.NoError(t, v.Verify(spaced, "req", "1"))
}

func TestSignatureSkew(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v := NewSignatureVerifier("secret", 5*time.Minute)
	v.now = func() time.Time { return now }

	assert.NoError(t, v.Verify(Sign("secret", "1", "r", now.Add(-2*time.Minute)), "r", "1"))
	assert.Error(t, v.Verify(Sign("secret", "1", "r", now.Add(-10*time.Minute)), "r", "1"))
}

func TestVerifierWithoutSecret(t *testing.T) {
	var nilVerifier *SignatureVerifier
	assert.Error(t, nilVerifier.Verify("ts=1,v1=00", "", ""))
	assert.Error(t, NewSignatureVerifier("", 0).Verify("ts=1,v1=00", "", ""))
}

func TestCorrelationToken(t *testing.T) {
	userID, packID, paymentID := uuid.New(), uuid.New(), uuid.New()
	token := NewCorrelationToken(userID, packID, paymentID)
	assert.Len(t, token.Nonce, 12)

	parsed, err := ParseCorrelationToken(token.String())
	require.NoError(t, err)
	assert.Equal(t, token, parsed)

	other := NewCorrelationToken(userID, packID, paymentID)
	assert.NotEqual(t, token.String(), other.String())

	for _, raw := range []string{"", "a|b|c", "x|" + packID.String() + "|" + paymentID.String() + "|n", userID.String() + "|" + packID.String() + "|" + paymentID.String() + "|"} {
		_, err := ParseCorrelationToken(raw)
		assert.Error(t, err, raw)
	}
}
