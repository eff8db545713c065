package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureVerifier checks the provider's x-signature header. The signed
// manifest is "id:<data id>;request-id:<x-request-id>;ts:<ts>;" with empty
// components left out.
type SignatureVerifier struct {
	secret  []byte
	maxSkew time.Duration
	now     func() time.Time
}

// NewSignatureVerifier returns a verifier for secret. A positive maxSkew also
// rejects signatures whose timestamp is too far from now.
func NewSignatureVerifier(secret string, maxSkew time.Duration) *SignatureVerifier {
	return &SignatureVerifier{
		secret:  []byte(secret),
		maxSkew: maxSkew,
		now:     time.Now,
	}
}

// Verify returns nil when header carries a valid v1 signature for the
// delivery.
func (v *SignatureVerifier) Verify(header, requestID, dataID string) error {
	if v == nil || len(v.secret) == 0 {
		return fmt.Errorf("webhook secret not configured")
	}
	ts, sig, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}
	expected := sign(v.secret, manifest(dataID, requestID, ts))
	given, err := hex.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("signature is not hex: %w", err)
	}
	if !hmac.Equal(expected, given) {
		return fmt.Errorf("signature mismatch")
	}
	if v.maxSkew > 0 {
		at, err := parseTimestamp(ts)
		if err != nil {
			return err
		}
		skew := v.now().Sub(at)
		if skew < 0 {
			skew = -skew
		}
		if skew > v.maxSkew {
			return fmt.Errorf("signature timestamp outside allowed skew")
		}
	}
	return nil
}

// Sign produces an x-signature header value for the delivery. Providers
// compute the same value on their side.
func Sign(secret, dataID, requestID string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := sign([]byte(secret), manifest(dataID, requestID, ts))
	return fmt.Sprintf("ts=%s,v1=%s", ts, hex.EncodeToString(mac))
}

func sign(secret []byte, message string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	return mac.Sum(nil)
}

func manifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		// alphanumeric ids are signed lowercased
		fmt.Fprintf(&b, "id:%s;", strings.ToLower(dataID))
	}
	if requestID != "" {
		fmt.Fprintf(&b, "request-id:%s;", requestID)
	}
	if ts != "" {
		fmt.Fprintf(&b, "ts:%s;", ts)
	}
	return b.String()
}

func parseSignatureHeader(header string) (ts, sig string, err error) {
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			sig = strings.TrimSpace(value)
		}
	}
	if ts == "" || sig == "" {
		return "", "", fmt.Errorf("signature header missing ts or v1")
	}
	return ts, sig, nil
}

func parseTimestamp(ts string) (time.Time, error) {
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("signature timestamp: %w", err)
	}
	if n > 1e12 {
		return time.UnixMilli(n), nil
	}
	return time.Unix(n, 0), nil
}
