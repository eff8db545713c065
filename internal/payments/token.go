package payments

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const tokenSeparator = "|"

// CorrelationToken is sent to the provider as external_reference and comes
// back on every notification for the payment.
type CorrelationToken struct {
	UserID    uuid.UUID
	PackID    uuid.UUID
	PaymentID uuid.UUID
	Nonce     string
}

// NewCorrelationToken builds a token with a fresh nonce.
func NewCorrelationToken(userID, packID, paymentID uuid.UUID) CorrelationToken {
	return CorrelationToken{
		UserID:    userID,
		PackID:    packID,
		PaymentID: paymentID,
		Nonce:     strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
	}
}

func (t CorrelationToken) String() string {
	return strings.Join([]string{
		t.UserID.String(),
		t.PackID.String(),
		t.PaymentID.String(),
		t.Nonce,
	}, tokenSeparator)
}

// ParseCorrelationToken decodes userId|packId|paymentId|nonce.
func ParseCorrelationToken(raw string) (CorrelationToken, error) {
	parts := strings.Split(strings.TrimSpace(raw), tokenSeparator)
	if len(parts) != 4 {
		return CorrelationToken{}, fmt.Errorf("correlation token has %d parts, want 4", len(parts))
	}
	userID, err := uuid.Parse(parts[0])
	if err != nil {
		return CorrelationToken{}, fmt.Errorf("correlation token user id: %w", err)
	}
	packID, err := uuid.Parse(parts[1])
	if err != nil {
		return CorrelationToken{}, fmt.Errorf("correlation token pack id: %w", err)
	}
	paymentID, err := uuid.Parse(parts[2])
	if err != nil {
		return CorrelationToken{}, fmt.Errorf("correlation token payment id: %w", err)
	}
	if parts[3] == "" {
		return CorrelationToken{}, fmt.Errorf("correlation token nonce missing")
	}
	return CorrelationToken{UserID: userID, PackID: packID, PaymentID: paymentID, Nonce: parts[3]}, nil
}
