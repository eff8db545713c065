package enums

import "fmt"

// CheckoutLinkStatus tracks the correlation token handed to the provider.
type CheckoutLinkStatus string

const (
	CheckoutLinkStatusPending   CheckoutLinkStatus = "PENDING"
	CheckoutLinkStatusCompleted CheckoutLinkStatus = "COMPLETED"
	CheckoutLinkStatusCanceled  CheckoutLinkStatus = "CANCELED"
)

var validCheckoutLinkStatuses = []CheckoutLinkStatus{
	CheckoutLinkStatusPending,
	CheckoutLinkStatusCompleted,
	CheckoutLinkStatusCanceled,
}

// IsValid reports whether the value is a known CheckoutLinkStatus.
func (s CheckoutLinkStatus) IsValid() bool {
	for _, candidate := range validCheckoutLinkStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseCheckoutLinkStatus converts raw input into a CheckoutLinkStatus.
func ParseCheckoutLinkStatus(value string) (CheckoutLinkStatus, error) {
	for _, candidate := range validCheckoutLinkStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid checkout link status %q", value)
}
