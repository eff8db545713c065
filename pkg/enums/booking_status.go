package enums

import "fmt"

// BookingStatus tracks whether a reservation still holds its seats.
type BookingStatus string

const (
	BookingStatusActive   BookingStatus = "ACTIVE"
	BookingStatusCanceled BookingStatus = "CANCELED"
)

var validBookingStatuses = []BookingStatus{
	BookingStatusActive,
	BookingStatusCanceled,
}

// String implements fmt.Stringer.
func (s BookingStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known BookingStatus.
func (s BookingStatus) IsValid() bool {
	for _, candidate := range validBookingStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseBookingStatus converts raw input into a BookingStatus.
func ParseBookingStatus(value string) (BookingStatus, error) {
	for _, candidate := range validBookingStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid booking status %q", value)
}
