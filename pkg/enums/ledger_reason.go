package enums

import "fmt"

// LedgerReason explains why a token_ledger row was written.
type LedgerReason string

const (
	LedgerReasonPurchaseCredit   LedgerReason = "PURCHASE_CREDIT"
	LedgerReasonBookingDebit     LedgerReason = "BOOKING_DEBIT"
	LedgerReasonCancelRefund     LedgerReason = "CANCEL_REFUND"
	LedgerReasonAdminAdjust      LedgerReason = "ADMIN_ADJUST"
	LedgerReasonCorporateMonthly LedgerReason = "CORPORATE_MONTHLY"
)

var validLedgerReasons = []LedgerReason{
	LedgerReasonPurchaseCredit,
	LedgerReasonBookingDebit,
	LedgerReasonCancelRefund,
	LedgerReasonAdminAdjust,
	LedgerReasonCorporateMonthly,
}

// String implements fmt.Stringer.
func (r LedgerReason) String() string {
	return string(r)
}

// IsValid reports whether the value matches a known ledger reason.
func (r LedgerReason) IsValid() bool {
	for _, candidate := range validLedgerReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseLedgerReason converts raw input into LedgerReason.
func ParseLedgerReason(value string) (LedgerReason, error) {
	for _, candidate := range validLedgerReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger reason %q", value)
}
