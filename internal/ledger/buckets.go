package ledger

import (
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/humbertoham/wavestudio-sub000/pkg/errors"
)

// Bucket is the remaining credit of one funding source. A nil PackPurchaseID
// is the unattributed pool, which never expires.
type Bucket struct {
	PackPurchaseID *uuid.UUID `json:"pack_purchase_id,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Remaining      int        `json:"remaining"`
}

// IsPool reports whether the bucket is the unattributed pool.
func (b Bucket) IsPool() bool {
	return b.PackPurchaseID == nil
}

// Allocation is the share of a debit drawn from one bucket.
type Allocation struct {
	PackPurchaseID *uuid.UUID
	Amount         int
}

// Allocate spreads amount over buckets in order, skipping empty or negative
// ones. Buckets must already be ordered soonest-expiry first with the pool last.
func Allocate(buckets []Bucket, amount int) ([]Allocation, error) {
	if amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "allocation amount must be positive")
	}

	allocations := make([]Allocation, 0, len(buckets))
	left := amount
	available := 0
	for _, b := range buckets {
		if b.Remaining <= 0 {
			continue
		}
		available += b.Remaining
		if left == 0 {
			continue
		}
		take := b.Remaining
		if take > left {
			take = left
		}
		allocations = append(allocations, Allocation{PackPurchaseID: b.PackPurchaseID, Amount: take})
		left -= take
	}

	if left > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNoCreditsAvailable, "no funding source can cover the debit").
			WithDetails(map[string]any{"available": available, "needed": amount})
	}
	return allocations, nil
}

// Total sums the remaining credit across buckets.
func Total(buckets []Bucket) int {
	total := 0
	for _, b := range buckets {
		total += b.Remaining
	}
	return total
}
