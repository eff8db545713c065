package controllers

import (
	"time"

	"github.com/google/uuid"

	"github.com/humbertoham/wavestudio-sub000/internal/ledger"
	"github.com/humbertoham/wavestudio-sub000/pkg/db/models"
)

type bookingResponse struct {
	ID             uuid.UUID  `json:"id"`
	ClassID        uuid.UUID  `json:"class_id"`
	UserID         *uuid.UUID `json:"user_id,omitempty"`
	Quantity       int        `json:"quantity"`
	Status         string     `json:"status"`
	PackPurchaseID *uuid.UUID `json:"pack_purchase_id,omitempty"`
	RefundToken    bool       `json:"refund_token"`
	Attended       bool       `json:"attended"`
	CanceledAt     *time.Time `json:"canceled_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func newBookingResponse(b *models.Booking) *bookingResponse {
	if b == nil {
		return nil
	}
	return &bookingResponse{
		ID:             b.ID,
		ClassID:        b.ClassID,
		UserID:         b.UserID,
		Quantity:       b.Quantity,
		Status:         b.Status.String(),
		PackPurchaseID: b.PackPurchaseID,
		RefundToken:    b.RefundToken,
		Attended:       b.Attended,
		CanceledAt:     b.CanceledAt,
		CreatedAt:      b.CreatedAt,
	}
}

type ledgerEntryResponse struct {
	ID             uuid.UUID  `json:"id"`
	Delta          int        `json:"delta"`
	Reason         string     `json:"reason"`
	PackPurchaseID *uuid.UUID `json:"pack_purchase_id,omitempty"`
	BookingID      *uuid.UUID `json:"booking_id,omitempty"`
	Note           *string    `json:"note,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func newLedgerEntries(entries []models.TokenLedger) []ledgerEntryResponse {
	out := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledgerEntryResponse{
			ID:             e.ID,
			Delta:          e.Delta,
			Reason:         e.Reason.String(),
			PackPurchaseID: e.PackPurchaseID,
			BookingID:      e.BookingID,
			Note:           e.Note,
			CreatedAt:      e.CreatedAt,
		})
	}
	return out
}

type purchaseResponse struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	PackID      uuid.UUID  `json:"pack_id"`
	ClassesLeft int        `json:"classes_left"`
	ExpiresAt   time.Time  `json:"expires_at"`
	PaymentID   *uuid.UUID `json:"payment_id,omitempty"`
}

func newPurchaseResponse(p *models.PackPurchase) *purchaseResponse {
	if p == nil {
		return nil
	}
	return &purchaseResponse{
		ID:          p.ID,
		UserID:      p.UserID,
		PackID:      p.PackID,
		ClassesLeft: p.ClassesLeft,
		ExpiresAt:   p.ExpiresAt,
		PaymentID:   p.PaymentID,
	}
}

type balanceResponse struct {
	Balance int             `json:"balance"`
	Buckets []ledger.Bucket `json:"buckets"`
}

type paymentResponse struct {
	ID                uuid.UUID `json:"id"`
	Provider          string    `json:"provider"`
	Status            string    `json:"status"`
	Amount            string    `json:"amount"`
	Currency          string    `json:"currency"`
	PackID            uuid.UUID `json:"pack_id"`
	PreferenceID      *string   `json:"preference_id,omitempty"`
	ExternalReference string    `json:"external_reference"`
}

func newPaymentResponse(p *models.Payment) *paymentResponse {
	if p == nil {
		return nil
	}
	return &paymentResponse{
		ID:                p.ID,
		Provider:          p.Provider,
		Status:            p.Status.String(),
		Amount:            p.Amount.StringFixed(2),
		Currency:          p.Currency,
		PackID:            p.PackID,
		PreferenceID:      p.PreferenceID,
		ExternalReference: p.ExternalReference,
	}
}
