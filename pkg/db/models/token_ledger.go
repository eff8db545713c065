package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/humbertoham/wavestudio-sub000/pkg/enums"
)

// TokenLedger is one immutable signed credit delta.
type TokenLedger struct {
	ID             uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID         uuid.UUID          `gorm:"column:user_id;type:uuid;not null"`
	Delta          int                `gorm:"column:delta;not null"`
	Reason         enums.LedgerReason `gorm:"column:reason;type:text;not null"`
	PackPurchaseID *uuid.UUID         `gorm:"column:pack_purchase_id;type:uuid"`
	BookingID      *uuid.UUID         `gorm:"column:booking_id;type:uuid"`
	Note           *string            `gorm:"column:note"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime"`
}

func (TokenLedger) TableName() string { return "token_ledger" }

func (e *TokenLedger) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
