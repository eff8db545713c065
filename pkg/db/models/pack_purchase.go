package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PackPurchase is one user's instance of a pack. ClassesLeft is a projection
// of the ledger rows that reference the purchase and is never read for
// balance decisions.
type PackPurchase struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID      uuid.UUID  `gorm:"column:user_id;type:uuid;not null"`
	PackID      uuid.UUID  `gorm:"column:pack_id;type:uuid;not null"`
	ClassesLeft int        `gorm:"column:classes_left;not null"`
	ExpiresAt   time.Time  `gorm:"column:expires_at;not null"`
	PaymentID   *uuid.UUID `gorm:"column:payment_id;type:uuid;uniqueIndex"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *PackPurchase) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Expired reports whether the purchase no longer counts toward the balance.
func (p PackPurchase) Expired(asOf time.Time) bool {
	return !p.ExpiresAt.After(asOf)
}
