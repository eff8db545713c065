package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/humbertoham/wavestudio-sub000/pkg/enums"
)

// Booking reserves Quantity seats in a class.
type Booking struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID         *uuid.UUID          `gorm:"column:user_id;type:uuid"`
	ClassID        uuid.UUID           `gorm:"column:class_id;type:uuid;not null"`
	Quantity       int                 `gorm:"column:quantity;not null;default:1"`
	Status         enums.BookingStatus `gorm:"column:status;type:text;not null;default:'ACTIVE'"`
	PackPurchaseID *uuid.UUID          `gorm:"column:pack_purchase_id;type:uuid"`
	RefundToken    bool                `gorm:"column:refund_token;not null;default:false"`
	Attended       bool                `gorm:"column:attended;not null;default:false"`
	CanceledAt     *time.Time          `gorm:"column:canceled_at"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (b *Booking) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// IsOwnedBy reports whether the booking belongs to userID.
func (b Booking) IsOwnedBy(userID uuid.UUID) bool {
	return b.UserID != nil && *b.UserID == userID
}
