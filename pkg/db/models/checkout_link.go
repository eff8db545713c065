package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/humbertoham/wavestudio-sub000/pkg/enums"
)

// CheckoutLink holds the correlation token sent as the provider's external reference.
type CheckoutLink struct {
	ID        uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Token     string                   `gorm:"column:token;not null;uniqueIndex"`
	UserID    uuid.UUID                `gorm:"column:user_id;type:uuid;not null"`
	PackID    uuid.UUID                `gorm:"column:pack_id;type:uuid;not null"`
	PaymentID uuid.UUID                `gorm:"column:payment_id;type:uuid;not null"`
	Status    enums.CheckoutLinkStatus `gorm:"column:status;type:text;not null;default:'PENDING'"`
	CreatedAt time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (l *CheckoutLink) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
