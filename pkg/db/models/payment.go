package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/humbertoham/wavestudio-sub000/pkg/enums"
)

// Payment mirrors a provider payment created at checkout.
type Payment struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Provider          string              `gorm:"column:provider;not null"`
	Status            enums.PaymentStatus `gorm:"column:status;type:text;not null;default:'PENDING'"`
	Amount            decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency          string              `gorm:"column:currency;not null"`
	UserID            *uuid.UUID          `gorm:"column:user_id;type:uuid"`
	PackID            uuid.UUID           `gorm:"column:pack_id;type:uuid;not null"`
	ProviderPaymentID *string             `gorm:"column:provider_payment_id;uniqueIndex"`
	PreferenceID      *string             `gorm:"column:preference_id"`
	ExternalReference string              `gorm:"column:external_reference;not null;uniqueIndex"`
	PayerEmail        *string             `gorm:"column:payer_email"`
	RawPayload        json.RawMessage     `gorm:"column:raw_payload;type:jsonb"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
