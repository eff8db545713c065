package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Pack is a purchasable credit bundle from the catalog.
type Pack struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name         string          `gorm:"column:name;not null"`
	Classes      int             `gorm:"column:classes;not null"`
	Price        decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	ValidityDays int             `gorm:"column:validity_days;not null"`
	IsActive     bool            `gorm:"column:is_active;not null"`
	OncePerUser  bool            `gorm:"column:once_per_user;not null;default:false"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Pack) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
