package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultCancelBeforeMin applies when a class row leaves its window NULL.
const DefaultCancelBeforeMin = 240

// Class is a scheduled session; its row is the capacity lock.
type Class struct {
	ID              uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Title           string     `gorm:"column:title;not null;default:''"`
	Date            time.Time  `gorm:"column:date;not null"`
	DurationMin     int        `gorm:"column:duration_min;not null;default:60"`
	Capacity        int        `gorm:"column:capacity;not null"`
	CreditCost      int        `gorm:"column:credit_cost;not null;default:1"`
	IsCanceled      bool       `gorm:"column:is_canceled;not null;default:false"`
	CancelBeforeMin *int       `gorm:"column:cancel_before_min"`
	InstructorID    *uuid.UUID `gorm:"column:instructor_id;type:uuid"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Class) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreditCost == 0 {
		c.CreditCost = 1
	}
	return nil
}

// MinutesUntilStart is negative once the class has begun.
func (c Class) MinutesUntilStart(now time.Time) float64 {
	return c.Date.Sub(now).Minutes()
}
