package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/humbertoham/wavestudio-sub000/pkg/enums"
)

// User is the credit consumer; its row doubles as the per-user ledger lock.
type User struct {
	ID          uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email       string            `gorm:"column:email;type:text;not null;uniqueIndex"`
	Name        string            `gorm:"column:name;not null;default:''"`
	Role        enums.Role        `gorm:"column:role;type:text;not null;default:'USER'"`
	Affiliation enums.Affiliation `gorm:"column:affiliation;type:text;not null;default:'NONE'"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
