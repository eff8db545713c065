package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WebhookLog is the raw audit row written before a notification is processed.
// Only the processing annotations are ever updated.
type WebhookLog struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Provider       string          `gorm:"column:provider;not null"`
	EventType      string          `gorm:"column:event_type;not null;default:''"`
	DeliveryID     string          `gorm:"column:delivery_id;not null;default:''"`
	RequestID      string          `gorm:"column:request_id;not null;default:''"`
	Signature      string          `gorm:"column:signature;not null;default:''"`
	Payload        json.RawMessage `gorm:"column:payload;type:jsonb"`
	SignatureValid bool            `gorm:"column:signature_valid;not null;default:false"`
	ProcessedOK    bool            `gorm:"column:processed_ok;not null;default:false"`
	Outcome        *string         `gorm:"column:outcome"`
	Error          *string         `gorm:"column:error"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	ProcessedAt    *time.Time      `gorm:"column:processed_at"`
}

func (w *WebhookLog) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}
