package webhook

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WebhookEvent is the durable record of a received gateway notification.
// The composite unique index is the deduplication authority: a concurrent
// duplicate delivery loses the insert race and is dropped.
type WebhookEvent struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(32);not null;uniqueIndex:idx_webhook_events_dedupe" json:"provider"`
	EventID         string     `gorm:"type:varchar(255);not null;uniqueIndex:idx_webhook_events_dedupe" json:"event_id"`
	TenantID        uuid.UUID  `gorm:"type:uuid;uniqueIndex:idx_webhook_events_dedupe" json:"tenant_id"`
	EventType       string     `gorm:"type:varchar(64);not null;index" json:"event_type"`
	Payload         []byte     `gorm:"type:jsonb;not null" json:"-"`
	Processed       bool       `gorm:"not null;default:false;index" json:"processed"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:varchar(1024)" json:"processing_error,omitempty"`
	Attempts        int        `gorm:"not null;default:0" json:"attempts"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName sets the table name.
func (WebhookEvent) TableName() string {
	return "webhook_events"
}

// BeforeCreate generates the event record ID.
func (e *WebhookEvent) BeforeCreate(_ *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
