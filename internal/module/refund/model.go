package refund

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Refund statuses.
const (
	StatusPending   = "pending"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// Refund records a full or partial reversal of a settled transaction.
type Refund struct {
	ID               uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID         uuid.UUID       `gorm:"type:uuid;not null;index:idx_refunds_tenant" json:"tenant_id"`
	OrderID          uuid.UUID       `gorm:"type:uuid;not null;index" json:"order_id"`
	PaymentIntentID  uuid.UUID       `gorm:"type:uuid;not null;index" json:"payment_intent_id"`
	TransactionID    uuid.UUID       `gorm:"type:uuid;not null;index" json:"transaction_id"`
	UserID           uuid.UUID       `gorm:"type:uuid;not null;index" json:"user_id"`
	Provider         string          `gorm:"type:varchar(32);not null" json:"provider"`
	ProviderRefundID string          `gorm:"type:varchar(255);uniqueIndex" json:"provider_refund_id"`
	Amount           decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"amount"`
	Currency         string          `gorm:"type:varchar(3);not null" json:"currency"`
	Status           string          `gorm:"type:varchar(32);not null;index" json:"status"`
	Reason           string          `gorm:"type:varchar(255)" json:"reason,omitempty"`
	ProcessedAt      *time.Time      `json:"processed_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// TableName sets the table name.
func (Refund) TableName() string {
	return "refunds"
}

// BeforeCreate generates the refund ID.
func (r *Refund) BeforeCreate(_ *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
