package payment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/chargehub/server/internal/module/payment/gateway"
)

// PaymentIntent statuses follow the gateway vocabulary. Local rows mirror
// the gateway state and never invent statuses of their own.
const (
	IntentStatusRequiresPaymentMethod = gateway.IntentStatusRequiresPaymentMethod
	IntentStatusRequiresConfirmation  = gateway.IntentStatusRequiresConfirmation
	IntentStatusRequiresAction        = gateway.IntentStatusRequiresAction
	IntentStatusProcessing            = gateway.IntentStatusProcessing
	IntentStatusSucceeded             = gateway.IntentStatusSucceeded
	IntentStatusCanceled              = gateway.IntentStatusCanceled
)

// Transaction statuses.
const (
	TransactionStatusSucceeded         = "succeeded"
	TransactionStatusFailed            = "failed"
	TransactionStatusRefunded          = "refunded"
	TransactionStatusPartiallyRefunded = "partially_refunded"
)

// Transaction types.
const (
	TransactionTypePayment = "payment"
)

// PaymentIntent is the local record of a gateway payment intent.
type PaymentIntent struct {
	ID                 uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID           uuid.UUID         `gorm:"type:uuid;not null;index:idx_payment_intents_tenant" json:"tenant_id"`
	OrderID            uuid.UUID         `gorm:"type:uuid;not null;index" json:"order_id"`
	UserID             uuid.UUID         `gorm:"type:uuid;not null" json:"user_id"`
	Provider           string            `gorm:"type:varchar(32);not null" json:"provider"`
	ProviderIntentID   string            `gorm:"type:varchar(255);uniqueIndex" json:"provider_intent_id"`
	ClientSecret       string            `gorm:"type:varchar(255)" json:"client_secret,omitempty"`
	Amount             decimal.Decimal   `gorm:"type:numeric(20,4);not null" json:"amount"`
	Currency           string            `gorm:"type:varchar(3);not null" json:"currency"`
	Status             string            `gorm:"type:varchar(32);not null;index" json:"status"`
	PaymentMethodTypes []string          `gorm:"type:jsonb;serializer:json" json:"payment_method_types,omitempty"`
	FailureCode        string            `gorm:"type:varchar(64)" json:"failure_code,omitempty"`
	FailureMessage     string            `gorm:"type:varchar(512)" json:"failure_message,omitempty"`
	Metadata           map[string]string `gorm:"type:jsonb;serializer:json" json:"metadata,omitempty"`
	ExpiresAt          time.Time         `gorm:"not null;index" json:"expires_at"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// TableName sets the table name.
func (PaymentIntent) TableName() string {
	return "payment_intents"
}

// BeforeCreate generates the intent ID.
func (p *PaymentIntent) BeforeCreate(_ *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// IsTerminal reports whether the intent can no longer change state.
func (p *PaymentIntent) IsTerminal() bool {
	return p.Status == IntentStatusSucceeded || p.Status == IntentStatusCanceled
}

// Transaction records a settled charge against a payment intent. There is
// at most one per intent, keyed by the provider's charge reference.
type Transaction struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID        uuid.UUID       `gorm:"type:uuid;not null;index:idx_transactions_tenant" json:"tenant_id"`
	PaymentIntentID uuid.UUID       `gorm:"type:uuid;not null;index" json:"payment_intent_id"`
	OrderID         uuid.UUID       `gorm:"type:uuid;not null;index" json:"order_id"`
	UserID          uuid.UUID       `gorm:"type:uuid;not null;index" json:"user_id"`
	Provider        string          `gorm:"type:varchar(32);not null" json:"provider"`
	ProviderTxnID   string          `gorm:"type:varchar(255);uniqueIndex" json:"provider_txn_id"`
	Type            string          `gorm:"type:varchar(32);not null" json:"type"`
	Amount          decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"amount"`
	Currency        string          `gorm:"type:varchar(3);not null" json:"currency"`
	Status          string          `gorm:"type:varchar(32);not null;index" json:"status"`
	FailureCode     string          `gorm:"type:varchar(64)" json:"failure_code,omitempty"`
	FailureReason   string          `gorm:"type:varchar(512)" json:"failure_reason,omitempty"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// TableName sets the table name.
func (Transaction) TableName() string {
	return "transactions"
}

// BeforeCreate generates the transaction ID.
func (t *Transaction) BeforeCreate(_ *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
