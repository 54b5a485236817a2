package invoice

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Invoice statuses.
const (
	StatusIssued = "issued"
	StatusVoid   = "void"
)

// Invoice is the billing document issued for a completed order. The unique
// order index guarantees at most one invoice per order no matter how often
// generation is retried.
type Invoice struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID      uuid.UUID       `gorm:"type:uuid;not null;index:idx_invoices_tenant" json:"tenant_id"`
	OrderID       uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex" json:"order_id"`
	InvoiceNumber string          `gorm:"type:varchar(32);not null;uniqueIndex" json:"invoice_number"`
	Amount        decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"amount"`
	Currency      string          `gorm:"type:varchar(3);not null" json:"currency"`
	Status        string          `gorm:"type:varchar(32);not null" json:"status"`
	IssuedAt      time.Time       `gorm:"not null" json:"issued_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TableName sets the table name.
func (Invoice) TableName() string {
	return "invoices"
}

// BeforeCreate generates the invoice ID.
func (i *Invoice) BeforeCreate(_ *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
