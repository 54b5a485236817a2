package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus represents the status of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusFailed     OrderStatus = "failed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// PaymentType represents the kind of charge an order requests.
type PaymentType string

const (
	PaymentTypeOneTime      PaymentType = "one_time"
	PaymentTypeSubscription PaymentType = "subscription"
)

// Order is a request to move a fixed amount of money.
type Order struct {
	ID             uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TenantID       uuid.UUID         `json:"tenant_id" gorm:"type:uuid;not null;index"`
	UserID         uuid.UUID         `json:"user_id" gorm:"type:uuid;not null;index"`
	OrderNumber    string            `json:"order_number" gorm:"uniqueIndex;not null"`
	IdempotencyKey string            `json:"-" gorm:"uniqueIndex;not null"`
	Amount         decimal.Decimal   `json:"amount" gorm:"type:numeric(20,4);not null"`
	Currency       string            `json:"currency" gorm:"type:varchar(3);not null"`
	Status         OrderStatus       `json:"status" gorm:"not null;default:pending;index"`
	PaymentType    PaymentType       `json:"payment_type" gorm:"not null;default:one_time"`
	Metadata       map[string]string `json:"metadata,omitempty" gorm:"type:jsonb;serializer:json"`
	CreatedAt      time.Time         `json:"created_at" gorm:"index"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// TableName returns the database table name.
func (Order) TableName() string {
	return "orders"
}

// IsTerminal returns true if the order can no longer transition.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusCompleted ||
		o.Status == OrderStatusFailed ||
		o.Status == OrderStatusCancelled
}

// IsCompleted returns true if the order completed successfully.
func (o *Order) IsCompleted() bool {
	return o.Status == OrderStatusCompleted
}
