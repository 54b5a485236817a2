package payment

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chargehub/server/internal/module/order"
	"github.com/chargehub/server/internal/utils/pagination"
)

// CreatePaymentIntentRequest is the request body for creating a payment intent.
type CreatePaymentIntentRequest struct {
	UserID         uuid.UUID         `json:"user_id" binding:"required"`
	Amount         decimal.Decimal   `json:"amount" binding:"required"`
	Currency       string            `json:"currency" binding:"required,len=3"`
	Provider       string            `json:"provider"`
	PaymentType    order.PaymentType `json:"payment_type"`
	IdempotencyKey string            `json:"idempotency_key"`
	Metadata       map[string]string `json:"metadata"`
}

// ConfirmPaymentIntentRequest is the request body for confirming an intent.
type ConfirmPaymentIntentRequest struct {
	PaymentMethod string `json:"payment_method"`
	ReturnURL     string `json:"return_url"`
}

// ListPaymentsResponse is the paginated payments listing.
type ListPaymentsResponse struct {
	Payments   []PaymentIntent     `json:"payments"`
	Pagination pagination.PageInfo `json:"pagination"`
}
