package order

import "errors"

// Module errors.
var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderCompleted     = errors.New("order is already completed")
	ErrOrderNotCancelable = errors.New("order cannot be cancelled")
	ErrInvalidTransition  = errors.New("invalid order status transition")
	ErrInvalidAmount      = errors.New("order amount must be positive")
	ErrInvalidCurrency    = errors.New("currency must be a 3-letter ISO code")
)
