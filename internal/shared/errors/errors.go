package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types.
var (
	ErrNotFound          = errors.New("resource not found")
	ErrBadRequest        = errors.New("bad request")
	ErrConflict          = errors.New("resource conflict")
	ErrInternal          = errors.New("internal error")
	ErrPaymentIntent     = errors.New("invalid payment intent request")
	ErrPaymentProcessing = errors.New("payment processing failed")
	ErrRefund            = errors.New("refund rejected")
	ErrWebhook           = errors.New("webhook rejected")
	ErrIdempotency       = errors.New("invalid idempotency key")
)

// AppError represents an application error with HTTP status and error code.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// ErrorResponse represents the JSON error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAppError creates a new application error.
func NewAppError(code string, message string, statusCode int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// Error constructors, one per taxonomy entry.

// NotFound creates a not found error.
func NotFound(resource string) *AppError {
	return &AppError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
		Err:        ErrNotFound,
	}
}

// PaymentIntentError creates a payment-intent validation error.
func PaymentIntentError(message string) *AppError {
	return &AppError{
		Code:       "PAYMENT_INTENT_INVALID",
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        ErrPaymentIntent,
	}
}

// PaymentProcessingError creates an error for a gateway-rejected operation.
func PaymentProcessingError(message string, err error) *AppError {
	return &AppError{
		Code:       "PAYMENT_PROCESSING_FAILED",
		Message:    message,
		StatusCode: http.StatusPaymentRequired,
		Err:        errors.Join(ErrPaymentProcessing, err),
	}
}

// RefundError creates a refund business-rule violation error.
func RefundError(message string) *AppError {
	return &AppError{
		Code:       "REFUND_INVALID",
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        ErrRefund,
	}
}

// WebhookError creates a webhook verification error.
func WebhookError(message string, err error) *AppError {
	return &AppError{
		Code:       "WEBHOOK_INVALID",
		Message:    message,
		StatusCode: http.StatusUnauthorized,
		Err:        errors.Join(ErrWebhook, err),
	}
}

// IdempotencyError creates a malformed idempotency key error.
func IdempotencyError(message string) *AppError {
	return &AppError{
		Code:       "IDEMPOTENCY_KEY_INVALID",
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        ErrIdempotency,
	}
}

// BadRequest creates a bad request error.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       "BAD_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        ErrBadRequest,
	}
}

// Conflict creates a conflict error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:       "CONFLICT",
		Message:    message,
		StatusCode: http.StatusConflict,
		Err:        ErrConflict,
	}
}

// Internal creates an internal error.
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToResponse converts an AppError to ErrorResponse.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{
			Code:    e.Code,
			Message: e.Message,
		},
	}
}

// GetStatusCode returns the appropriate HTTP status code for an error.
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPaymentIntent), errors.Is(err, ErrRefund),
		errors.Is(err, ErrIdempotency), errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrPaymentProcessing):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrWebhook):
		return http.StatusUnauthorized
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
