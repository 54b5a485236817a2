package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

// Intent statuses use the gateway's vocabulary, normalized by each provider.
const (
	IntentStatusRequiresPaymentMethod = "requires_payment_method"
	IntentStatusRequiresConfirmation  = "requires_confirmation"
	IntentStatusRequiresAction        = "requires_action"
	IntentStatusProcessing            = "processing"
	IntentStatusRequiresCapture       = "requires_capture"
	IntentStatusSucceeded             = "succeeded"
	IntentStatusCanceled              = "canceled"
)

// Intent represents a payment intent at the gateway, amounts in major units.
type Intent struct {
	ID                 string
	ClientSecret       string
	Amount             decimal.Decimal
	Currency           string
	Status             string
	LatestChargeID     string
	PaymentMethodTypes []string
	FailureCode        string
	FailureMessage     string
	Metadata           map[string]string
}

// Refund represents a refund at the gateway, amount in major units.
type Refund struct {
	ID       string
	ChargeID string
	Amount   decimal.Decimal
	Currency string
	Status   string
	Reason   string
}

// Event is a verified webhook notification from the gateway.
type Event struct {
	ID      string
	Type    string
	Payload []byte
}

// CreateIntentParams carries the parameters for creating a gateway intent.
type CreateIntentParams struct {
	Amount   decimal.Decimal
	Currency string
	Metadata map[string]string
}

// ConfirmParams carries optional confirmation parameters.
type ConfirmParams struct {
	PaymentMethod string
	ReturnURL     string
}

// RefundParams carries the parameters for issuing a gateway refund.
type RefundParams struct {
	ChargeID string
	Amount   decimal.Decimal
	Currency string
	Reason   string
	Metadata map[string]string
}

// Provider translates domain operations into gateway calls and normalizes
// amounts and status vocabulary. Implementations hold no mutable state.
type Provider interface {
	// Name returns the provider name.
	Name() string

	CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error)
	GetIntent(ctx context.Context, intentID string) (*Intent, error)
	ConfirmIntent(ctx context.Context, intentID string, params ConfirmParams) (*Intent, error)
	CancelIntent(ctx context.Context, intentID string) (*Intent, error)

	CreateRefund(ctx context.Context, params RefundParams) (*Refund, error)

	// VerifyWebhook verifies a raw webhook payload against its signature
	// header and returns the decoded event.
	VerifyWebhook(payload []byte, signature string) (*Event, error)
}
