package gateway

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"
	"github.com/stripe/stripe-go/v76/webhook"
)

// ProviderStripe is the provider name for Stripe.
const ProviderStripe = "stripe"

// StripeConfig holds Stripe configuration.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
}

// StripeProvider implements the Provider interface for Stripe.
type StripeProvider struct {
	webhookSecret string
	client        *Client
}

// NewStripeProvider creates a new Stripe provider.
func NewStripeProvider(cfg *StripeConfig, client *Client) *StripeProvider {
	stripe.Key = cfg.APIKey
	return &StripeProvider{
		webhookSecret: cfg.WebhookSecret,
		client:        client,
	}
}

// Name returns the provider name.
func (p *StripeProvider) Name() string {
	return ProviderStripe
}

// CreateIntent creates a Stripe PaymentIntent.
func (p *StripeProvider) CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error) {
	piParams := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(MinorUnits(params.Amount, params.Currency)),
		Currency: stripe.String(params.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if len(params.Metadata) > 0 {
		piParams.Metadata = make(map[string]string, len(params.Metadata))
		for k, v := range params.Metadata {
			piParams.Metadata[k] = v
		}
	}

	var pi *stripe.PaymentIntent
	err := p.client.Do(ctx, "create_intent", func(ctx context.Context) error {
		piParams.Params.Context = ctx
		var err error
		pi, err = paymentintent.New(piParams)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return mapStripeIntent(pi), nil
}

// GetIntent retrieves a Stripe PaymentIntent.
func (p *StripeProvider) GetIntent(ctx context.Context, intentID string) (*Intent, error) {
	var pi *stripe.PaymentIntent
	err := p.client.Do(ctx, "get_intent", func(ctx context.Context) error {
		params := &stripe.PaymentIntentParams{}
		params.Params.Context = ctx
		var err error
		pi, err = paymentintent.Get(intentID, params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get payment intent: %w", err)
	}
	return mapStripeIntent(pi), nil
}

// ConfirmIntent confirms a Stripe PaymentIntent.
func (p *StripeProvider) ConfirmIntent(ctx context.Context, intentID string, params ConfirmParams) (*Intent, error) {
	confirmParams := &stripe.PaymentIntentConfirmParams{}
	if params.PaymentMethod != "" {
		confirmParams.PaymentMethod = stripe.String(params.PaymentMethod)
	}
	if params.ReturnURL != "" {
		confirmParams.ReturnURL = stripe.String(params.ReturnURL)
	}

	var pi *stripe.PaymentIntent
	err := p.client.Do(ctx, "confirm_intent", func(ctx context.Context) error {
		confirmParams.Params.Context = ctx
		var err error
		pi, err = paymentintent.Confirm(intentID, confirmParams)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("confirm payment intent: %w", err)
	}
	return mapStripeIntent(pi), nil
}

// CancelIntent cancels a Stripe PaymentIntent.
func (p *StripeProvider) CancelIntent(ctx context.Context, intentID string) (*Intent, error) {
	var pi *stripe.PaymentIntent
	err := p.client.Do(ctx, "cancel_intent", func(ctx context.Context) error {
		params := &stripe.PaymentIntentCancelParams{}
		params.Params.Context = ctx
		var err error
		pi, err = paymentintent.Cancel(intentID, params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("cancel payment intent: %w", err)
	}
	return mapStripeIntent(pi), nil
}

// CreateRefund issues a Stripe refund against a charge.
func (p *StripeProvider) CreateRefund(ctx context.Context, params RefundParams) (*Refund, error) {
	refundParams := &stripe.RefundParams{
		Charge: stripe.String(params.ChargeID),
	}
	if params.Amount.IsPositive() {
		refundParams.Amount = stripe.Int64(MinorUnits(params.Amount, params.Currency))
	}
	if params.Reason != "" {
		refundParams.Reason = stripe.String(params.Reason)
	}
	if len(params.Metadata) > 0 {
		refundParams.Metadata = params.Metadata
	}

	var r *stripe.Refund
	err := p.client.Do(ctx, "create_refund", func(ctx context.Context) error {
		refundParams.Params.Context = ctx
		var err error
		r, err = refund.New(refundParams)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create refund: %w", err)
	}

	result := &Refund{
		ID:       r.ID,
		Amount:   MajorUnits(r.Amount, string(r.Currency)),
		Currency: string(r.Currency),
		Status:   string(r.Status),
		Reason:   string(r.Reason),
	}
	if r.Charge != nil {
		result.ChargeID = r.Charge.ID
	}
	return result, nil
}

// VerifyWebhook verifies a Stripe webhook signature against the raw payload.
func (p *StripeProvider) VerifyWebhook(payload []byte, signature string) (*Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, p.webhookSecret)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:      event.ID,
		Type:    string(event.Type),
		Payload: payload,
	}, nil
}

// mapStripeIntent normalizes a Stripe PaymentIntent.
func mapStripeIntent(pi *stripe.PaymentIntent) *Intent {
	intent := &Intent{
		ID:                 pi.ID,
		ClientSecret:       pi.ClientSecret,
		Amount:             MajorUnits(pi.Amount, string(pi.Currency)),
		Currency:           string(pi.Currency),
		Status:             string(pi.Status),
		PaymentMethodTypes: pi.PaymentMethodTypes,
		Metadata:           pi.Metadata,
	}
	if pi.LatestCharge != nil {
		intent.LatestChargeID = pi.LatestCharge.ID
	}
	if pi.LastPaymentError != nil {
		intent.FailureCode = string(pi.LastPaymentError.Code)
		intent.FailureMessage = pi.LastPaymentError.Msg
	}
	return intent
}
