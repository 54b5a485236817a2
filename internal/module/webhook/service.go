package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"

	"github.com/chargehub/server/internal/module/payment"
	"github.com/chargehub/server/internal/module/payment/gateway"
	sherrors "github.com/chargehub/server/internal/shared/errors"
	"github.com/chargehub/server/internal/utils/metrics"
)

// Handled event types.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
	EventPaymentCanceled  = "payment_intent.canceled"
	EventChargeRefunded   = "charge.refunded"
	EventRefundUpdated    = "charge.refund.updated"
)

// PaymentApplier applies gateway-reported intent state changes. Lookups are
// scoped by provider since gateway references are only unique per gateway.
type PaymentApplier interface {
	ApplySucceededEvent(ctx context.Context, providerName, providerIntentID, chargeID string) error
	ApplyFailedEvent(ctx context.Context, providerName, providerIntentID, failureCode, failureMessage string) error
	ApplyCanceledEvent(ctx context.Context, providerName, providerIntentID string) error
}

// RefundApplier applies gateway-reported refund state changes.
type RefundApplier interface {
	UpdateRefundStatus(ctx context.Context, providerName, providerRefundID, status string, tenantID uuid.UUID) error
}

// Enqueuer hands stored events to the background processing queue.
type Enqueuer interface {
	EnqueueWebhookEvent(ctx context.Context, recordID uuid.UUID) error
}

// IngestResult reports what happened to a delivery.
type IngestResult struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Duplicate bool   `json:"duplicate"`
	Queued    bool   `json:"queued"`
}

type eventHandler func(ctx context.Context, record *WebhookEvent, event *stripe.Event) error

// Service verifies, records and processes gateway webhook deliveries.
// Ingestion only persists and enqueues; the state changes happen when the
// queue replays the stored event.
type Service struct {
	repo     Repository
	registry *gateway.Registry
	payments PaymentApplier
	refunds  RefundApplier
	queue    Enqueuer
	handlers map[string]eventHandler
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewService creates a webhook service.
func NewService(repo Repository, registry *gateway.Registry, payments PaymentApplier, refunds RefundApplier, queue Enqueuer, m *metrics.Metrics, logger *zap.Logger) *Service {
	s := &Service{
		repo:     repo,
		registry: registry,
		payments: payments,
		refunds:  refunds,
		queue:    queue,
		metrics:  m,
		logger:   logger,
	}
	s.handlers = map[string]eventHandler{
		EventPaymentSucceeded: s.handlePaymentSucceeded,
		EventPaymentFailed:    s.handlePaymentFailed,
		EventPaymentCanceled:  s.handlePaymentCanceled,
		EventChargeRefunded:   s.handleChargeRefunded,
		EventRefundUpdated:    s.handleRefundUpdated,
	}
	return s
}

// Ingest verifies a delivery, records it exactly once and enqueues it for
// processing. A replayed delivery is acknowledged without side effects.
func (s *Service) Ingest(ctx context.Context, providerName string, payload []byte, signature string) (*IngestResult, error) {
	provider, err := s.registry.Get(providerName)
	if err != nil {
		return nil, sherrors.WebhookError(fmt.Sprintf("unknown provider %q", providerName), err)
	}

	event, err := provider.VerifyWebhook(payload, signature)
	if err != nil {
		s.countEvent(providerName, "rejected")
		return nil, sherrors.WebhookError("webhook signature verification failed", err)
	}

	record := &WebhookEvent{
		Provider:  providerName,
		EventID:   event.ID,
		TenantID:  extractTenantID(event.Payload),
		EventType: event.Type,
		Payload:   event.Payload,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			s.countEvent(providerName, "duplicate")
			s.logger.Info("duplicate webhook delivery dropped",
				zap.String("provider", providerName),
				zap.String("event_id", event.ID))
			return &IngestResult{EventID: event.ID, EventType: event.Type, Duplicate: true}, nil
		}
		return nil, fmt.Errorf("persist webhook event: %w", err)
	}
	s.countEvent(providerName, "accepted")

	queued := true
	if err := s.queue.EnqueueWebhookEvent(ctx, record.ID); err != nil {
		// The stored row stays unprocessed and the requeue sweep picks it up.
		queued = false
		s.logger.Error("enqueue webhook event",
			zap.String("event_id", event.ID), zap.Error(err))
	}

	return &IngestResult{EventID: event.ID, EventType: event.Type, Queued: queued}, nil
}

// ProcessStoredEvent replays a stored event's side effects. Processing is
// idempotent per event: an already processed record is a no-op, and a failed
// attempt leaves the record unprocessed with the error recorded so the queue
// can retry it.
func (s *Service) ProcessStoredEvent(ctx context.Context, recordID uuid.UUID) error {
	record, err := s.repo.Get(ctx, recordID)
	if err != nil {
		return err
	}
	if record.Processed {
		return nil
	}

	err = s.dispatch(ctx, record)
	if err != nil {
		record.Attempts++
		record.ProcessingError = err.Error()
		if uerr := s.repo.Update(ctx, record); uerr != nil {
			s.logger.Error("record webhook processing failure",
				zap.String("event_id", record.EventID), zap.Error(uerr))
		}
		if s.metrics != nil {
			s.metrics.WebhookReplayErrors.WithLabelValues(record.EventType).Inc()
		}
		return err
	}

	now := time.Now()
	record.Processed = true
	record.ProcessedAt = &now
	record.ProcessingError = ""
	record.Attempts++
	if err := s.repo.Update(ctx, record); err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}
	s.countEvent(record.Provider, "processed")
	return nil
}

// RequeueUnprocessed re-enqueues events that were stored but never made it
// into the queue, typically after an enqueue failure or a crash.
func (s *Service) RequeueUnprocessed(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	events, err := s.repo.FindUnprocessed(ctx, time.Now().Add(-olderThan), limit)
	if err != nil {
		return 0, fmt.Errorf("find unprocessed webhook events: %w", err)
	}

	queued := 0
	for i := range events {
		if err := s.queue.EnqueueWebhookEvent(ctx, events[i].ID); err != nil {
			s.logger.Warn("requeue webhook event",
				zap.String("event_id", events[i].EventID), zap.Error(err))
			continue
		}
		queued++
	}
	return queued, nil
}

func (s *Service) dispatch(ctx context.Context, record *WebhookEvent) error {
	handler, ok := s.handlers[record.EventType]
	if !ok {
		s.logger.Info("ignoring unhandled webhook event type",
			zap.String("event_type", record.EventType),
			zap.String("event_id", record.EventID))
		return nil
	}

	var event stripe.Event
	if err := json.Unmarshal(record.Payload, &event); err != nil {
		return fmt.Errorf("decode webhook payload: %w", err)
	}

	err := handler(ctx, record, &event)
	// An event referencing an intent this system never created is logged
	// and acknowledged, not retried.
	if errors.Is(err, payment.ErrIntentNotFound) {
		s.logger.Warn("webhook event references unknown payment intent",
			zap.String("event_id", record.EventID),
			zap.String("event_type", record.EventType))
		return nil
	}
	return err
}

func (s *Service) handlePaymentSucceeded(ctx context.Context, record *WebhookEvent, event *stripe.Event) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return fmt.Errorf("decode payment intent: %w", err)
	}
	chargeID := ""
	if pi.LatestCharge != nil {
		chargeID = pi.LatestCharge.ID
	}
	return s.payments.ApplySucceededEvent(ctx, record.Provider, pi.ID, chargeID)
}

func (s *Service) handlePaymentFailed(ctx context.Context, record *WebhookEvent, event *stripe.Event) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return fmt.Errorf("decode payment intent: %w", err)
	}
	code, msg := "", ""
	if pi.LastPaymentError != nil {
		code = string(pi.LastPaymentError.Code)
		msg = pi.LastPaymentError.Msg
	}
	return s.payments.ApplyFailedEvent(ctx, record.Provider, pi.ID, code, msg)
}

func (s *Service) handlePaymentCanceled(ctx context.Context, record *WebhookEvent, event *stripe.Event) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return fmt.Errorf("decode payment intent: %w", err)
	}
	return s.payments.ApplyCanceledEvent(ctx, record.Provider, pi.ID)
}

func (s *Service) handleChargeRefunded(ctx context.Context, record *WebhookEvent, event *stripe.Event) error {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		return fmt.Errorf("decode charge: %w", err)
	}
	if charge.Refunds == nil {
		return nil
	}
	for _, r := range charge.Refunds.Data {
		if err := s.refunds.UpdateRefundStatus(ctx, record.Provider, r.ID, string(r.Status), record.TenantID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) handleRefundUpdated(ctx context.Context, record *WebhookEvent, event *stripe.Event) error {
	var r stripe.Refund
	if err := json.Unmarshal(event.Data.Raw, &r); err != nil {
		return fmt.Errorf("decode refund: %w", err)
	}
	return s.refunds.UpdateRefundStatus(ctx, record.Provider, r.ID, string(r.Status), record.TenantID)
}

func (s *Service) countEvent(provider, outcome string) {
	if s.metrics != nil {
		s.metrics.WebhookEventsTotal.WithLabelValues(provider, outcome).Inc()
	}
}

// extractTenantID pulls the tenant from the event object's metadata, set when
// the intent was created. Events for objects without it record the nil tenant.
func extractTenantID(payload []byte) uuid.UUID {
	var envelope struct {
		Data struct {
			Object struct {
				Metadata map[string]string `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return uuid.Nil
	}
	tenantID, err := uuid.Parse(envelope.Data.Object.Metadata["tenant_id"])
	if err != nil {
		return uuid.Nil
	}
	return tenantID
}
