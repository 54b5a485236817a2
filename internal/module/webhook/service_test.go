package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chargehub/server/internal/module/payment"
	"github.com/chargehub/server/internal/module/payment/gateway"
	sherrors "github.com/chargehub/server/internal/shared/errors"
)

type memWebhookRepo struct {
	mu     sync.Mutex
	events map[uuid.UUID]*WebhookEvent
}

func newMemWebhookRepo() *memWebhookRepo {
	return &memWebhookRepo{events: make(map[uuid.UUID]*WebhookEvent)}
}

func (r *memWebhookRepo) Create(_ context.Context, event *WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Provider == event.Provider && e.EventID == event.EventID && e.TenantID == event.TenantID {
			return ErrDuplicateEvent
		}
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.CreatedAt = time.Now()
	cp := *event
	r.events[event.ID] = &cp
	return nil
}

func (r *memWebhookRepo) Get(_ context.Context, id uuid.UUID) (*WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	cp := *event
	return &cp, nil
}

func (r *memWebhookRepo) Update(_ context.Context, event *WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *event
	r.events[event.ID] = &cp
	return nil
}

func (r *memWebhookRepo) FindUnprocessed(_ context.Context, cutoff time.Time, limit int) ([]WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []WebhookEvent
	for _, event := range r.events {
		if !event.Processed && event.CreatedAt.Before(cutoff) {
			out = append(out, *event)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// verifyingProvider verifies any payload whose signature matches "valid".
type verifyingProvider struct{}

func (p *verifyingProvider) Name() string { return "stripe" }

func (p *verifyingProvider) CreateIntent(context.Context, gateway.CreateIntentParams) (*gateway.Intent, error) {
	return nil, nil
}
func (p *verifyingProvider) GetIntent(context.Context, string) (*gateway.Intent, error) {
	return nil, nil
}
func (p *verifyingProvider) ConfirmIntent(context.Context, string, gateway.ConfirmParams) (*gateway.Intent, error) {
	return nil, nil
}
func (p *verifyingProvider) CancelIntent(context.Context, string) (*gateway.Intent, error) {
	return nil, nil
}
func (p *verifyingProvider) CreateRefund(context.Context, gateway.RefundParams) (*gateway.Refund, error) {
	return nil, nil
}

func (p *verifyingProvider) VerifyWebhook(payload []byte, signature string) (*gateway.Event, error) {
	if signature != "valid" {
		return nil, errors.New("signature mismatch")
	}
	var envelope struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, err
	}
	return &gateway.Event{ID: envelope.ID, Type: envelope.Type, Payload: payload}, nil
}

type applierCall struct {
	op       string
	provider string
	tenantID uuid.UUID
	intentID string
	chargeID string
	refundID string
	status   string
}

type fakeAppliers struct {
	mu    sync.Mutex
	calls []applierCall
	err   error
}

func (a *fakeAppliers) ApplySucceededEvent(_ context.Context, providerName, providerIntentID, chargeID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, applierCall{op: "succeeded", provider: providerName, intentID: providerIntentID, chargeID: chargeID})
	return a.err
}

func (a *fakeAppliers) ApplyFailedEvent(_ context.Context, providerName, providerIntentID, code, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, applierCall{op: "failed", provider: providerName, intentID: providerIntentID, status: code})
	return a.err
}

func (a *fakeAppliers) ApplyCanceledEvent(_ context.Context, providerName, providerIntentID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, applierCall{op: "canceled", provider: providerName, intentID: providerIntentID})
	return a.err
}

func (a *fakeAppliers) UpdateRefundStatus(_ context.Context, providerName, providerRefundID, status string, tenantID uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, applierCall{op: "refund", provider: providerName, tenantID: tenantID, refundID: providerRefundID, status: status})
	return a.err
}

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []uuid.UUID
	err      error
}

func (q *fakeQueue) EnqueueWebhookEvent(_ context.Context, recordID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.enqueued = append(q.enqueued, recordID)
	return nil
}

type webhookEnv struct {
	svc      *Service
	repo     *memWebhookRepo
	appliers *fakeAppliers
	queue    *fakeQueue
}

func newWebhookEnv(t *testing.T) *webhookEnv {
	t.Helper()
	registry := gateway.NewRegistry()
	registry.Register(&verifyingProvider{})

	repo := newMemWebhookRepo()
	appliers := &fakeAppliers{}
	queue := &fakeQueue{}
	svc := NewService(repo, registry, appliers, appliers, queue, nil, zap.NewNop())
	return &webhookEnv{svc: svc, repo: repo, appliers: appliers, queue: queue}
}

func eventPayload(t *testing.T, id, eventType string, object map[string]any) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":   id,
		"type": eventType,
		"data": map[string]any{"object": object},
	})
	require.NoError(t, err)
	return payload
}

func TestService_Ingest(t *testing.T) {
	ctx := context.Background()

	t.Run("stores and enqueues a verified delivery", func(t *testing.T) {
		env := newWebhookEnv(t)
		tenantID := uuid.New()
		payload := eventPayload(t, "evt_1", EventPaymentSucceeded, map[string]any{
			"id":       "pi_1",
			"metadata": map[string]string{"tenant_id": tenantID.String()},
		})

		result, err := env.svc.Ingest(ctx, "stripe", payload, "valid")
		require.NoError(t, err)
		assert.False(t, result.Duplicate)
		assert.True(t, result.Queued)
		assert.Equal(t, "evt_1", result.EventID)

		require.Len(t, env.queue.enqueued, 1)
		record, err := env.repo.Get(ctx, env.queue.enqueued[0])
		require.NoError(t, err)
		assert.False(t, record.Processed)
		assert.Equal(t, tenantID, record.TenantID)
		assert.Equal(t, EventPaymentSucceeded, record.EventType)

		// No side effects until the queue replays the event.
		assert.Empty(t, env.appliers.calls)
	})

	t.Run("rejects a bad signature", func(t *testing.T) {
		env := newWebhookEnv(t)
		payload := eventPayload(t, "evt_1", EventPaymentSucceeded, map[string]any{"id": "pi_1"})

		_, err := env.svc.Ingest(ctx, "stripe", payload, "forged")
		assert.ErrorIs(t, err, sherrors.ErrWebhook)
		assert.Empty(t, env.repo.events)
		assert.Empty(t, env.queue.enqueued)
	})

	t.Run("rejects an unknown provider", func(t *testing.T) {
		env := newWebhookEnv(t)
		_, err := env.svc.Ingest(ctx, "papyrus", []byte("{}"), "valid")
		assert.ErrorIs(t, err, sherrors.ErrWebhook)
	})

	t.Run("duplicate delivery is acknowledged without a second record", func(t *testing.T) {
		env := newWebhookEnv(t)
		payload := eventPayload(t, "evt_1", EventPaymentSucceeded, map[string]any{"id": "pi_1"})

		first, err := env.svc.Ingest(ctx, "stripe", payload, "valid")
		require.NoError(t, err)
		assert.False(t, first.Duplicate)

		second, err := env.svc.Ingest(ctx, "stripe", payload, "valid")
		require.NoError(t, err)
		assert.True(t, second.Duplicate)

		assert.Len(t, env.repo.events, 1)
		assert.Len(t, env.queue.enqueued, 1)
	})

	t.Run("enqueue failure leaves the record for the requeue sweep", func(t *testing.T) {
		env := newWebhookEnv(t)
		env.queue.err = errors.New("queue down")
		payload := eventPayload(t, "evt_1", EventPaymentSucceeded, map[string]any{"id": "pi_1"})

		result, err := env.svc.Ingest(ctx, "stripe", payload, "valid")
		require.NoError(t, err)
		assert.False(t, result.Queued)
		assert.Len(t, env.repo.events, 1)

		env.queue.err = nil
		queued, err := env.svc.RequeueUnprocessed(ctx, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, queued)
	})
}

func ingest(t *testing.T, env *webhookEnv, payload []byte) uuid.UUID {
	t.Helper()
	result, err := env.svc.Ingest(context.Background(), "stripe", payload, "valid")
	require.NoError(t, err)
	require.True(t, result.Queued)
	return env.queue.enqueued[len(env.queue.enqueued)-1]
}

func TestService_ProcessStoredEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("payment succeeded applies once", func(t *testing.T) {
		env := newWebhookEnv(t)
		recordID := ingest(t, env, eventPayload(t, "evt_1", EventPaymentSucceeded, map[string]any{
			"id":            "pi_1",
			"latest_charge": "ch_1",
		}))

		require.NoError(t, env.svc.ProcessStoredEvent(ctx, recordID))
		require.Len(t, env.appliers.calls, 1)
		assert.Equal(t, applierCall{op: "succeeded", provider: "stripe", intentID: "pi_1", chargeID: "ch_1"}, env.appliers.calls[0])

		record, err := env.repo.Get(ctx, recordID)
		require.NoError(t, err)
		assert.True(t, record.Processed)
		require.NotNil(t, record.ProcessedAt)

		// Replaying the processed record is a no-op.
		require.NoError(t, env.svc.ProcessStoredEvent(ctx, recordID))
		assert.Len(t, env.appliers.calls, 1)
	})

	t.Run("payment failed carries the failure code", func(t *testing.T) {
		env := newWebhookEnv(t)
		recordID := ingest(t, env, eventPayload(t, "evt_2", EventPaymentFailed, map[string]any{
			"id": "pi_2",
			"last_payment_error": map[string]any{
				"code":    "card_declined",
				"message": "insufficient funds",
			},
		}))

		require.NoError(t, env.svc.ProcessStoredEvent(ctx, recordID))
		require.Len(t, env.appliers.calls, 1)
		assert.Equal(t, "failed", env.appliers.calls[0].op)
		assert.Equal(t, "pi_2", env.appliers.calls[0].intentID)
		assert.Equal(t, "card_declined", env.appliers.calls[0].status)
	})

	t.Run("canceled event", func(t *testing.T) {
		env := newWebhookEnv(t)
		recordID := ingest(t, env, eventPayload(t, "evt_3", EventPaymentCanceled, map[string]any{
			"id": "pi_3",
		}))

		require.NoError(t, env.svc.ProcessStoredEvent(ctx, recordID))
		require.Len(t, env.appliers.calls, 1)
		assert.Equal(t, applierCall{op: "canceled", provider: "stripe", intentID: "pi_3"}, env.appliers.calls[0])
	})

	t.Run("refund updated event carries provider and tenant", func(t *testing.T) {
		env := newWebhookEnv(t)
		tenantID := uuid.New()
		recordID := ingest(t, env, eventPayload(t, "evt_4", EventRefundUpdated, map[string]any{
			"id":       "re_1",
			"status":   "failed",
			"metadata": map[string]string{"tenant_id": tenantID.String()},
		}))

		require.NoError(t, env.svc.ProcessStoredEvent(ctx, recordID))
		require.Len(t, env.appliers.calls, 1)
		assert.Equal(t, applierCall{op: "refund", provider: "stripe", tenantID: tenantID, refundID: "re_1", status: "failed"}, env.appliers.calls[0])
	})

	t.Run("refund event without tenant metadata passes the nil tenant", func(t *testing.T) {
		env := newWebhookEnv(t)
		recordID := ingest(t, env, eventPayload(t, "evt_4b", EventRefundUpdated, map[string]any{
			"id":     "re_9",
			"status": "succeeded",
		}))

		require.NoError(t, env.svc.ProcessStoredEvent(ctx, recordID))
		require.Len(t, env.appliers.calls, 1)
		assert.Equal(t, uuid.Nil, env.appliers.calls[0].tenantID)
	})

	t.Run("charge refunded walks the refund list", func(t *testing.T) {
		env := newWebhookEnv(t)
		recordID := ingest(t, env, eventPayload(t, "evt_5", EventChargeRefunded, map[string]any{
			"id": "ch_1",
			"refunds": map[string]any{
				"data": []map[string]any{
					{"id": "re_1", "status": "succeeded"},
					{"id": "re_2", "status": "pending"},
				},
			},
		}))

		require.NoError(t, env.svc.ProcessStoredEvent(ctx, recordID))
		require.Len(t, env.appliers.calls, 2)
		assert.Equal(t, "re_1", env.appliers.calls[0].refundID)
		assert.Equal(t, "re_2", env.appliers.calls[1].refundID)
	})

	t.Run("unknown event type is acknowledged without side effects", func(t *testing.T) {
		env := newWebhookEnv(t)
		recordID := ingest(t, env, eventPayload(t, "evt_6", "customer.created", map[string]any{
			"id": "cus_1",
		}))

		require.NoError(t, env.svc.ProcessStoredEvent(ctx, recordID))
		assert.Empty(t, env.appliers.calls)

		record, err := env.repo.Get(ctx, recordID)
		require.NoError(t, err)
		assert.True(t, record.Processed)
	})

	t.Run("handler failure keeps the record unprocessed", func(t *testing.T) {
		env := newWebhookEnv(t)
		env.appliers.err = errors.New("database down")
		recordID := ingest(t, env, eventPayload(t, "evt_7", EventPaymentSucceeded, map[string]any{
			"id": "pi_7",
		}))

		err := env.svc.ProcessStoredEvent(ctx, recordID)
		require.Error(t, err)

		record, getErr := env.repo.Get(ctx, recordID)
		require.NoError(t, getErr)
		assert.False(t, record.Processed)
		assert.Equal(t, 1, record.Attempts)
		assert.Contains(t, record.ProcessingError, "database down")

		// A later retry succeeds and clears the error.
		env.appliers.err = nil
		require.NoError(t, env.svc.ProcessStoredEvent(ctx, recordID))
		record, getErr = env.repo.Get(ctx, recordID)
		require.NoError(t, getErr)
		assert.True(t, record.Processed)
		assert.Empty(t, record.ProcessingError)
	})

	t.Run("event for a foreign intent is acknowledged", func(t *testing.T) {
		env := newWebhookEnv(t)
		env.appliers.err = payment.ErrIntentNotFound
		recordID := ingest(t, env, eventPayload(t, "evt_8", EventPaymentSucceeded, map[string]any{
			"id": "pi_foreign",
		}))

		require.NoError(t, env.svc.ProcessStoredEvent(ctx, recordID))
		record, err := env.repo.Get(ctx, recordID)
		require.NoError(t, err)
		assert.True(t, record.Processed)
	})
}
