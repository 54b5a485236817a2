package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/chargehub/server/internal/module/idempotency"
	"github.com/chargehub/server/internal/module/order"
	"github.com/chargehub/server/internal/module/payment/gateway"
	sherrors "github.com/chargehub/server/internal/shared/errors"
	"github.com/chargehub/server/internal/utils/pagination"
)

const createIntentScope = "create_payment_intent"

// Config controls payment intent behavior.
type Config struct {
	// IntentTTL is how long an unsettled intent lives before the expiry
	// sweep cancels it.
	IntentTTL time.Duration
}

// CreatePaymentInput carries the parameters for starting a payment.
type CreatePaymentInput struct {
	UserID         uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	Provider       string
	PaymentType    order.PaymentType
	IdempotencyKey string
	Metadata       map[string]string
}

// ConfirmPaymentInput carries optional confirmation parameters.
type ConfirmPaymentInput struct {
	PaymentMethod string
	ReturnURL     string
}

// Service implements payment intent operations.
type Service struct {
	repo           Repository
	orders         *order.Service
	registry       *gateway.Registry
	idem           *idempotency.Service
	cfg            Config
	logger         *zap.Logger
	completedHooks []func(ctx context.Context, orderID, tenantID uuid.UUID)
}

// NewService creates a payment service.
func NewService(repo Repository, orders *order.Service, registry *gateway.Registry, idem *idempotency.Service, cfg Config, logger *zap.Logger) *Service {
	if cfg.IntentTTL <= 0 {
		cfg.IntentTTL = 24 * time.Hour
	}
	return &Service{
		repo:     repo,
		orders:   orders,
		registry: registry,
		idem:     idem,
		cfg:      cfg,
		logger:   logger,
	}
}

// OnOrderCompleted registers a hook fired after an order settles, used to
// trigger follow-up work such as invoice generation.
func (s *Service) OnOrderCompleted(hook func(ctx context.Context, orderID, tenantID uuid.UUID)) {
	s.completedHooks = append(s.completedHooks, hook)
}

// CreatePaymentIntent creates an order and a gateway payment intent for it.
// The whole operation is idempotent: replays with the same key return the
// originally created intent without touching the gateway again.
func (s *Service) CreatePaymentIntent(ctx context.Context, tenantID uuid.UUID, in CreatePaymentInput) (*PaymentIntent, error) {
	if in.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, sherrors.PaymentIntentError("amount must be positive")
	}
	if len(in.Currency) != 3 {
		return nil, sherrors.PaymentIntentError("currency must be a 3-letter ISO code")
	}

	provider, err := s.registry.Get(in.Provider)
	if err != nil {
		return nil, sherrors.PaymentIntentError(fmt.Sprintf("unknown payment provider %q", in.Provider))
	}

	key := in.IdempotencyKey
	if key == "" {
		key = deriveKey(tenantID, in.UserID, createIntentScope, in.Amount, in.Currency)
	}

	return idempotency.Process(ctx, s.idem, tenantID, createIntentScope, key,
		func(ctx context.Context) (*PaymentIntent, error) {
			return s.createIntent(ctx, tenantID, provider, key, in)
		})
}

func (s *Service) createIntent(ctx context.Context, tenantID uuid.UUID, provider gateway.Provider, key string, in CreatePaymentInput) (*PaymentIntent, error) {
	o, err := s.orders.CreateOrder(ctx, order.CreateOrderInput{
		TenantID:       tenantID,
		UserID:         in.UserID,
		Amount:         in.Amount,
		Currency:       in.Currency,
		PaymentType:    in.PaymentType,
		IdempotencyKey: key,
		Metadata:       in.Metadata,
	})
	if err != nil {
		return nil, err
	}

	// A replayed order may already carry an intent from a previous attempt.
	if existing, err := s.repo.GetIntentByOrderID(ctx, o.ID, tenantID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrIntentNotFound) {
		return nil, err
	}

	gi, err := provider.CreateIntent(ctx, gateway.CreateIntentParams{
		Amount:   in.Amount,
		Currency: in.Currency,
		Metadata: map[string]string{
			"order_id":  o.ID.String(),
			"tenant_id": tenantID.String(),
		},
	})
	if err != nil {
		if ferr := s.orders.MarkFailed(ctx, o.ID, tenantID); ferr != nil {
			s.logger.Error("mark order failed after gateway rejection",
				zap.String("order_id", o.ID.String()), zap.Error(ferr))
		}
		return nil, sherrors.PaymentProcessingError("payment gateway rejected the intent", err)
	}

	intent := &PaymentIntent{
		TenantID:           tenantID,
		OrderID:            o.ID,
		UserID:             in.UserID,
		Provider:           provider.Name(),
		ProviderIntentID:   gi.ID,
		ClientSecret:       gi.ClientSecret,
		Amount:             in.Amount,
		Currency:           in.Currency,
		Status:             gi.Status,
		PaymentMethodTypes: gi.PaymentMethodTypes,
		Metadata:           in.Metadata,
		ExpiresAt:          time.Now().Add(s.cfg.IntentTTL),
	}
	if err := s.repo.CreateIntent(ctx, intent); err != nil {
		return nil, fmt.Errorf("persist payment intent: %w", err)
	}

	if err := s.orders.MarkProcessing(ctx, o.ID, tenantID); err != nil {
		s.logger.Error("mark order processing",
			zap.String("order_id", o.ID.String()), zap.Error(err))
	}

	s.logger.Info("payment intent created",
		zap.String("intent_id", intent.ID.String()),
		zap.String("provider_intent_id", intent.ProviderIntentID),
		zap.String("order_id", o.ID.String()),
		zap.String("tenant_id", tenantID.String()),
	)
	return intent, nil
}

// GetPaymentIntent returns an intent, refreshing non-terminal intents from
// the gateway on a best-effort basis. Gateway failures degrade to the
// locally stored state.
func (s *Service) GetPaymentIntent(ctx context.Context, id, tenantID uuid.UUID) (*PaymentIntent, error) {
	intent, err := s.repo.GetIntent(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	if intent.IsTerminal() {
		return intent, nil
	}

	refreshed, err := s.SyncPaymentIntent(ctx, id, tenantID)
	if err != nil {
		s.logger.Warn("payment intent sync failed, serving local state",
			zap.String("intent_id", intent.ID.String()), zap.Error(err))
		return intent, nil
	}
	return refreshed, nil
}

// SyncPaymentIntent pulls the intent's current gateway state and reconciles
// the local record against it.
func (s *Service) SyncPaymentIntent(ctx context.Context, id, tenantID uuid.UUID) (*PaymentIntent, error) {
	intent, err := s.repo.GetIntent(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}

	provider, err := s.registry.Get(intent.Provider)
	if err != nil {
		return nil, err
	}
	gi, err := provider.GetIntent(ctx, intent.ProviderIntentID)
	if err != nil {
		return nil, sherrors.PaymentProcessingError("payment gateway lookup failed", err)
	}

	if err := s.applyGatewayState(ctx, intent, gi); err != nil {
		return nil, err
	}
	return intent, nil
}

// ConfirmPaymentIntent confirms an intent at the gateway. Confirming an
// already succeeded intent returns it unchanged.
func (s *Service) ConfirmPaymentIntent(ctx context.Context, id, tenantID uuid.UUID, in ConfirmPaymentInput) (*PaymentIntent, error) {
	intent, err := s.repo.GetIntent(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	if intent.Status == IntentStatusSucceeded {
		return intent, nil
	}
	if intent.Status == IntentStatusCanceled {
		return nil, ErrIntentTerminal
	}

	provider, err := s.registry.Get(intent.Provider)
	if err != nil {
		return nil, err
	}
	gi, err := provider.ConfirmIntent(ctx, intent.ProviderIntentID, gateway.ConfirmParams{
		PaymentMethod: in.PaymentMethod,
		ReturnURL:     in.ReturnURL,
	})
	if err != nil {
		return nil, sherrors.PaymentProcessingError("payment confirmation failed", err)
	}

	if err := s.applyGatewayState(ctx, intent, gi); err != nil {
		return nil, err
	}
	return intent, nil
}

// CancelPaymentIntent cancels a non-terminal intent at the gateway and
// cancels its order. Cancelling an already canceled intent is a no-op.
func (s *Service) CancelPaymentIntent(ctx context.Context, id, tenantID uuid.UUID) (*PaymentIntent, error) {
	intent, err := s.repo.GetIntent(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	if intent.Status == IntentStatusCanceled {
		return intent, nil
	}
	if intent.Status == IntentStatusSucceeded {
		return nil, ErrIntentTerminal
	}

	provider, err := s.registry.Get(intent.Provider)
	if err != nil {
		return nil, err
	}
	gi, err := provider.CancelIntent(ctx, intent.ProviderIntentID)
	if err != nil {
		return nil, sherrors.PaymentProcessingError("payment cancellation failed", err)
	}

	if err := s.applyGatewayState(ctx, intent, gi); err != nil {
		return nil, err
	}
	return intent, nil
}

// ListPayments returns a tenant's payment intents.
func (s *Service) ListPayments(ctx context.Context, tenantID uuid.UUID, filter ListFilter, p *pagination.Pagination) ([]PaymentIntent, int64, error) {
	return s.repo.ListIntents(ctx, tenantID, filter, p)
}

// GetTransactionByIntent returns the settled transaction for an intent.
func (s *Service) GetTransactionByIntent(ctx context.Context, intentID uuid.UUID) (*Transaction, error) {
	return s.repo.GetTransactionByIntent(ctx, intentID)
}

// ApplySucceededEvent records a gateway-side success reported by webhook.
// Replays are harmless: the transaction insert is conflict-tolerant and a
// locally succeeded intent is left alone.
func (s *Service) ApplySucceededEvent(ctx context.Context, providerName, providerIntentID, chargeID string) error {
	intent, err := s.repo.GetIntentByProviderID(ctx, providerName, providerIntentID)
	if err != nil {
		return err
	}

	gi := &gateway.Intent{
		ID:             providerIntentID,
		Status:         gateway.IntentStatusSucceeded,
		LatestChargeID: chargeID,
	}
	return s.applyGatewayState(ctx, intent, gi)
}

// ApplyFailedEvent records a failed payment attempt reported by webhook.
// The intent is closed as canceled with the failure attached and the order
// fails; retrying a failed payment means creating a new order. An intent
// that already succeeded locally is not regressed.
func (s *Service) ApplyFailedEvent(ctx context.Context, providerName, providerIntentID, failureCode, failureMessage string) error {
	intent, err := s.repo.GetIntentByProviderID(ctx, providerName, providerIntentID)
	if err != nil {
		return err
	}
	if intent.IsTerminal() {
		s.logger.Info("ignoring failure event for terminal intent",
			zap.String("provider_intent_id", providerIntentID),
			zap.String("status", intent.Status))
		return nil
	}

	intent.Status = IntentStatusCanceled
	intent.FailureCode = failureCode
	intent.FailureMessage = failureMessage
	if err := s.repo.UpdateIntent(ctx, intent); err != nil {
		return fmt.Errorf("update payment intent: %w", err)
	}

	if err := s.orders.MarkFailed(ctx, intent.OrderID, intent.TenantID); err != nil {
		return fmt.Errorf("mark order failed: %w", err)
	}
	return nil
}

// ApplyCanceledEvent records a gateway-side cancellation reported by webhook.
// An intent that already succeeded locally is not regressed.
func (s *Service) ApplyCanceledEvent(ctx context.Context, providerName, providerIntentID string) error {
	intent, err := s.repo.GetIntentByProviderID(ctx, providerName, providerIntentID)
	if err != nil {
		return err
	}
	if intent.Status == IntentStatusSucceeded {
		s.logger.Warn("ignoring cancellation event for succeeded intent",
			zap.String("provider_intent_id", providerIntentID))
		return nil
	}
	if intent.Status == IntentStatusCanceled {
		return nil
	}

	gi := &gateway.Intent{ID: providerIntentID, Status: gateway.IntentStatusCanceled}
	return s.applyGatewayState(ctx, intent, gi)
}

// applyGatewayState reconciles a local intent with the gateway's view,
// materializing the transaction and settling the order on success.
func (s *Service) applyGatewayState(ctx context.Context, intent *PaymentIntent, gi *gateway.Intent) error {
	prevStatus := intent.Status
	intent.Status = gi.Status
	if len(gi.PaymentMethodTypes) > 0 {
		intent.PaymentMethodTypes = gi.PaymentMethodTypes
	}
	if gi.FailureCode != "" {
		intent.FailureCode = gi.FailureCode
		intent.FailureMessage = gi.FailureMessage
	}
	if err := s.repo.UpdateIntent(ctx, intent); err != nil {
		return fmt.Errorf("update payment intent: %w", err)
	}

	switch gi.Status {
	case IntentStatusSucceeded:
		if err := s.ensureTransaction(ctx, intent, gi.LatestChargeID); err != nil {
			return err
		}
		if err := s.orders.MarkCompleted(ctx, intent.OrderID, intent.TenantID); err != nil {
			return fmt.Errorf("mark order completed: %w", err)
		}
		if prevStatus != IntentStatusSucceeded {
			for _, hook := range s.completedHooks {
				hook(ctx, intent.OrderID, intent.TenantID)
			}
		}
	case IntentStatusCanceled:
		if _, err := s.orders.CancelOrder(ctx, intent.OrderID, intent.TenantID); err != nil {
			s.logger.Warn("cancel order for canceled intent",
				zap.String("order_id", intent.OrderID.String()), zap.Error(err))
		}
	}
	return nil
}

// ensureTransaction creates the intent's transaction exactly once. The
// unique index on provider_txn_id absorbs concurrent replays.
func (s *Service) ensureTransaction(ctx context.Context, intent *PaymentIntent, chargeID string) error {
	if chargeID == "" {
		s.logger.Warn("succeeded intent carried no charge reference",
			zap.String("intent_id", intent.ID.String()))
		return nil
	}

	if _, err := s.repo.GetTransactionByIntent(ctx, intent.ID); err == nil {
		return nil
	} else if !errors.Is(err, ErrTransactionNotFound) {
		return err
	}

	now := time.Now()
	txn := &Transaction{
		TenantID:        intent.TenantID,
		PaymentIntentID: intent.ID,
		OrderID:         intent.OrderID,
		UserID:          intent.UserID,
		Provider:        intent.Provider,
		ProviderTxnID:   chargeID,
		Type:            TransactionTypePayment,
		Amount:          intent.Amount,
		Currency:        intent.Currency,
		Status:          TransactionStatusSucceeded,
		ProcessedAt:     &now,
	}
	err := s.repo.CreateTransaction(ctx, txn)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// A concurrent replay recorded the charge first.
		if existing, gerr := s.repo.GetTransactionByProviderTxnID(ctx, chargeID); gerr == nil {
			s.logger.Info("transaction already recorded",
				zap.String("transaction_id", existing.ID.String()),
				zap.String("provider_txn_id", chargeID))
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("persist transaction: %w", err)
	}

	s.logger.Info("transaction recorded",
		zap.String("transaction_id", txn.ID.String()),
		zap.String("provider_txn_id", chargeID),
		zap.String("intent_id", intent.ID.String()),
	)
	return nil
}

// ExpireStaleIntents cancels intents whose expiry window has passed.
// It returns how many intents were cancelled.
func (s *Service) ExpireStaleIntents(ctx context.Context, batchSize int) (int, error) {
	stale, err := s.repo.FindExpired(ctx, time.Now(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("find expired intents: %w", err)
	}

	cancelled := 0
	for i := range stale {
		intent := &stale[i]
		if _, err := s.CancelPaymentIntent(ctx, intent.ID, intent.TenantID); err != nil {
			s.logger.Warn("expire payment intent",
				zap.String("intent_id", intent.ID.String()), zap.Error(err))
			continue
		}
		cancelled++
	}
	if cancelled > 0 {
		s.logger.Info("expired stale payment intents", zap.Int("count", cancelled))
	}
	return cancelled, nil
}

// FindProcessingIntents returns intents stuck in the processing status,
// consumed by the status sync sweep.
func (s *Service) FindProcessingIntents(ctx context.Context, limit int) ([]PaymentIntent, error) {
	return s.repo.FindByStatus(ctx, IntentStatusProcessing, limit)
}

// deriveKey builds a deterministic idempotency key for requests that do not
// supply one, so accidental rapid duplicates still collapse.
func deriveKey(tenantID, userID uuid.UUID, scope string, amount decimal.Decimal, currency string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s|%s|%s", tenantID, userID, scope, amount, currency))
	return hex.EncodeToString(sum[:])
}
