package refund

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chargehub/server/internal/module/payment"
	"github.com/chargehub/server/internal/module/payment/gateway"
	sherrors "github.com/chargehub/server/internal/shared/errors"
	"github.com/chargehub/server/internal/utils/pagination"
)

// PaymentStore is the slice of the payment repository the refund flow needs.
type PaymentStore interface {
	GetTransaction(ctx context.Context, id, tenantID uuid.UUID) (*payment.Transaction, error)
	UpdateTransaction(ctx context.Context, txn *payment.Transaction) error
}

// Config controls refund eligibility.
type Config struct {
	// MaxRefundPeriod is how long after settlement a transaction stays
	// refundable.
	MaxRefundPeriod time.Duration
}

// CreateRefundInput carries the parameters for issuing a refund.
// A zero Amount refunds the transaction's remaining balance.
type CreateRefundInput struct {
	TransactionID uuid.UUID
	Amount        decimal.Decimal
	Reason        string
}

// Service implements refund operations.
type Service struct {
	repo     Repository
	payments PaymentStore
	registry *gateway.Registry
	cfg      Config
	logger   *zap.Logger
}

// NewService creates a refund service.
func NewService(repo Repository, payments PaymentStore, registry *gateway.Registry, cfg Config, logger *zap.Logger) *Service {
	if cfg.MaxRefundPeriod <= 0 {
		cfg.MaxRefundPeriod = 90 * 24 * time.Hour
	}
	return &Service{
		repo:     repo,
		payments: payments,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
	}
}

// CreateRefund validates eligibility, issues the refund at the gateway and
// records it. Partial refunds accumulate until the transaction's balance is
// exhausted.
func (s *Service) CreateRefund(ctx context.Context, tenantID uuid.UUID, in CreateRefundInput) (*Refund, error) {
	txn, err := s.payments.GetTransaction(ctx, in.TransactionID, tenantID)
	if err != nil {
		return nil, err
	}

	if txn.Status != payment.TransactionStatusSucceeded &&
		txn.Status != payment.TransactionStatusPartiallyRefunded {
		return nil, ErrNotRefundable
	}
	if time.Since(txn.CreatedAt) > s.cfg.MaxRefundPeriod {
		return nil, ErrWindowExpired
	}
	if txn.ProviderTxnID == "" {
		return nil, ErrNoChargeReference
	}

	reserved, err := s.repo.SumReserved(ctx, txn.ID)
	if err != nil {
		return nil, fmt.Errorf("sum reserved refunds: %w", err)
	}
	remaining := txn.Amount.Sub(reserved)

	amount := in.Amount
	if amount.IsZero() {
		amount = remaining
	}
	if amount.LessThanOrEqual(decimal.Zero) || amount.GreaterThan(remaining) {
		return nil, ErrAmountExceedsBalance
	}

	provider, err := s.registry.Get(txn.Provider)
	if err != nil {
		return nil, err
	}
	gr, err := provider.CreateRefund(ctx, gateway.RefundParams{
		ChargeID: txn.ProviderTxnID,
		Amount:   amount,
		Currency: txn.Currency,
		Reason:   in.Reason,
	})
	if err != nil {
		return nil, sherrors.PaymentProcessingError("payment gateway rejected the refund", err)
	}

	r := &Refund{
		TenantID:         tenantID,
		OrderID:          txn.OrderID,
		PaymentIntentID:  txn.PaymentIntentID,
		TransactionID:    txn.ID,
		UserID:           txn.UserID,
		Provider:         txn.Provider,
		ProviderRefundID: gr.ID,
		Amount:           amount,
		Currency:         txn.Currency,
		Status:           normalizeStatus(gr.Status),
		Reason:           in.Reason,
	}
	if r.Status != StatusPending {
		now := time.Now()
		r.ProcessedAt = &now
	}
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("persist refund: %w", err)
	}

	if err := s.recomputeTransaction(ctx, txn); err != nil {
		return nil, err
	}

	s.logger.Info("refund created",
		zap.String("refund_id", r.ID.String()),
		zap.String("provider_refund_id", r.ProviderRefundID),
		zap.String("transaction_id", txn.ID.String()),
		zap.String("amount", amount.String()),
	)
	return r, nil
}

// GetRefund returns a refund by ID within a tenant.
func (s *Service) GetRefund(ctx context.Context, id, tenantID uuid.UUID) (*Refund, error) {
	return s.repo.Get(ctx, id, tenantID)
}

// ListRefunds returns a tenant's refunds, optionally narrowed to a
// transaction, order or user.
func (s *Service) ListRefunds(ctx context.Context, tenantID uuid.UUID, filter *Filter, p *pagination.Pagination) ([]Refund, int64, error) {
	return s.repo.List(ctx, tenantID, filter, p)
}

// UpdateRefundStatus applies a gateway-reported status change, typically via
// webhook. The lookup is scoped by provider and, when the event carried one,
// by tenant. An unknown provider refund ID is logged and ignored so replayed
// events for foreign refunds cannot fail the webhook pipeline.
func (s *Service) UpdateRefundStatus(ctx context.Context, providerName, providerRefundID, status string, tenantID uuid.UUID) error {
	r, err := s.repo.GetByProviderRefundID(ctx, providerName, providerRefundID, tenantID)
	if errors.Is(err, ErrRefundNotFound) {
		s.logger.Warn("refund status update for unknown refund",
			zap.String("provider", providerName),
			zap.String("provider_refund_id", providerRefundID),
			zap.String("status", status))
		return nil
	}
	if err != nil {
		return err
	}

	normalized := normalizeStatus(status)
	if r.Status == normalized {
		return nil
	}
	r.Status = normalized
	now := time.Now()
	r.ProcessedAt = &now
	if err := s.repo.Update(ctx, r); err != nil {
		return fmt.Errorf("update refund: %w", err)
	}

	txn, err := s.payments.GetTransaction(ctx, r.TransactionID, r.TenantID)
	if err != nil {
		return err
	}
	return s.recomputeTransaction(ctx, txn)
}

// recomputeTransaction re-derives the transaction's refund state from the
// refunds currently reserved against it.
func (s *Service) recomputeTransaction(ctx context.Context, txn *payment.Transaction) error {
	reserved, err := s.repo.SumReserved(ctx, txn.ID)
	if err != nil {
		return fmt.Errorf("sum reserved refunds: %w", err)
	}

	var status string
	switch {
	case reserved.IsZero():
		status = payment.TransactionStatusSucceeded
	case reserved.GreaterThanOrEqual(txn.Amount):
		status = payment.TransactionStatusRefunded
	default:
		status = payment.TransactionStatusPartiallyRefunded
	}

	if txn.Status == status {
		return nil
	}
	txn.Status = status
	if err := s.payments.UpdateTransaction(ctx, txn); err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	return nil
}

// normalizeStatus maps gateway refund statuses onto the local vocabulary.
func normalizeStatus(status string) string {
	switch status {
	case "succeeded":
		return StatusSucceeded
	case "failed":
		return StatusFailed
	case "canceled":
		return StatusCanceled
	default:
		return StatusPending
	}
}
