package order

import (
	"context"
	"fmt"
	"time"

	"github.com/chargehub/server/internal/utils/pagination"
	"github.com/chargehub/server/internal/utils/random"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateOrderInput carries the parameters for creating an order.
type CreateOrderInput struct {
	TenantID       uuid.UUID
	UserID         uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	PaymentType    PaymentType
	IdempotencyKey string
	Metadata       map[string]string
}

// Service implements order operations.
type Service struct {
	repo   Repository
	sm     *StateMachine
	logger *zap.Logger
}

// NewService creates a new order service.
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		sm:     NewStateMachine(),
		logger: logger,
	}
}

// CreateOrder creates a pending order, or returns the existing order when the
// idempotency key has already been used by this tenant.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	if in.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if len(in.Currency) != 3 {
		return nil, ErrInvalidCurrency
	}

	if in.IdempotencyKey != "" {
		existing, err := s.repo.GetByIdempotencyKey(ctx, in.TenantID, in.IdempotencyKey)
		if err == nil {
			s.logger.Info("order creation replayed by idempotency key",
				zap.String("order_id", existing.ID.String()),
				zap.String("tenant_id", in.TenantID.String()),
			)
			return existing, nil
		}
		if err != ErrOrderNotFound {
			return nil, err
		}
	}

	paymentType := in.PaymentType
	if paymentType == "" {
		paymentType = PaymentTypeOneTime
	}

	o := &Order{
		ID:             uuid.New(),
		TenantID:       in.TenantID,
		UserID:         in.UserID,
		OrderNumber:    generateOrderNumber(),
		IdempotencyKey: in.IdempotencyKey,
		Amount:         in.Amount,
		Currency:       in.Currency,
		Status:         OrderStatusPending,
		PaymentType:    paymentType,
		Metadata:       in.Metadata,
	}

	if err := s.repo.Create(ctx, o); err != nil {
		return nil, err
	}

	s.logger.Info("order created",
		zap.String("order_id", o.ID.String()),
		zap.String("order_number", o.OrderNumber),
		zap.String("tenant_id", o.TenantID.String()),
	)
	return o, nil
}

// GetOrder returns an order by ID within a tenant.
func (s *Service) GetOrder(ctx context.Context, id, tenantID uuid.UUID) (*Order, error) {
	return s.repo.Get(ctx, id, tenantID)
}

// ListOrders returns orders for a tenant.
func (s *Service) ListOrders(ctx context.Context, tenantID uuid.UUID, filter *Filter, p *pagination.Pagination) ([]*Order, int64, error) {
	return s.repo.List(ctx, tenantID, filter, p)
}

// CancelOrder cancels an order. Cancelling a completed order fails;
// cancelling an already cancelled order is a no-op.
func (s *Service) CancelOrder(ctx context.Context, id, tenantID uuid.UUID) (*Order, error) {
	o, err := s.repo.Get(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}

	if o.Status == OrderStatusCancelled {
		return o, nil
	}
	if o.Status == OrderStatusCompleted {
		return nil, ErrOrderCompleted
	}

	if err := s.sm.Transition(o, OrderStatusCancelled); err != nil {
		return nil, ErrOrderNotCancelable
	}
	if err := s.repo.Update(ctx, o); err != nil {
		return nil, err
	}

	s.logger.Info("order cancelled", zap.String("order_id", o.ID.String()))
	return o, nil
}

// MarkProcessing transitions an order to processing once a payment intent is attached.
func (s *Service) MarkProcessing(ctx context.Context, id, tenantID uuid.UUID) error {
	return s.transition(ctx, id, tenantID, OrderStatusProcessing)
}

// MarkCompleted transitions an order to completed once a transaction records success.
func (s *Service) MarkCompleted(ctx context.Context, id, tenantID uuid.UUID) error {
	return s.transition(ctx, id, tenantID, OrderStatusCompleted)
}

// MarkFailed transitions an order to failed.
func (s *Service) MarkFailed(ctx context.Context, id, tenantID uuid.UUID) error {
	return s.transition(ctx, id, tenantID, OrderStatusFailed)
}

func (s *Service) transition(ctx context.Context, id, tenantID uuid.UUID, to OrderStatus) error {
	o, err := s.repo.Get(ctx, id, tenantID)
	if err != nil {
		return err
	}
	if o.Status == to {
		return nil
	}
	if err := s.sm.Transition(o, to); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, o); err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

// generateOrderNumber produces a globally unique, human-readable order number.
func generateOrderNumber() string {
	return fmt.Sprintf("ORD-%d-%s", time.Now().UnixMilli(), random.Digits(4))
}
