package invoice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/chargehub/server/internal/module/order"
	"github.com/chargehub/server/internal/utils/pagination"
	"github.com/chargehub/server/internal/utils/random"
)

// ErrOrderNotCompleted means the order has not settled yet.
var ErrOrderNotCompleted = errors.New("order is not completed")

// Service implements invoice operations.
type Service struct {
	repo   Repository
	orders *order.Service
	logger *zap.Logger
}

// NewService creates an invoice service.
func NewService(repo Repository, orders *order.Service, logger *zap.Logger) *Service {
	return &Service{repo: repo, orders: orders, logger: logger}
}

// GenerateForOrder issues the invoice for a completed order. Generation is
// idempotent: replays return the invoice issued by the first attempt.
func (s *Service) GenerateForOrder(ctx context.Context, orderID, tenantID uuid.UUID) (*Invoice, error) {
	o, err := s.orders.GetOrder(ctx, orderID, tenantID)
	if err != nil {
		return nil, err
	}
	if !o.IsCompleted() {
		return nil, ErrOrderNotCompleted
	}

	if existing, err := s.repo.GetByOrderID(ctx, orderID, tenantID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrInvoiceNotFound) {
		return nil, err
	}

	inv := &Invoice{
		TenantID:      tenantID,
		OrderID:       orderID,
		InvoiceNumber: generateInvoiceNumber(),
		Amount:        o.Amount,
		Currency:      o.Currency,
		Status:        StatusIssued,
		IssuedAt:      time.Now(),
	}
	err = s.repo.Create(ctx, inv)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost the race to a concurrent generation.
		return s.repo.GetByOrderID(ctx, orderID, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("persist invoice: %w", err)
	}

	s.logger.Info("invoice issued",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.String("order_id", orderID.String()),
	)
	return inv, nil
}

// GetInvoice returns an invoice by ID within a tenant.
func (s *Service) GetInvoice(ctx context.Context, id, tenantID uuid.UUID) (*Invoice, error) {
	return s.repo.Get(ctx, id, tenantID)
}

// ListInvoices returns a tenant's invoices.
func (s *Service) ListInvoices(ctx context.Context, tenantID uuid.UUID, p *pagination.Pagination) ([]Invoice, int64, error) {
	return s.repo.List(ctx, tenantID, p)
}

// generateInvoiceNumber produces a dated, human-readable invoice number.
func generateInvoiceNumber() string {
	return fmt.Sprintf("INV-%s-%s", time.Now().Format("20060102"), random.UpperAlphaNum(6))
}
