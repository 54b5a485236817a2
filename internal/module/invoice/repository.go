package invoice

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chargehub/server/internal/utils/pagination"
)

// ErrInvoiceNotFound means no invoice matches the lookup.
var ErrInvoiceNotFound = errors.New("invoice not found")

// Repository persists invoices.
type Repository interface {
	Create(ctx context.Context, inv *Invoice) error
	Get(ctx context.Context, id, tenantID uuid.UUID) (*Invoice, error)
	GetByOrderID(ctx context.Context, orderID, tenantID uuid.UUID) (*Invoice, error)
	List(ctx context.Context, tenantID uuid.UUID, p *pagination.Pagination) ([]Invoice, int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a gorm-backed invoice repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, inv *Invoice) error {
	return r.db.WithContext(ctx).Create(inv).Error
}

func (r *repository) Get(ctx context.Context, id, tenantID uuid.UUID) (*Invoice, error) {
	var inv Invoice
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *repository) GetByOrderID(ctx context.Context, orderID, tenantID uuid.UUID) (*Invoice, error) {
	var inv Invoice
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND tenant_id = ?", orderID, tenantID).
		First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *repository) List(ctx context.Context, tenantID uuid.UUID, p *pagination.Pagination) ([]Invoice, int64, error) {
	query := r.db.WithContext(ctx).Model(&Invoice{}).Where("tenant_id = ?", tenantID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var invoices []Invoice
	err := query.Order("created_at DESC").
		Offset(p.Offset()).
		Limit(p.Limit()).
		Find(&invoices).Error
	if err != nil {
		return nil, 0, err
	}
	return invoices, total, nil
}
