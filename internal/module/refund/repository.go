package refund

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/chargehub/server/internal/utils/pagination"
)

// Filter narrows refund listings.
type Filter struct {
	TransactionID *uuid.UUID
	OrderID       *uuid.UUID
	UserID        *uuid.UUID
}

// Repository persists refunds.
type Repository interface {
	Create(ctx context.Context, r *Refund) error
	Get(ctx context.Context, id, tenantID uuid.UUID) (*Refund, error)
	// GetByProviderRefundID locates a refund by the gateway's reference,
	// scoped by provider. A nil tenant matches any tenant, for events whose
	// payload carries no tenant metadata.
	GetByProviderRefundID(ctx context.Context, provider, providerRefundID string, tenantID uuid.UUID) (*Refund, error)
	Update(ctx context.Context, r *Refund) error
	List(ctx context.Context, tenantID uuid.UUID, filter *Filter, p *pagination.Pagination) ([]Refund, int64, error)
	// SumReserved returns the total refund amount already committed against a
	// transaction, counting pending and succeeded refunds.
	SumReserved(ctx context.Context, transactionID uuid.UUID) (decimal.Decimal, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a gorm-backed refund repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, rf *Refund) error {
	return r.db.WithContext(ctx).Create(rf).Error
}

func (r *repository) Get(ctx context.Context, id, tenantID uuid.UUID) (*Refund, error) {
	var rf Refund
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&rf).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRefundNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rf, nil
}

func (r *repository) GetByProviderRefundID(ctx context.Context, provider, providerRefundID string, tenantID uuid.UUID) (*Refund, error) {
	query := r.db.WithContext(ctx).
		Where("provider = ? AND provider_refund_id = ?", provider, providerRefundID)
	if tenantID != uuid.Nil {
		query = query.Where("tenant_id = ?", tenantID)
	}

	var rf Refund
	err := query.First(&rf).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRefundNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rf, nil
}

func (r *repository) Update(ctx context.Context, rf *Refund) error {
	return r.db.WithContext(ctx).Save(rf).Error
}

func (r *repository) List(ctx context.Context, tenantID uuid.UUID, filter *Filter, p *pagination.Pagination) ([]Refund, int64, error) {
	query := r.db.WithContext(ctx).Model(&Refund{}).Where("tenant_id = ?", tenantID)
	if filter != nil {
		if filter.TransactionID != nil {
			query = query.Where("transaction_id = ?", *filter.TransactionID)
		}
		if filter.OrderID != nil {
			query = query.Where("order_id = ?", *filter.OrderID)
		}
		if filter.UserID != nil {
			query = query.Where("user_id = ?", *filter.UserID)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var refunds []Refund
	err := query.Order("created_at DESC").
		Offset(p.Offset()).
		Limit(p.Limit()).
		Find(&refunds).Error
	if err != nil {
		return nil, 0, err
	}
	return refunds, total, nil
}

func (r *repository) SumReserved(ctx context.Context, transactionID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := r.db.WithContext(ctx).Model(&Refund{}).
		Select("SUM(amount)").
		Where("transaction_id = ? AND status IN ?", transactionID,
			[]string{StatusPending, StatusSucceeded}).
		Scan(&sum).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}
