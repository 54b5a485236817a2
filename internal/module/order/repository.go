package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/chargehub/server/internal/utils/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Filter narrows order listings.
type Filter struct {
	UserID *uuid.UUID
	Status *OrderStatus
}

// Repository defines the interface for order data access.
// Every lookup is scoped by tenant.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id, tenantID uuid.UUID) (*Order, error)
	GetByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*Order, error)
	Update(ctx context.Context, o *Order) error
	List(ctx context.Context, tenantID uuid.UUID, filter *Filter, p *pagination.Pagination) ([]*Order, int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new order repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, o *Order) error {
	if err := r.db.WithContext(ctx).Create(o).Error; err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (r *repository) Get(ctx context.Context, id, tenantID uuid.UUID) (*Order, error) {
	var o Order
	err := r.db.WithContext(ctx).
		First(&o, "id = ? AND tenant_id = ?", id, tenantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &o, nil
}

func (r *repository) GetByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*Order, error) {
	var o Order
	err := r.db.WithContext(ctx).
		First(&o, "idempotency_key = ? AND tenant_id = ?", key, tenantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order by idempotency key: %w", err)
	}
	return &o, nil
}

func (r *repository) Update(ctx context.Context, o *Order) error {
	if err := r.db.WithContext(ctx).Save(o).Error; err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

func (r *repository) List(ctx context.Context, tenantID uuid.UUID, filter *Filter, p *pagination.Pagination) ([]*Order, int64, error) {
	q := r.db.WithContext(ctx).Model(&Order{}).Where("tenant_id = ?", tenantID)
	if filter != nil {
		if filter.UserID != nil {
			q = q.Where("user_id = ?", *filter.UserID)
		}
		if filter.Status != nil {
			q = q.Where("status = ?", *filter.Status)
		}
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	if p == nil {
		p = pagination.New()
	}
	var orders []*Order
	err := q.Order("created_at DESC").
		Offset(p.Offset()).
		Limit(p.Limit()).
		Find(&orders).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	return orders, total, nil
}
