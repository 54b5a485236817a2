package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chargehub/server/internal/utils/pagination"
)

// ListFilter narrows payment intent listings.
type ListFilter struct {
	UserID *uuid.UUID
	Status string
}

// Repository persists payment intents and transactions.
type Repository interface {
	CreateIntent(ctx context.Context, intent *PaymentIntent) error
	GetIntent(ctx context.Context, id, tenantID uuid.UUID) (*PaymentIntent, error)
	// GetIntentByProviderID locates an intent by the gateway's reference,
	// scoped by provider since references are only unique per gateway.
	GetIntentByProviderID(ctx context.Context, provider, providerIntentID string) (*PaymentIntent, error)
	GetIntentByOrderID(ctx context.Context, orderID, tenantID uuid.UUID) (*PaymentIntent, error)
	UpdateIntent(ctx context.Context, intent *PaymentIntent) error
	ListIntents(ctx context.Context, tenantID uuid.UUID, filter ListFilter, p *pagination.Pagination) ([]PaymentIntent, int64, error)
	// FindExpired returns non-terminal intents whose expiry passed before cutoff.
	FindExpired(ctx context.Context, cutoff time.Time, limit int) ([]PaymentIntent, error)
	// FindByStatus returns intents in a given status, oldest first.
	FindByStatus(ctx context.Context, status string, limit int) ([]PaymentIntent, error)

	CreateTransaction(ctx context.Context, txn *Transaction) error
	GetTransaction(ctx context.Context, id, tenantID uuid.UUID) (*Transaction, error)
	GetTransactionByIntent(ctx context.Context, intentID uuid.UUID) (*Transaction, error)
	GetTransactionByProviderTxnID(ctx context.Context, providerTxnID string) (*Transaction, error)
	UpdateTransaction(ctx context.Context, txn *Transaction) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a gorm-backed payment repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateIntent(ctx context.Context, intent *PaymentIntent) error {
	return r.db.WithContext(ctx).Create(intent).Error
}

func (r *repository) GetIntent(ctx context.Context, id, tenantID uuid.UUID) (*PaymentIntent, error) {
	var intent PaymentIntent
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&intent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) GetIntentByProviderID(ctx context.Context, provider, providerIntentID string) (*PaymentIntent, error) {
	var intent PaymentIntent
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_intent_id = ?", provider, providerIntentID).
		First(&intent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) GetIntentByOrderID(ctx context.Context, orderID, tenantID uuid.UUID) (*PaymentIntent, error) {
	var intent PaymentIntent
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND tenant_id = ?", orderID, tenantID).
		Order("created_at DESC").
		First(&intent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) UpdateIntent(ctx context.Context, intent *PaymentIntent) error {
	return r.db.WithContext(ctx).Save(intent).Error
}

func (r *repository) ListIntents(ctx context.Context, tenantID uuid.UUID, filter ListFilter, p *pagination.Pagination) ([]PaymentIntent, int64, error) {
	query := r.db.WithContext(ctx).Model(&PaymentIntent{}).Where("tenant_id = ?", tenantID)
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var intents []PaymentIntent
	err := query.Order("created_at DESC").
		Offset(p.Offset()).
		Limit(p.Limit()).
		Find(&intents).Error
	if err != nil {
		return nil, 0, err
	}
	return intents, total, nil
}

func (r *repository) FindExpired(ctx context.Context, cutoff time.Time, limit int) ([]PaymentIntent, error) {
	var intents []PaymentIntent
	err := r.db.WithContext(ctx).
		Where("expires_at < ? AND status NOT IN ?", cutoff,
			[]string{IntentStatusSucceeded, IntentStatusCanceled}).
		Order("expires_at ASC").
		Limit(limit).
		Find(&intents).Error
	if err != nil {
		return nil, err
	}
	return intents, nil
}

func (r *repository) FindByStatus(ctx context.Context, status string, limit int) ([]PaymentIntent, error) {
	var intents []PaymentIntent
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&intents).Error
	if err != nil {
		return nil, err
	}
	return intents, nil
}

func (r *repository) CreateTransaction(ctx context.Context, txn *Transaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) GetTransaction(ctx context.Context, id, tenantID uuid.UUID) (*Transaction, error) {
	var txn Transaction
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) GetTransactionByIntent(ctx context.Context, intentID uuid.UUID) (*Transaction, error) {
	var txn Transaction
	err := r.db.WithContext(ctx).
		Where("payment_intent_id = ?", intentID).
		First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) GetTransactionByProviderTxnID(ctx context.Context, providerTxnID string) (*Transaction, error) {
	var txn Transaction
	err := r.db.WithContext(ctx).
		Where("provider_txn_id = ?", providerTxnID).
		First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) UpdateTransaction(ctx context.Context, txn *Transaction) error {
	return r.db.WithContext(ctx).Save(txn).Error
}
