package webhook

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository persists webhook events.
type Repository interface {
	// Create inserts an event record. ErrDuplicateEvent is returned when the
	// (provider, event_id, tenant_id) triple was already recorded.
	Create(ctx context.Context, event *WebhookEvent) error
	Get(ctx context.Context, id uuid.UUID) (*WebhookEvent, error)
	Update(ctx context.Context, event *WebhookEvent) error
	// FindUnprocessed returns unprocessed events created before cutoff,
	// oldest first.
	FindUnprocessed(ctx context.Context, cutoff time.Time, limit int) ([]WebhookEvent, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a gorm-backed webhook repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, event *WebhookEvent) error {
	err := r.db.WithContext(ctx).Create(event).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateEvent
	}
	return err
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*WebhookEvent, error) {
	var event WebhookEvent
	err := r.db.WithContext(ctx).First(&event, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) Update(ctx context.Context, event *WebhookEvent) error {
	return r.db.WithContext(ctx).Save(event).Error
}

func (r *repository) FindUnprocessed(ctx context.Context, cutoff time.Time, limit int) ([]WebhookEvent, error) {
	var events []WebhookEvent
	err := r.db.WithContext(ctx).
		Where("processed = ? AND created_at < ?", false, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
