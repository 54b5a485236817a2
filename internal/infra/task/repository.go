package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrJobNotFound is returned when a job is not found.
var ErrJobNotFound = errors.New("job not found")

// Repository defines the interface for job data access.
type Repository interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id uuid.UUID) (*Job, error)
	Update(ctx context.Context, job *Job) error
	// FindDue returns pending jobs of a type whose run_at has passed.
	FindDue(ctx context.Context, jobType string, now time.Time, limit int) ([]*Job, error)
	// Claim transitions a pending job to running. It returns false when
	// another worker claimed the job first.
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	// RecoverRunning resets running jobs to pending, used at startup to
	// reclaim work orphaned by a crash.
	RecoverRunning(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context, jobType string, status Status) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new job repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// Create creates a new job.
func (r *repository) Create(ctx context.Context, job *Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// Get retrieves a job by ID.
func (r *repository) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	var job Job
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// Update updates a job.
func (r *repository) Update(ctx context.Context, job *Job) error {
	result := r.db.WithContext(ctx).Save(job)
	if result.Error != nil {
		return fmt.Errorf("update job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// FindDue lists pending jobs of a type that are ready to run.
func (r *repository) FindDue(ctx context.Context, jobType string, now time.Time, limit int) ([]*Job, error) {
	var jobs []*Job
	err := r.db.WithContext(ctx).
		Where("type = ? AND status = ? AND run_at <= ?", jobType, StatusPending, now).
		Order("run_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("find due jobs: %w", err)
	}
	return jobs, nil
}

// Claim marks a pending job as running. The status guard in the WHERE
// clause makes the claim safe against concurrent pollers.
func (r *repository) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&Job{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Update("status", StatusRunning)
	if result.Error != nil {
		return false, fmt.Errorf("claim job: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// RecoverRunning resets running jobs back to pending.
func (r *repository) RecoverRunning(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&Job{}).
		Where("status = ?", StatusRunning).
		Update("status", StatusPending)
	if result.Error != nil {
		return 0, fmt.Errorf("recover running jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CountByStatus counts jobs of a type with a specific status.
func (r *repository) CountByStatus(ctx context.Context, jobType string, status Status) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Job{}).
		Where("type = ? AND status = ?", jobType, status).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return count, nil
}
