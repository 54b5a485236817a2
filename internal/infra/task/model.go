// Package task provides a database-backed job queue for async work.
// Jobs are polled per type by dedicated worker pools, retried with
// exponential backoff and parked in a dead-letter state when exhausted.
package task

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status represents the status of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusDeadLetter Status = "dead_letter"
)

// Job types.
const (
	TypeWebhookProcessing = "webhook-processing"
	TypeInvoiceGeneration = "invoice-generation"
	TypePaymentStatusSync = "payment-status-sync"
)

// Job represents a queued unit of background work.
type Job struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	Type        string         `json:"type" gorm:"not null;index:idx_jobs_type_status"`
	Status      Status         `json:"status" gorm:"not null;index:idx_jobs_type_status"`
	Payload     map[string]any `json:"payload" gorm:"type:jsonb;serializer:json;not null"`
	Attempts    int            `json:"attempts" gorm:"not null;default:0"`
	LastError   string         `json:"last_error,omitempty" gorm:"type:varchar(1024)"`
	RunAt       time.Time      `json:"run_at" gorm:"not null;index"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// TableName returns the table name for Job.
func (Job) TableName() string {
	return "jobs"
}

// BeforeCreate generates the job ID.
func (j *Job) BeforeCreate(_ *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}

// IsTerminal checks if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusDeadLetter
}
