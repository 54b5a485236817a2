package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chargehub/server/internal/utils/metrics"
)

// Handler defines the function signature for job handlers.
type Handler func(ctx context.Context, job *Job) error

// PoolConfig configures a per-type worker pool.
type PoolConfig struct {
	Concurrency int
	// RatePerSec caps dispatches per second. Zero means unlimited.
	RatePerSec int
	// RetryBackoff is the base retry delay for this job type. Zero falls
	// back to the manager's BaseBackoff.
	RetryBackoff time.Duration
}

// Config contains manager configuration.
type Config struct {
	PollInterval time.Duration
	MaxAttempts  int
	BaseBackoff  time.Duration
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() *Config {
	return &Config{
		PollInterval: 2 * time.Second,
		MaxAttempts:  3,
		BaseBackoff:  5 * time.Second,
	}
}

type pool struct {
	handler Handler
	cfg     PoolConfig
}

// Manager runs registered job types on dedicated worker pools.
type Manager struct {
	mu sync.RWMutex

	repo    Repository
	pools   map[string]*pool
	config  *Config
	metrics *metrics.Metrics
	logger  *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager creates a new job manager.
func NewManager(repo Repository, m *metrics.Metrics, logger *zap.Logger, config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		repo:    repo,
		pools:   make(map[string]*pool),
		config:  config,
		metrics: m,
		logger:  logger.Named("job-manager"),
		stopCh:  make(chan struct{}),
	}
}

// Register registers a handler and worker pool for a job type.
func (m *Manager) Register(jobType string, handler Handler, cfg PoolConfig) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[jobType] = &pool{handler: handler, cfg: cfg}
	m.logger.Debug("registered job handler", zap.String("job_type", jobType))
}

// Start recovers orphaned jobs and starts one poll loop per registered type.
func (m *Manager) Start(ctx context.Context) error {
	recovered, err := m.repo.RecoverRunning(ctx)
	if err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	}
	if recovered > 0 {
		m.logger.Info("recovered orphaned jobs", zap.Int64("count", recovered))
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for jobType, p := range m.pools {
		m.wg.Add(1)
		go m.pollLoop(jobType, p)
	}
	m.logger.Info("job manager started", zap.Int("pools", len(m.pools)))
	return nil
}

// Stop stops the manager and waits for in-flight jobs.
func (m *Manager) Stop() {
	m.logger.Info("stopping job manager")
	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info("job manager stopped")
}

// Enqueue creates a pending job due immediately.
func (m *Manager) Enqueue(ctx context.Context, jobType string, payload map[string]any) (*Job, error) {
	job := &Job{
		Type:    jobType,
		Status:  StatusPending,
		Payload: payload,
		RunAt:   time.Now(),
	}
	if err := m.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	m.logger.Debug("job enqueued",
		zap.String("job_id", job.ID.String()),
		zap.String("type", jobType))
	return job, nil
}

// EnqueueWebhookEvent queues a stored webhook event for processing. Only the
// record ID travels in the payload; the worker reloads the event from the
// database.
func (m *Manager) EnqueueWebhookEvent(ctx context.Context, recordID uuid.UUID) error {
	_, err := m.Enqueue(ctx, TypeWebhookProcessing, map[string]any{
		"event_record_id": recordID.String(),
	})
	return err
}

func (m *Manager) pollLoop(jobType string, p *pool) {
	defer m.wg.Done()

	sem := make(chan struct{}, p.cfg.Concurrency)
	// Drain in-flight workers on the way out, whichever path returns.
	defer func() {
		for i := 0; i < p.cfg.Concurrency; i++ {
			sem <- struct{}{}
		}
	}()

	var gate <-chan time.Time
	if p.cfg.RatePerSec > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(p.cfg.RatePerSec))
		defer ticker.Stop()
		gate = ticker.C
	}

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
		}

		ctx := context.Background()
		jobs, err := m.repo.FindDue(ctx, jobType, time.Now(), p.cfg.Concurrency*2)
		if err != nil {
			m.logger.Error("poll jobs", zap.String("job_type", jobType), zap.Error(err))
			continue
		}

		for _, job := range jobs {
			if gate != nil {
				select {
				case <-m.stopCh:
					return
				case <-gate:
				}
			}
			select {
			case <-m.stopCh:
				return
			case sem <- struct{}{}:
			}

			go func(job *Job) {
				defer func() { <-sem }()
				m.runJob(ctx, job, p)
			}(job)
		}
	}
}

func (m *Manager) runJob(ctx context.Context, job *Job, p *pool) {
	claimed, err := m.repo.Claim(ctx, job.ID)
	if err != nil {
		m.logger.Error("claim job", zap.String("job_id", job.ID.String()), zap.Error(err))
		return
	}
	if !claimed {
		return
	}
	job.Status = StatusRunning

	err = p.handler(ctx, job)
	if err == nil {
		now := time.Now()
		job.Status = StatusCompleted
		job.Attempts++
		job.LastError = ""
		job.CompletedAt = &now
		if uerr := m.repo.Update(ctx, job); uerr != nil {
			m.logger.Error("complete job", zap.String("job_id", job.ID.String()), zap.Error(uerr))
		}
		m.countJob(job.Type, "completed")
		return
	}

	job.Attempts++
	job.LastError = err.Error()

	if job.Attempts >= m.config.MaxAttempts {
		job.Status = StatusDeadLetter
		if uerr := m.repo.Update(ctx, job); uerr != nil {
			m.logger.Error("dead-letter job", zap.String("job_id", job.ID.String()), zap.Error(uerr))
		}
		m.countJob(job.Type, "dead_letter")
		if m.metrics != nil {
			if count, cerr := m.repo.CountByStatus(ctx, job.Type, StatusDeadLetter); cerr == nil {
				m.metrics.JobsDeadLettered.WithLabelValues(job.Type).Set(float64(count))
			}
		}
		m.logger.Error("job dead-lettered after exhausting retries",
			zap.String("job_id", job.ID.String()),
			zap.String("type", job.Type),
			zap.Int("attempts", job.Attempts),
			zap.Error(err))
		return
	}

	backoff := p.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = m.config.BaseBackoff
	}
	job.Status = StatusPending
	job.RunAt = time.Now().Add(backoff << (job.Attempts - 1))
	if uerr := m.repo.Update(ctx, job); uerr != nil {
		m.logger.Error("reschedule job", zap.String("job_id", job.ID.String()), zap.Error(uerr))
		return
	}
	if m.metrics != nil {
		m.metrics.JobRetriesTotal.WithLabelValues(job.Type).Inc()
	}
	m.logger.Warn("job failed, retrying",
		zap.String("job_id", job.ID.String()),
		zap.String("type", job.Type),
		zap.Int("attempt", job.Attempts),
		zap.Time("run_at", job.RunAt),
		zap.Error(err))
}

func (m *Manager) countJob(jobType, outcome string) {
	if m.metrics != nil {
		m.metrics.JobsProcessedTotal.WithLabelValues(jobType, outcome).Inc()
	}
}
