// Package sched runs named periodic maintenance jobs, such as the payment
// intent expiry sweep and the webhook requeue sweep.
package sched

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JobFunc is a single sweep execution.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	interval time.Duration
	run      JobFunc
}

// Scheduler runs registered jobs on their own tickers.
type Scheduler struct {
	jobs   []job
	logger *zap.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a scheduler.
func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		logger: logger.Named("scheduler"),
		stopCh: make(chan struct{}),
	}
}

// Register adds a periodic job. Must be called before Start.
func (s *Scheduler) Register(name string, interval time.Duration, run JobFunc) {
	s.jobs = append(s.jobs, job{name: name, interval: interval, run: run})
}

// Start launches one loop per registered job.
func (s *Scheduler) Start() {
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(j)
	}
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop stops all loops and waits for in-flight sweeps.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(j job) {
	defer s.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		}

		if err := j.run(context.Background()); err != nil {
			s.logger.Error("scheduled job failed",
				zap.String("job", j.name), zap.Error(err))
		}
	}
}
