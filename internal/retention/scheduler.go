// Package retention prunes old request logs on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

type Pruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

type Config struct {
	// Standard five-field cron expression, e.g. "0 3 * * *". Empty disables pruning.
	Schedule  string
	Retention time.Duration
}

type Scheduler struct {
	pruner  Pruner
	cfg     Config
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
}

func NewScheduler(pruner Pruner, cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		pruner: pruner,
		cfg:    cfg,
		cron:   cron.New(),
		logger: logger.With("component", "retention"),
	}
}

// Start schedules pruning until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Schedule == "" || s.cfg.Retention <= 0 {
		s.logger.Info("request log retention not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(s.cfg.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.cfg.Schedule, err)
	}

	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("retention scheduler started",
		"schedule", s.cfg.Schedule,
		"retention", s.cfg.Retention.String(),
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// RunOnce prunes request logs older than the retention period.
func (s *Scheduler) RunOnce(ctx context.Context) {
	deleted, err := s.pruner.Prune(ctx, s.cfg.Retention)
	if err != nil {
		s.logger.Error("request log pruning failed", "error", err)
		return
	}

	if deleted > 0 {
		s.logger.Info("request log pruning completed", "deleted_count", deleted)
	} else {
		s.logger.Debug("request log pruning completed, nothing to delete")
	}
}

// Stop stops the scheduler and waits for a running prune to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("retention scheduler stopped")
	}
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// NextRun returns the next scheduled pruning time, or nil when not running.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}

	next := entries[0].Next
	return &next
}
