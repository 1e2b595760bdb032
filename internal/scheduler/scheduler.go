// Package scheduler generates and saves insight reports on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
	"github.com/juanfero/rappi-intelligent-ops/internal/service/insights"
)

// Runner runs one insight report. Implemented by insights.RunService.
type Runner interface {
	Run(ctx context.Context, scope domain.InsightScope, save bool, trigger string) (*insights.RunOutput, error)
}

// Scheduler runs the full-scope insight report on a standard five-field cron
// expression. Overlapping ticks are skipped.
type Scheduler struct {
	cron     *cron.Cron
	runner   Runner
	schedule string
	logger   *slog.Logger

	mu      sync.Mutex
	entry   cron.EntryID
	started bool
}

// New creates a Scheduler. An empty schedule yields a scheduler whose Start
// is a no-op.
func New(runner Runner, schedule string, logger *slog.Logger) *Scheduler {
	logger = logger.With("component", "scheduler")
	cl := cronLogger{logger}
	return &Scheduler{
		cron:     cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		runner:   runner,
		schedule: schedule,
		logger:   logger,
	}
}

// Start registers the report job and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("insight schedule disabled")
		return nil
	}
	id, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce(ctx) })
	if err != nil {
		return fmt.Errorf("invalid insight schedule %q: %w", s.schedule, err)
	}
	s.entry = id
	s.started = true
	s.cron.Start()
	s.logger.Info("insight scheduler started", "schedule", s.schedule)
	return nil
}

// Stop stops the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.started = false
	s.logger.Info("insight scheduler stopped")
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// RunOnce generates, saves and records one full-scope report.
func (s *Scheduler) RunOnce(ctx context.Context) {
	out, err := s.runner.Run(ctx, domain.InsightScope{}, true, domain.TriggerSchedule)
	if err != nil {
		s.logger.Warn("scheduled insight run failed", "error", err)
		return
	}
	s.logger.Info("scheduled insight run", "run_id", out.RunID, "executive", out.Report.Meta.Counts.Executive)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
