// Package scheduler runs FlowDesk maintenance jobs on cron schedules.
//
// The only job today is retention: flow submissions and send records older
// than the configured window are pruned from the store.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRetentionSchedule runs the retention job once a day at 03:17.
const DefaultRetentionSchedule = "17 3 * * *"

// DefaultJobTimeout bounds a single run of a maintenance job.
const DefaultJobTimeout = 5 * time.Minute

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	if _, err := s.cron.AddFunc(expr, task); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Pruner deletes records created before cutoff.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionJob prunes records older than Keep.
type RetentionJob struct {
	Pruner  Pruner
	Keep    time.Duration
	Timeout time.Duration
	Now     func() time.Time
}

// Run performs one pruning pass and returns the number of removed rows.
func (j *RetentionJob) Run(ctx context.Context) (int64, error) {
	if j.Keep <= 0 {
		return 0, fmt.Errorf("retention window must be positive, got %s", j.Keep)
	}
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cutoff := now().Add(-j.Keep)
	removed, err := j.Pruner.PruneBefore(ctx, cutoff)
	if err != nil {
		slog.Error("RetentionJob.Run: prune failed", "error", err, "cutoff", cutoff)
		return 0, err
	}
	slog.Info("RetentionJob.Run: pruned old records", "removed", removed, "cutoff", cutoff)
	return removed, nil
}

// ScheduleRetention registers job on s under expr. Runs use ctx as parent, so
// cancelling ctx aborts an in-flight prune.
func (s *Scheduler) ScheduleRetention(ctx context.Context, expr string, job *RetentionJob) error {
	if expr == "" {
		expr = DefaultRetentionSchedule
	}
	if err := s.AddJob(expr, func() { _, _ = job.Run(ctx) }); err != nil {
		return err
	}
	slog.Debug("Scheduler.ScheduleRetention: retention scheduled", "schedule", expr, "keep", job.Keep)
	return nil
}
