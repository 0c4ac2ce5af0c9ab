// Package reconcile periodically repairs book rating aggregates that have
// drifted from the reviews they summarize (manual edits, restores, a crash
// between writes on a store without transactions).
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

type Recomputer interface {
	RecomputeAll(ctx context.Context) (int, error)
}

// Job is one repair pass. It satisfies cron.Job.
type Job struct {
	Store   Recomputer
	Timeout time.Duration
}

func (j Job) Run() {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	n, err := j.Store.RecomputeAll(ctx)
	if err != nil {
		slog.Error("reconcile aggregates failed", "err", err, "fixed", n)
		return
	}
	level := slog.LevelDebug
	if n > 0 {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "reconcile aggregates done", "fixed", n, "duration_ms", time.Since(start).Milliseconds())
}

// Scheduler runs Job on a cron schedule.
type Scheduler struct {
	c *cron.Cron
}

// Start schedules the job on expr (standard 5-field cron or a descriptor
// such as "@daily" or "@every 1h") and starts the scheduler.
func Start(expr string, store Recomputer) (*Scheduler, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddJob(expr, Job{Store: store}); err != nil {
		return nil, fmt.Errorf("reconcile schedule %q: %w", expr, err)
	}
	c.Start()
	slog.Info("reconcile scheduled", "schedule", expr)
	return &Scheduler{c: c}, nil
}

// Stop waits for a running pass to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	if s == nil {
		return
	}
	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
	}
}
