// Package overdue flags installments that passed their due date plus grace.
package overdue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"bnpl/internal/plan/service"
)

// Sweeper is the ledger operation the worker schedules.
type Sweeper interface {
	MarkOverdue(ctx context.Context, grace time.Duration, batchSize int) (*service.SweepResult, error)
}

const (
	defaultSchedule  = "@every 1h"
	defaultGrace     = 0
	defaultBatchSize = 500
)

// Worker runs the overdue sweep on a cron schedule.
type Worker struct {
	sweeper   Sweeper
	schedule  string
	grace     time.Duration
	batchSize int
	logger    *slog.Logger
}

type Option func(*Worker)

// WithSchedule sets a standard cron spec or descriptor such as "@every 30m".
func WithSchedule(spec string) Option {
	return func(w *Worker) {
		if spec != "" {
			w.schedule = spec
		}
	}
}

// WithGracePeriod sets how long after its due date an installment stays PENDING.
func WithGracePeriod(d time.Duration) Option {
	return func(w *Worker) {
		if d >= 0 {
			w.grace = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func New(sweeper Sweeper, opts ...Option) (*Worker, error) {
	if sweeper == nil {
		return nil, fmt.Errorf("sweeper is required")
	}
	w := &Worker{
		sweeper:   sweeper,
		schedule:  defaultSchedule,
		grace:     defaultGrace,
		batchSize: defaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	if _, err := cron.ParseStandard(w.schedule); err != nil {
		return nil, fmt.Errorf("parse overdue schedule %q: %w", w.schedule, err)
	}
	return w, nil
}

// Start schedules the sweep and blocks until ctx is cancelled. A run still in
// progress is allowed to finish before Start returns.
func (w *Worker) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(w.schedule, func() {
		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.ErrorContext(ctx, "overdue_sweep_failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule overdue sweep: %w", err)
	}
	w.logger.InfoContext(ctx, "overdue_sweep_scheduled", "schedule", w.schedule, "grace", w.grace.String())
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// RunOnce performs a single sweep.
func (w *Worker) RunOnce(ctx context.Context) (*service.SweepResult, error) {
	start := time.Now()
	result, err := w.sweeper.MarkOverdue(ctx, w.grace, w.batchSize)
	if err != nil {
		return result, err
	}
	w.logger.InfoContext(ctx, "overdue_sweep_completed",
		"plans_scanned", result.PlansScanned,
		"plans_updated", result.PlansUpdated,
		"installments_marked", result.InstallmentsMarked,
		"failed", result.Failed,
		"duration_ms", time.Since(start).Milliseconds())
	return result, nil
}
