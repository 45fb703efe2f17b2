package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/tasklab/fanin/pkg/schedule"
)

// Runner drives Monitor.Tick from a schedule. The monitor itself is never
// self-timed, so ticks stay testable; the runner is the production driver.
type Runner struct {
	monitor *Monitor
	sched   schedule.Schedule
	logger  *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithSchedule sets the tick schedule. Default is every 5 minutes,
// matching the default polling interval.
func WithSchedule(s schedule.Schedule) RunnerOption {
	return func(r *Runner) { r.sched = s }
}

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner creates a runner for the given monitor.
func NewRunner(m *Monitor, opts ...RunnerOption) *Runner {
	r := &Runner{
		monitor: m,
		sched:   schedule.Every(5 * time.Minute),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start ticks until the context is cancelled. Tick errors are logged and
// the loop continues; the next tick retries.
func (r *Runner) Start(ctx context.Context) error {
	for {
		next := r.sched.Next(time.Now())
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		if _, err := r.monitor.Tick(ctx); err != nil {
			r.logger.Error("tick failed", "error", err)
		}
	}
}
