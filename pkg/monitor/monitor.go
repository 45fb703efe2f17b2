// Package monitor is the periodic reconciliation loop. Each tick it reads
// every non-terminal job, applies the completion, timeout, and partial
// threshold rules, finalizes eligible jobs, and triggers downstream work.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tasklab/fanin/pkg/core"
	"github.com/tasklab/fanin/pkg/policy"
)

// DownstreamSender sends the downstream message for a finalized job.
type DownstreamSender interface {
	Send(ctx context.Context, job *core.Job, partial bool) error
}

// TickSummary reports what one tick did.
type TickSummary struct {
	Evaluated int
	Completed int
	Partial   int
	TimedOut  int
	Errors    int
}

// Monitor finalizes jobs on each tick.
type Monitor struct {
	store    core.Store
	resolver *policy.Resolver
	sender   DownstreamSender
	logger   *slog.Logger
	emit     core.EmitFunc
	now      func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the monitor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// WithEmit sets the event emit function.
func WithEmit(emit core.EmitFunc) Option {
	return func(m *Monitor) { m.emit = emit }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a Monitor.
func New(store core.Store, resolver *policy.Resolver, sender DownstreamSender, opts ...Option) *Monitor {
	m := &Monitor{
		store:    store,
		resolver: resolver,
		sender:   sender,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Tick runs one reconciliation pass. Per-job failures are isolated: one
// job's error never stops processing of the rest. Only a failure to list
// the active jobs fails the tick itself, and that is retried on the next
// tick.
func (m *Monitor) Tick(ctx context.Context) (*TickSummary, error) {
	cfg := m.resolver.Resolve(ctx)
	now := m.now()

	jobs, err := m.store.ListActiveJobs(ctx, cfg.MaxJobsPerCycle)
	if err != nil {
		return nil, fmt.Errorf("fanin: list active jobs: %w", err)
	}

	summary := &TickSummary{}
	for _, job := range jobs {
		summary.Evaluated++
		if err := m.processJob(ctx, job, cfg, now, summary); err != nil {
			summary.Errors++
			m.logger.Error("job reconciliation failed", "job_id", job.ID, "error", err)
		}
	}

	m.logger.Debug("tick finished",
		"evaluated", summary.Evaluated, "completed", summary.Completed,
		"partial", summary.Partial, "timed_out", summary.TimedOut, "errors", summary.Errors)
	return summary, nil
}

func (m *Monitor) processJob(ctx context.Context, job *core.Job, cfg policy.Config, now time.Time, summary *TickSummary) error {
	switch Decide(now, job, cfg) {
	case DecisionNone:
		return nil

	case DecisionComplete:
		note := fmt.Sprintf("all %d subtasks completed", len(job.SubtaskIDs))
		if err := m.finalize(ctx, job, core.StatusComplete, note, true, false); err != nil {
			return err
		}
		summary.Completed++
		return nil

	case DecisionPartial:
		note := fmt.Sprintf("timed out with %d/%d subtasks completed (threshold %.0f%%)",
			job.DoneCount(), len(job.SubtaskIDs), cfg.PartialThreshold*100)
		if err := m.finalize(ctx, job, core.StatusPartial, note, true, true); err != nil {
			return err
		}
		summary.Partial++
		return nil

	default: // DecisionTimeout
		note := fmt.Sprintf("timed out with %d/%d subtasks completed, below threshold",
			job.DoneCount(), len(job.SubtaskIDs))
		if err := m.finalize(ctx, job, core.StatusTimeout, note, false, false); err != nil {
			return err
		}
		summary.TimedOut++
		return nil
	}
}

// finalize sends the downstream message (when the decision calls for one)
// and then marks the job terminal. Sending first means a publish failure
// leaves the job active for retry on a later tick; the trigger's audit
// record guards the rare double-send if the status write then fails.
func (m *Monitor) finalize(ctx context.Context, job *core.Job, status core.JobStatus, note string, send, partial bool) error {
	if send {
		if err := m.sender.Send(ctx, job, partial); err != nil {
			return err
		}
	}

	now := m.now()
	updated, err := m.store.UpdateJob(ctx, job.ID, func(j *core.Job) error {
		if j.Status.Terminal() {
			return core.ErrJobFinalized
		}
		j.Status = status
		j.ProcessedAt = &now
		j.ProcessingNote = note
		return nil
	})
	if errors.Is(err, core.ErrJobFinalized) {
		// Another tick got there first.
		m.logger.Warn("job finalized concurrently", "job_id", job.ID)
		return nil
	}
	if err != nil {
		return err
	}

	if m.emit != nil {
		m.emit(&core.JobFinalized{Job: updated, Status: status, Timestamp: now})
	}
	m.logger.Info("job finalized", "job_id", job.ID, "status", status, "note", note)
	return nil
}
