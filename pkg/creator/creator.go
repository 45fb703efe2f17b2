// Package creator allocates jobs and fires the per-subtask trigger calls
// to the external task engine.
package creator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tasklab/fanin/pkg/core"
	"github.com/tasklab/fanin/pkg/validate"
)

// EngineTrigger fires one asynchronous trigger call to the external engine.
type EngineTrigger interface {
	Trigger(ctx context.Context, jobID string, subtaskIDs []string, metadata map[string]string) error
}

// Summary is the result of a CreateJob call. Individual trigger failures
// are counted, never fatal: an untriggered subtask simply never reports
// and surfaces later as a timeout or partial case.
type Summary struct {
	JobID     string `json:"jobId"`
	Triggered int    `json:"triggeredCount"`
	Failed    int    `json:"failedCount"`
}

// Creator creates jobs on an external activation event.
type Creator struct {
	store  core.Store
	engine EngineTrigger
	logger *slog.Logger
	emit   core.EmitFunc
	now    func() time.Time
}

// Option configures a Creator.
type Option func(*Creator)

// WithLogger sets the creator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Creator) { c.logger = logger }
}

// WithEmit sets the event emit function.
func WithEmit(emit core.EmitFunc) Option {
	return func(c *Creator) { c.emit = emit }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Creator) { c.now = now }
}

// New creates a Creator persisting to store and triggering through engine.
func New(store core.Store, engine EngineTrigger, opts ...Option) *Creator {
	c := &Creator{
		store:  store,
		engine: engine,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateJob allocates a fresh job id, persists the job record, and fires
// one trigger call per subtask. Trigger failures are recorded in the
// summary but do not fail the operation; only a storage failure does.
func (c *Creator) CreateJob(ctx context.Context, subtaskIDs []string, metadata map[string]string) (*Summary, error) {
	subtaskIDs = validate.Dedupe(subtaskIDs)
	if err := validate.ValidateSubtaskIDs(subtaskIDs); err != nil {
		return nil, err
	}
	if err := validate.ValidateMetadata(metadata); err != nil {
		return nil, err
	}

	now := c.now()
	job := &core.Job{
		ID:         uuid.New().String(),
		Status:     core.StatusActive,
		SubtaskIDs: subtaskIDs,
		Metadata:   metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := c.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("fanin: create job: %w", err)
	}

	summary := &Summary{JobID: job.ID}
	for _, subtaskID := range subtaskIDs {
		if err := c.engine.Trigger(ctx, job.ID, []string{subtaskID}, metadata); err != nil {
			summary.Failed++
			c.logger.Error("subtask trigger failed",
				"job_id", job.ID, "subtask_id", subtaskID, "error", err)
			continue
		}
		summary.Triggered++
	}

	if c.emit != nil {
		c.emit(&core.JobCreated{
			Job:       job,
			Triggered: summary.Triggered,
			Failed:    summary.Failed,
			Timestamp: now,
		})
	}
	c.logger.Info("job created",
		"job_id", job.ID, "subtasks", len(subtaskIDs),
		"triggered", summary.Triggered, "trigger_failures", summary.Failed)
	return summary, nil
}
