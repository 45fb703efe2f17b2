// Package report applies inbound subtask status reports to job records.
//
// Reports arrive concurrently, in any order, possibly more than once per
// subtask. All mutations are idempotent set unions, and the reporter writes
// only the Completed and Failed sets: deciding the overall job status is
// the monitor's job, never done here from a single partial view.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tasklab/fanin/pkg/core"
	"github.com/tasklab/fanin/pkg/validate"
)

// Reporter is the inbound side of the external engine callback.
type Reporter struct {
	store  core.Store
	logger *slog.Logger
	emit   core.EmitFunc
	now    func() time.Time
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithLogger sets the reporter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reporter) { r.logger = logger }
}

// WithEmit sets the event emit function.
func WithEmit(emit core.EmitFunc) Option {
	return func(r *Reporter) { r.emit = emit }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) { r.now = now }
}

// NewReporter creates a reporter writing to store.
func NewReporter(store core.Store, opts ...Option) *Reporter {
	r := &Reporter{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReportSuccess records a successful subtask. Duplicate reports are no-ops;
// a success supersedes any earlier failure report for the same subtask.
// If the job record is missing, a stub job is created so the report is
// never lost.
func (r *Reporter) ReportSuccess(ctx context.Context, jobID, subtaskID string, at time.Time) error {
	if err := validate.ValidateJobID(jobID); err != nil {
		return err
	}
	if err := validate.ValidateSubtaskID(subtaskID); err != nil {
		return err
	}
	if at.IsZero() {
		at = r.now()
	}

	_, err := r.store.UpdateJob(ctx, jobID, func(j *core.Job) error {
		return applySuccess(j, subtaskID)
	})
	if errors.Is(err, core.ErrJobNotFound) {
		return r.createStub(ctx, jobID, []string{subtaskID}, nil)
	}
	if err != nil {
		return err
	}

	r.emitEvent(&core.SubtaskReported{JobID: jobID, SubtaskID: subtaskID, Success: true, Timestamp: at})
	r.logger.Debug("subtask success recorded", "job_id", jobID, "subtask_id", subtaskID)
	return nil
}

// ReportFailure records a failure for one or more subtasks. The raw error
// payload may be any shape; it is normalized before storage. When no
// subtask ids are given the failure applies to every subtask that has not
// yet reported success. If the job record is missing, a stub job is
// created carrying the failure.
func (r *Reporter) ReportFailure(ctx context.Context, jobID string, subtaskIDs []string, raw any, retryCount int) error {
	if err := validate.ValidateJobID(jobID); err != nil {
		return err
	}
	subtaskIDs = validate.Dedupe(subtaskIDs)
	for _, id := range subtaskIDs {
		if err := validate.ValidateSubtaskID(id); err != nil {
			return err
		}
	}

	failure := NormalizeError(raw, retryCount, r.now())

	var applied []string
	_, err := r.store.UpdateJob(ctx, jobID, func(j *core.Job) error {
		targets := subtaskIDs
		if len(targets) == 0 {
			targets = pendingSubtasks(j)
		}
		for _, id := range targets {
			if err := applyFailure(j, id, failure); err != nil {
				return err
			}
		}
		applied = targets
		return nil
	})
	if errors.Is(err, core.ErrJobNotFound) {
		return r.createStub(ctx, jobID, subtaskIDs, &failure)
	}
	if err != nil {
		return err
	}

	for _, id := range applied {
		r.emitEvent(&core.SubtaskReported{JobID: jobID, SubtaskID: id, Success: false, Timestamp: failure.FailedAt})
	}
	r.logger.Debug("subtask failure recorded",
		"job_id", jobID, "subtask_ids", applied, "message", failure.Message)
	return nil
}

// applySuccess mutates j for a success report. Finalized jobs ignore late
// reports; stub jobs keep absorbing them so no data is dropped.
func applySuccess(j *core.Job, subtaskID string) error {
	if j.Status.Terminal() && j.Status != core.StatusFailed {
		return nil
	}
	if !j.HasSubtask(subtaskID) {
		if j.Status != core.StatusFailed {
			return fmt.Errorf("%w: subtask %s not part of job %s", core.ErrInvalidID, subtaskID, j.ID)
		}
		j.SubtaskIDs = append(j.SubtaskIDs, subtaskID)
	}
	j.MarkCompleted(subtaskID)
	return nil
}

func applyFailure(j *core.Job, subtaskID string, failure core.SubtaskFailure) error {
	if j.Status.Terminal() && j.Status != core.StatusFailed {
		return nil
	}
	if !j.HasSubtask(subtaskID) {
		if j.Status != core.StatusFailed {
			return fmt.Errorf("%w: subtask %s not part of job %s", core.ErrInvalidID, subtaskID, j.ID)
		}
		j.SubtaskIDs = append(j.SubtaskIDs, subtaskID)
	}
	j.MarkFailed(subtaskID, failure)
	return nil
}

// pendingSubtasks returns subtasks with no recorded success.
func pendingSubtasks(j *core.Job) []string {
	pending := make([]string, 0, len(j.SubtaskIDs))
	for _, id := range j.SubtaskIDs {
		if !j.IsCompleted(id) {
			pending = append(pending, id)
		}
	}
	return pending
}

// orphanSubtaskKey attributes a failure report that names no subtasks, so
// the normalized summary is kept even without an id to file it under.
const orphanSubtaskKey = "unattributed"

// createStub persists a minimal job for a report referencing an unknown
// job id. The stub is terminal (failed) so the monitor never triggers
// downstream work for it, but the reported data is preserved.
func (r *Reporter) createStub(ctx context.Context, jobID string, subtaskIDs []string, failure *core.SubtaskFailure) error {
	ids := subtaskIDs
	if failure != nil && len(ids) == 0 {
		ids = []string{orphanSubtaskKey}
	}

	now := r.now()
	stub := &core.Job{
		ID:             jobID,
		Status:         core.StatusFailed,
		SubtaskIDs:     append([]string(nil), ids...),
		CreatedAt:      now,
		UpdatedAt:      now,
		ProcessedAt:    &now,
		ProcessingNote: "stub created for report referencing unknown job",
	}
	if failure != nil {
		stub.Failed = make(map[string]core.SubtaskFailure, len(ids))
		for _, id := range ids {
			stub.Failed[id] = *failure
		}
	} else {
		stub.Completed = append([]string(nil), ids...)
	}

	err := r.store.CreateJob(ctx, stub)
	if errors.Is(err, core.ErrJobExists) {
		// Lost the race with another report; replay against the stored job.
		_, err = r.store.UpdateJob(ctx, jobID, func(j *core.Job) error {
			for _, id := range ids {
				if failure != nil {
					if err := applyFailure(j, id, *failure); err != nil {
						return err
					}
				} else if err := applySuccess(j, id); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err != nil {
		return err
	}

	r.logger.Warn("report for unknown job, stub record created",
		"job_id", jobID, "subtask_ids", ids, "failure", failure != nil)
	return nil
}

func (r *Reporter) emitEvent(e core.Event) {
	if r.emit != nil {
		r.emit(e)
	}
}
