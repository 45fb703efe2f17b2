package core

import (
	"context"
	"time"
)

// Store defines the persistence layer for jobs and trigger records.
//
// UpdateJob is a read-modify-write sequence, not an atomic compare-and-swap;
// implementations without transactional backends are last-writer-wins.
// Mutators must therefore be idempotent set-union operations so concurrent
// or replayed updates converge.
type Store interface {
	// CreateJob persists a new job. Returns ErrJobExists on id collision.
	CreateJob(ctx context.Context, job *Job) error

	// GetJob returns the job or ErrJobNotFound.
	GetJob(ctx context.Context, id string) (*Job, error)

	// UpdateJob reads the job, applies mutate, and writes it back. The
	// mutator returning an error aborts the write. Returns the stored job.
	UpdateJob(ctx context.Context, id string, mutate func(*Job) error) (*Job, error)

	// ListActiveJobs returns non-terminal jobs, oldest first, capped at limit.
	ListActiveJobs(ctx context.Context, limit int) ([]*Job, error)

	// PutTriggerRecord writes the audit record, expiring after ttl.
	PutTriggerRecord(ctx context.Context, rec *TriggerRecord, ttl time.Duration) error

	// GetTriggerRecord returns the audit record for (jobID, queue), or
	// nil if absent or expired.
	GetTriggerRecord(ctx context.Context, jobID, queue string) (*TriggerRecord, error)

	// GetConfigOverride returns the runtime config override record, or
	// nil if none is set.
	GetConfigOverride(ctx context.Context) (map[string]any, error)

	// PutConfigOverride replaces the runtime config override record.
	PutConfigOverride(ctx context.Context, values map[string]any) error
}

// Publisher sends messages to a named downstream queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, payload []byte) error
}
