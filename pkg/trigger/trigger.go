// Package trigger sends the single downstream message for a finalized job
// and writes the audit record.
package trigger

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/tasklab/fanin/pkg/core"
)

// Message is the downstream queue payload.
type Message struct {
	JobID     string            `json:"jobId"`
	Timestamp time.Time         `json:"timestamp"`
	Type      string            `json:"type"`
	Partial   bool              `json:"partial"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// messageType identifies the downstream message on the wire.
const messageType = "fan_in_trigger"

// DefaultQueue is the downstream queue name.
const DefaultQueue = "fan-in"

// DefaultRecordTTL bounds how long audit records are kept. They exist for
// debugging and best-effort duplicate detection, not correctness.
const DefaultRecordTTL = 7 * 24 * time.Hour

// Trigger publishes downstream messages with a read-before-send duplicate
// guard backed by the audit record.
type Trigger struct {
	store     core.Store
	publisher core.Publisher
	queue     string
	ttl       time.Duration
	logger    *slog.Logger
	emit      core.EmitFunc
	now       func() time.Time
}

// Option configures a Trigger.
type Option func(*Trigger)

// WithQueue sets the downstream queue name.
func WithQueue(name string) Option {
	return func(t *Trigger) { t.queue = name }
}

// WithRecordTTL sets the audit record TTL.
func WithRecordTTL(ttl time.Duration) Option {
	return func(t *Trigger) { t.ttl = ttl }
}

// WithLogger sets the trigger logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Trigger) { t.logger = logger }
}

// WithEmit sets the event emit function.
func WithEmit(emit core.EmitFunc) Option {
	return func(t *Trigger) { t.emit = emit }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Trigger) { t.now = now }
}

// New creates a Trigger publishing through publisher and auditing in store.
func New(store core.Store, publisher core.Publisher, opts ...Option) *Trigger {
	t := &Trigger{
		store:     store,
		publisher: publisher,
		queue:     DefaultQueue,
		ttl:       DefaultRecordTTL,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Queue returns the downstream queue name.
func (t *Trigger) Queue() string {
	return t.queue
}

// Send publishes the downstream message for job. An existing audit record
// makes the call a no-op, guarding against a duplicate send when two ticks
// overlap. A publish failure is returned as a TriggerDeliveryError so the
// caller leaves the job non-terminal and retries on a later tick; an audit
// write failure is log-only.
func (t *Trigger) Send(ctx context.Context, job *core.Job, partial bool) error {
	rec, err := t.store.GetTriggerRecord(ctx, job.ID, t.queue)
	if err != nil {
		// The guard is best-effort; a read failure must not block delivery.
		t.logger.Warn("trigger record read failed, sending without guard",
			"job_id", job.ID, "error", err)
	}
	if rec != nil {
		t.logger.Info("downstream message already sent, skipping",
			"job_id", job.ID, "queue", t.queue, "sent_at", rec.SentAt)
		return nil
	}

	now := t.now()
	payload, err := json.Marshal(Message{
		JobID:     job.ID,
		Timestamp: now,
		Type:      messageType,
		Partial:   partial,
		Metadata:  job.Metadata,
	})
	if err != nil {
		return &core.TriggerDeliveryError{JobID: job.ID, Queue: t.queue, Err: err}
	}

	if err := t.publisher.Publish(ctx, t.queue, payload); err != nil {
		return &core.TriggerDeliveryError{JobID: job.ID, Queue: t.queue, Err: err}
	}

	record := &core.TriggerRecord{
		JobID:   job.ID,
		Queue:   t.queue,
		Message: payload,
		SentAt:  now,
	}
	if err := t.store.PutTriggerRecord(ctx, record, t.ttl); err != nil {
		t.logger.Warn("audit record write failed", "job_id", job.ID, "error", err)
	}

	if t.emit != nil {
		t.emit(&core.TriggerSent{JobID: job.ID, Queue: t.queue, Partial: partial, Timestamp: now})
	}
	t.logger.Info("downstream trigger sent", "job_id", job.ID, "queue", t.queue, "partial", partial)
	return nil
}
