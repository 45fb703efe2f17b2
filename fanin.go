// Package fanin tracks jobs fanned out to an external task engine,
// aggregates asynchronous subtask completion reports, and triggers
// downstream work exactly once when a job completes or times out.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	// Create storage and downstream queue
//	db, _ := gorm.Open(sqlite.Open("fanin.db"), &gorm.Config{})
//	store := fanin.NewGormStore(db)
//	store.Migrate(context.Background())
//	pub := fanin.NewMemoryPublisher()
//
//	// Create a job fanned out to an engine webhook
//	engine := fanin.NewEngineClient("https://engine.example.com/trigger")
//	creator := fanin.NewCreator(store, engine)
//	summary, _ := creator.CreateJob(ctx, []string{"task-1", "task-2"}, nil)
//
//	// Record reports as the engine calls back
//	reporter := fanin.NewReporter(store)
//	reporter.ReportSuccess(ctx, summary.JobID, "task-1", time.Now())
//
//	// Run the monitor loop
//	mon := fanin.NewMonitor(store, fanin.NewResolver(store), fanin.NewTrigger(store, pub))
//	runner := fanin.NewRunner(mon)
//	runner.Start(ctx)
package fanin

import (
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"github.com/tasklab/fanin/pkg/core"
	"github.com/tasklab/fanin/pkg/creator"
	"github.com/tasklab/fanin/pkg/engine"
	"github.com/tasklab/fanin/pkg/monitor"
	"github.com/tasklab/fanin/pkg/policy"
	"github.com/tasklab/fanin/pkg/queue"
	"github.com/tasklab/fanin/pkg/report"
	"github.com/tasklab/fanin/pkg/schedule"
	"github.com/tasklab/fanin/pkg/storage"
	"github.com/tasklab/fanin/pkg/trigger"
	"github.com/tasklab/fanin/pkg/validate"
)

// Type aliases for the public API surface.
type (
	// Job is one fan-in job record.
	Job = core.Job

	// JobStatus is the lifecycle state of a job.
	JobStatus = core.JobStatus

	// SubtaskFailure is the normalized failure summary for one subtask.
	SubtaskFailure = core.SubtaskFailure

	// TriggerRecord is the audit record of a sent downstream message.
	TriggerRecord = core.TriggerRecord

	// Store is the persistence layer for jobs, trigger records, and the
	// runtime config override.
	Store = core.Store

	// Publisher delivers downstream messages to a named queue.
	Publisher = core.Publisher

	// Event is the interface for all emitted events.
	Event = core.Event

	// JobCreated is emitted when a job is created.
	JobCreated = core.JobCreated

	// SubtaskReported is emitted when a subtask report is recorded.
	SubtaskReported = core.SubtaskReported

	// JobFinalized is emitted when the monitor finalizes a job.
	JobFinalized = core.JobFinalized

	// TriggerSent is emitted when a downstream message is published.
	TriggerSent = core.TriggerSent

	// EventBus fans events out to subscriber channels.
	EventBus = core.EventBus

	// StorageError wraps a failure in a storage backend.
	StorageError = core.StorageError

	// TriggerDeliveryError wraps a failed downstream publish.
	TriggerDeliveryError = core.TriggerDeliveryError

	// Creator creates jobs and fires per-subtask engine triggers.
	Creator = creator.Creator

	// Summary is the result of a CreateJob call.
	Summary = creator.Summary

	// Reporter applies inbound subtask status reports.
	Reporter = report.Reporter

	// Monitor finalizes jobs on each tick.
	Monitor = monitor.Monitor

	// TickSummary reports what one monitor tick did.
	TickSummary = monitor.TickSummary

	// Runner drives the monitor from a schedule.
	Runner = monitor.Runner

	// Trigger sends downstream messages with a duplicate guard.
	Trigger = trigger.Trigger

	// Message is the downstream message payload.
	Message = trigger.Message

	// EngineClient posts subtask trigger calls to the engine webhook.
	EngineClient = engine.Client

	// Config is the effective fan-in policy configuration.
	Config = policy.Config

	// Layer is one policy override layer.
	Layer = policy.Layer

	// Resolver resolves the effective policy configuration.
	Resolver = policy.Resolver

	// Schedule defines when the next monitor tick runs.
	Schedule = schedule.Schedule

	// MemoryStore is the in-memory Store.
	MemoryStore = storage.MemoryStore

	// GormStore is the GORM-backed Store.
	GormStore = storage.GormStore

	// RedisStore is the Redis-backed Store.
	RedisStore = storage.RedisStore
)

// Status constants.
const (
	StatusActive   = core.StatusActive
	StatusComplete = core.StatusComplete
	StatusPartial  = core.StatusPartial
	StatusTimeout  = core.StatusTimeout
	StatusFailed   = core.StatusFailed
)

// Validation limits.
const (
	MaxIDLength           = validate.MaxIDLength
	MaxSubtasksPerJob     = validate.MaxSubtasksPerJob
	MaxErrorMessageLength = validate.MaxErrorMessageLength
	MaxRetryCount         = validate.MaxRetryCount
	MaxMetadataSize       = validate.MaxMetadataSize
)

// Error variables.
var (
	ErrJobExists        = core.ErrJobExists
	ErrJobNotFound      = core.ErrJobNotFound
	ErrJobFinalized     = core.ErrJobFinalized
	ErrEmptyJobID       = core.ErrEmptyJobID
	ErrEmptySubtaskID   = core.ErrEmptySubtaskID
	ErrNoSubtasks       = core.ErrNoSubtasks
	ErrTooManySubtasks  = core.ErrTooManySubtasks
	ErrInvalidID        = core.ErrInvalidID
	ErrIDTooLong        = core.ErrIDTooLong
	ErrMetadataTooLarge = core.ErrMetadataTooLarge
)

// NewEventBus creates an event bus. Pass its Emit method to the
// components' WithEmit options to observe the orchestration lifecycle.
func NewEventBus() *EventBus {
	return core.NewEventBus()
}

// NewMemoryStore creates an in-memory store for tests and embedding.
func NewMemoryStore() *MemoryStore {
	return storage.NewMemoryStore()
}

// NewGormStore creates a GORM-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return storage.NewGormStore(db)
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(cli *redis.Client) *RedisStore {
	return storage.NewRedisStore(cli)
}

// NewRedisPublisher creates a publisher delivering to Redis streams.
func NewRedisPublisher(cli *redis.Client) *queue.RedisPublisher {
	return queue.NewRedisPublisher(cli)
}

// NewMemoryPublisher creates an in-memory publisher for tests and embedding.
func NewMemoryPublisher() *queue.MemoryPublisher {
	return queue.NewMemoryPublisher()
}

// NewCreator creates a job creator.
func NewCreator(store Store, eng creator.EngineTrigger, opts ...creator.Option) *Creator {
	return creator.New(store, eng, opts...)
}

// NewReporter creates a report handler.
func NewReporter(store Store, opts ...report.Option) *Reporter {
	return report.NewReporter(store, opts...)
}

// NewTrigger creates a downstream trigger.
func NewTrigger(store Store, pub Publisher, opts ...trigger.Option) *Trigger {
	return trigger.New(store, pub, opts...)
}

// NewResolver creates a policy resolver.
func NewResolver(store Store, opts ...policy.ResolverOption) *Resolver {
	return policy.NewResolver(store, opts...)
}

// NewMonitor creates a job monitor.
func NewMonitor(store Store, resolver *Resolver, sender monitor.DownstreamSender, opts ...monitor.Option) *Monitor {
	return monitor.New(store, resolver, sender, opts...)
}

// NewRunner creates a runner driving the monitor on a schedule.
func NewRunner(m *Monitor, opts ...monitor.RunnerOption) *Runner {
	return monitor.NewRunner(m, opts...)
}

// NewEngineClient creates a webhook client for the external task engine.
func NewEngineClient(webhookURL string, opts ...engine.Option) *EngineClient {
	return engine.NewClient(webhookURL, opts...)
}

// DefaultConfig returns the built-in policy configuration.
func DefaultConfig() Config {
	return policy.Default()
}

// Every returns a fixed-interval schedule.
func Every(d time.Duration) Schedule {
	return schedule.Every(d)
}
