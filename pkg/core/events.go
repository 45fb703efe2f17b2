package core

import (
	"sync"
	"time"
)

// Event is the interface for all orchestration events.
type Event interface {
	eventMarker()
}

// JobCreated is emitted when a job is created and its subtask triggers
// have been dispatched.
type JobCreated struct {
	Job       *Job
	Triggered int
	Failed    int
	Timestamp time.Time
}

func (*JobCreated) eventMarker() {}

// SubtaskReported is emitted when a subtask report is applied to a job.
type SubtaskReported struct {
	JobID     string
	SubtaskID string
	Success   bool
	Timestamp time.Time
}

func (*SubtaskReported) eventMarker() {}

// JobFinalized is emitted when the monitor moves a job to a terminal state.
type JobFinalized struct {
	Job       *Job
	Status    JobStatus
	Timestamp time.Time
}

func (*JobFinalized) eventMarker() {}

// TriggerSent is emitted when a downstream message is published.
type TriggerSent struct {
	JobID     string
	Queue     string
	Partial   bool
	Timestamp time.Time
}

func (*TriggerSent) eventMarker() {}

// EmitFunc receives events from components. Implementations must not block.
type EmitFunc func(Event)

// EventBus fans events out to subscriber channels. Emit never blocks:
// events are dropped for subscribers that fall behind.
type EventBus struct {
	mu   sync.RWMutex
	subs []chan Event
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe returns a channel for receiving events.
// The caller must call Unsubscribe when done to prevent resource leaks.
func (b *EventBus) Subscribe() <-chan Event {
	ch := make(chan Event, 100)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Subscribe().
// The channel is not closed — callers must stop reading before calling
// Unsubscribe. After Unsubscribe returns, no further events are sent.
func (b *EventBus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Emit delivers e to all subscribers, dropping for slow consumers.
func (b *EventBus) Emit(e Event) {
	b.mu.RLock()
	subs := make([]chan Event, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			// Drop if full - this prevents blocking on slow consumers
		}
	}
}
