package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tasklab/fanin/pkg/core"
	"github.com/tasklab/fanin/pkg/policy"
	"github.com/tasklab/fanin/pkg/queue"
	"github.com/tasklab/fanin/pkg/storage"
	"github.com/tasklab/fanin/pkg/trigger"
)

// newTestMonitor wires a monitor over a memory store and memory publisher.
func newTestMonitor(t *testing.T) (*Monitor, *storage.MemoryStore, *queue.MemoryPublisher) {
	t.Helper()
	store := storage.NewMemoryStore()
	pub := queue.NewMemoryPublisher()
	tr := trigger.New(store, pub)
	m := New(store, policy.NewResolver(store), tr)
	return m, store, pub
}

func seedJob(t *testing.T, store core.Store, id string, age time.Duration, subtasks, completed []string) {
	t.Helper()
	now := time.Now()
	require.NoError(t, store.CreateJob(context.Background(), &core.Job{
		ID:         id,
		Status:     core.StatusActive,
		SubtaskIDs: subtasks,
		Completed:  completed,
		CreatedAt:  now.Add(-age),
		UpdatedAt:  now.Add(-age),
	}))
}

func TestTick_CompletesFinishedJob(t *testing.T) {
	m, store, pub := newTestMonitor(t)
	ctx := context.Background()
	seedJob(t, store, "j1", 10*time.Minute, []string{"a", "b"}, []string{"a", "b"})

	summary, err := m.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)

	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusComplete, job.Status)
	require.NotNil(t, job.ProcessedAt)
	assert.NotEmpty(t, job.ProcessingNote)

	msgs := pub.Messages(trigger.DefaultQueue)
	require.Len(t, msgs, 1)
	assert.Contains(t, string(msgs[0]), `"partial":false`)
}

func TestTick_PartialAboveThreshold(t *testing.T) {
	m, store, pub := newTestMonitor(t)
	ctx := context.Background()
	// 45 minutes old, timeout 30m, 2 of 3 done (66.7% >= 50%).
	seedJob(t, store, "j1", 45*time.Minute, []string{"a", "b", "c"}, []string{"a", "b"})

	summary, err := m.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Partial)

	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusPartial, job.Status)

	msgs := pub.Messages(trigger.DefaultQueue)
	require.Len(t, msgs, 1)
	assert.Contains(t, string(msgs[0]), `"partial":true`)
}

func TestTick_HardTimeoutBelowThreshold(t *testing.T) {
	m, store, pub := newTestMonitor(t)
	ctx := context.Background()
	// 45 minutes old, 1 of 3 done (33.3% < 50%).
	seedJob(t, store, "j1", 45*time.Minute, []string{"a", "b", "c"}, []string{"a"})

	summary, err := m.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TimedOut)

	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusTimeout, job.Status)
	require.NotNil(t, job.ProcessedAt)

	// No downstream message for a hard timeout.
	assert.Empty(t, pub.Messages(trigger.DefaultQueue))
}

func TestTick_StillRunningJobUntouched(t *testing.T) {
	m, store, pub := newTestMonitor(t)
	ctx := context.Background()
	seedJob(t, store, "j1", 10*time.Minute, []string{"a", "b", "c"}, []string{"a"})

	before, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)

	summary, err := m.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Evaluated)
	assert.Zero(t, summary.Completed+summary.Partial+summary.TimedOut)

	after, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, after.Status)
	assert.Nil(t, after.ProcessedAt)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Empty(t, pub.Messages(trigger.DefaultQueue))
}

func TestTick_BatchIsolation(t *testing.T) {
	m, store, pub := newTestMonitor(t)
	ctx := context.Background()

	seedJob(t, store, "j-complete", 10*time.Minute, []string{"a"}, []string{"a"})
	seedJob(t, store, "j-active", 5*time.Minute, []string{"a", "b"}, []string{"a"})
	seedJob(t, store, "j-partial", 45*time.Minute, []string{"a", "b"}, []string{"a"})

	summary, err := m.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Evaluated)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 1, summary.Partial)

	// Exactly two downstream messages, for the right jobs.
	msgs := pub.Messages(trigger.DefaultQueue)
	require.Len(t, msgs, 2)
	all := string(msgs[0]) + string(msgs[1])
	assert.Contains(t, all, "j-complete")
	assert.Contains(t, all, "j-partial")
	assert.NotContains(t, all, "j-active")

	active, err := store.GetJob(ctx, "j-active")
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, active.Status)
}

func TestTick_ExactlyOnceTrigger(t *testing.T) {
	m, store, pub := newTestMonitor(t)
	ctx := context.Background()
	seedJob(t, store, "j1", 10*time.Minute, []string{"a"}, []string{"a"})

	_, err := m.Tick(ctx)
	require.NoError(t, err)
	_, err = m.Tick(ctx)
	require.NoError(t, err)

	assert.Len(t, pub.Messages(trigger.DefaultQueue), 1)
}

func TestTick_DuplicateGuardAcrossOverlappingTicks(t *testing.T) {
	// A job already sent downstream but whose status write was lost must
	// not produce a second message.
	m, store, pub := newTestMonitor(t)
	ctx := context.Background()
	seedJob(t, store, "j1", 10*time.Minute, []string{"a"}, []string{"a"})

	tr := trigger.New(store, pub)
	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.NoError(t, tr.Send(ctx, job, false))

	_, err = m.Tick(ctx)
	require.NoError(t, err)

	assert.Len(t, pub.Messages(trigger.DefaultQueue), 1)
	got, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusComplete, got.Status)
}

// flakySender fails for selected job ids.
type flakySender struct {
	failFor map[string]bool
	sent    []string
}

func (s *flakySender) Send(ctx context.Context, job *core.Job, partial bool) error {
	if s.failFor[job.ID] {
		return &core.TriggerDeliveryError{JobID: job.ID, Queue: "q", Err: errors.New("queue down")}
	}
	s.sent = append(s.sent, job.ID)
	return nil
}

func TestTick_SendFailureLeavesJobActive(t *testing.T) {
	store := storage.NewMemoryStore()
	sender := &flakySender{failFor: map[string]bool{"j1": true}}
	m := New(store, policy.NewResolver(store), sender)
	ctx := context.Background()
	seedJob(t, store, "j1", 10*time.Minute, []string{"a"}, []string{"a"})

	summary, err := m.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errors)

	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, job.Status)
	assert.Nil(t, job.ProcessedAt)

	// Queue recovers; the next tick delivers and finalizes.
	sender.failFor = nil
	_, err = m.Tick(ctx)
	require.NoError(t, err)

	job, err = store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusComplete, job.Status)
	assert.Equal(t, []string{"j1"}, sender.sent)
}

func TestTick_OneBadJobDoesNotStopTheBatch(t *testing.T) {
	store := storage.NewMemoryStore()
	sender := &flakySender{failFor: map[string]bool{"j-bad": true}}
	m := New(store, policy.NewResolver(store), sender)
	ctx := context.Background()

	seedJob(t, store, "j-bad", 10*time.Minute, []string{"a"}, []string{"a"})
	seedJob(t, store, "j-good", 10*time.Minute, []string{"a"}, []string{"a"})

	summary, err := m.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 1, summary.Completed)
	assert.Contains(t, sender.sent, "j-good")
}

func TestTick_RespectsMaxJobsPerCycle(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.PutConfigOverride(context.Background(), map[string]any{
		"maxJobsPerCycle": float64(1),
	}))
	pub := queue.NewMemoryPublisher()
	m := New(store, policy.NewResolver(store), trigger.New(store, pub))
	ctx := context.Background()

	seedJob(t, store, "j1", 10*time.Minute, []string{"a"}, []string{"a"})
	seedJob(t, store, "j2", 5*time.Minute, []string{"a"}, []string{"a"})

	summary, err := m.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Evaluated)
}

func TestTick_UsesRuntimeTimeoutOverride(t *testing.T) {
	m, store, pub := newTestMonitor(t)
	ctx := context.Background()
	// 45 minutes old: timed out under the default 30m, but a runtime
	// override extends the timeout to 2 hours.
	require.NoError(t, store.PutConfigOverride(ctx, map[string]any{
		"jobTimeoutMinutes": float64(120),
	}))
	seedJob(t, store, "j1", 45*time.Minute, []string{"a", "b"}, []string{"a"})

	summary, err := m.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.TimedOut+summary.Partial)

	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, job.Status)
	assert.Empty(t, pub.Messages(trigger.DefaultQueue))
}

func TestTick_ListFailureFailsTick(t *testing.T) {
	store := &failingListStore{Store: storage.NewMemoryStore()}
	m := New(store, policy.NewResolver(store), &flakySender{})

	_, err := m.Tick(context.Background())
	require.Error(t, err)
}

type failingListStore struct {
	core.Store
}

func (s *failingListStore) ListActiveJobs(ctx context.Context, limit int) ([]*core.Job, error) {
	return nil, core.NewStorageError("list", errors.New("connection refused"))
}

func TestTick_EmitsFinalizedEvents(t *testing.T) {
	store := storage.NewMemoryStore()
	pub := queue.NewMemoryPublisher()
	var events []core.Event
	m := New(store, policy.NewResolver(store), trigger.New(store, pub),
		WithEmit(func(e core.Event) { events = append(events, e) }))
	ctx := context.Background()
	seedJob(t, store, "j1", 10*time.Minute, []string{"a"}, []string{"a"})

	_, err := m.Tick(ctx)
	require.NoError(t, err)

	require.Len(t, events, 1)
	ev, ok := events[0].(*core.JobFinalized)
	require.True(t, ok)
	assert.Equal(t, core.StatusComplete, ev.Status)
	assert.Equal(t, "j1", ev.Job.ID)
}
