package creator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tasklab/fanin/pkg/core"
	"github.com/tasklab/fanin/pkg/storage"
)

// fakeEngine records trigger calls and fails for chosen subtask ids.
type fakeEngine struct {
	calls   [][]string
	failFor map[string]bool
}

func (e *fakeEngine) Trigger(ctx context.Context, jobID string, subtaskIDs []string, metadata map[string]string) error {
	e.calls = append(e.calls, subtaskIDs)
	for _, id := range subtaskIDs {
		if e.failFor[id] {
			return errors.New("engine unreachable")
		}
	}
	return nil
}

func TestCreateJob_PersistsAndTriggers(t *testing.T) {
	store := storage.NewMemoryStore()
	eng := &fakeEngine{}
	c := New(store, eng)

	summary, err := c.CreateJob(context.Background(), []string{"a", "b", "c"}, map[string]string{"k": "v"})
	require.NoError(t, err)

	assert.NotEmpty(t, summary.JobID)
	assert.Equal(t, 3, summary.Triggered)
	assert.Equal(t, 0, summary.Failed)
	assert.Len(t, eng.calls, 3)

	job, err := store.GetJob(context.Background(), summary.JobID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, job.Status)
	assert.Equal(t, []string{"a", "b", "c"}, job.SubtaskIDs)
	assert.Empty(t, job.Completed)
	assert.Empty(t, job.Failed)
	assert.Nil(t, job.ProcessedAt)
}

func TestCreateJob_TriggerFailuresDoNotAbort(t *testing.T) {
	store := storage.NewMemoryStore()
	eng := &fakeEngine{failFor: map[string]bool{"b": true}}
	c := New(store, eng)

	summary, err := c.CreateJob(context.Background(), []string{"a", "b", "c"}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Triggered)
	assert.Equal(t, 1, summary.Failed)
	// All three calls were attempted despite the failure in the middle.
	assert.Len(t, eng.calls, 3)

	// The job still expects all three subtasks; the untriggered one will
	// surface as a timeout or partial case.
	job, err := store.GetJob(context.Background(), summary.JobID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, job.SubtaskIDs)
}

func TestCreateJob_DedupesSubtasks(t *testing.T) {
	store := storage.NewMemoryStore()
	eng := &fakeEngine{}
	c := New(store, eng)

	summary, err := c.CreateJob(context.Background(), []string{"a", "a", "b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Triggered)

	job, err := store.GetJob(context.Background(), summary.JobID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, job.SubtaskIDs)
}

func TestCreateJob_ValidationErrors(t *testing.T) {
	c := New(storage.NewMemoryStore(), &fakeEngine{})

	_, err := c.CreateJob(context.Background(), nil, nil)
	assert.ErrorIs(t, err, core.ErrNoSubtasks)

	_, err = c.CreateJob(context.Background(), []string{"bad id"}, nil)
	assert.ErrorIs(t, err, core.ErrInvalidID)
}

type failingCreateStore struct {
	core.Store
}

func (failingCreateStore) CreateJob(ctx context.Context, job *core.Job) error {
	return core.NewStorageError("create", errors.New("disk full"))
}

func TestCreateJob_StoreFailureAborts(t *testing.T) {
	eng := &fakeEngine{}
	c := New(failingCreateStore{}, eng)

	_, err := c.CreateJob(context.Background(), []string{"a"}, nil)
	require.Error(t, err)

	var storageErr *core.StorageError
	assert.ErrorAs(t, err, &storageErr)
	// No triggers fire when the job record could not be created.
	assert.Empty(t, eng.calls)
}

func TestCreateJob_EmitsEvent(t *testing.T) {
	store := storage.NewMemoryStore()
	var events []core.Event
	c := New(store, &fakeEngine{}, WithEmit(func(e core.Event) { events = append(events, e) }),
		WithClock(func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }))

	_, err := c.CreateJob(context.Background(), []string{"a"}, nil)
	require.NoError(t, err)

	require.Len(t, events, 1)
	ev, ok := events[0].(*core.JobCreated)
	require.True(t, ok)
	assert.Equal(t, 1, ev.Triggered)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), ev.Timestamp)
}
