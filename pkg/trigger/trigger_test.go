package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tasklab/fanin/pkg/core"
	"github.com/tasklab/fanin/pkg/queue"
	"github.com/tasklab/fanin/pkg/storage"
)

func testJob(id string) *core.Job {
	return &core.Job{
		ID:       id,
		Status:   core.StatusActive,
		Metadata: map[string]string{"report": "weekly"},
	}
}

func TestSend_PublishesMessageAndAudit(t *testing.T) {
	store := storage.NewMemoryStore()
	pub := queue.NewMemoryPublisher()
	tr := New(store, pub)
	ctx := context.Background()

	require.NoError(t, tr.Send(ctx, testJob("j1"), false))

	msgs := pub.Messages(DefaultQueue)
	require.Len(t, msgs, 1)

	var msg Message
	require.NoError(t, json.Unmarshal(msgs[0], &msg))
	assert.Equal(t, "j1", msg.JobID)
	assert.Equal(t, "fan_in_trigger", msg.Type)
	assert.False(t, msg.Partial)
	assert.Equal(t, "weekly", msg.Metadata["report"])

	rec, err := store.GetTriggerRecord(ctx, "j1", DefaultQueue)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, msgs[0], rec.Message)
}

func TestSend_PartialFlag(t *testing.T) {
	store := storage.NewMemoryStore()
	pub := queue.NewMemoryPublisher()
	tr := New(store, pub)

	require.NoError(t, tr.Send(context.Background(), testJob("j1"), true))

	var msg Message
	require.NoError(t, json.Unmarshal(pub.Messages(DefaultQueue)[0], &msg))
	assert.True(t, msg.Partial)
}

func TestSend_DuplicateGuard(t *testing.T) {
	store := storage.NewMemoryStore()
	pub := queue.NewMemoryPublisher()
	tr := New(store, pub)
	ctx := context.Background()

	require.NoError(t, tr.Send(ctx, testJob("j1"), false))
	require.NoError(t, tr.Send(ctx, testJob("j1"), false))

	assert.Len(t, pub.Messages(DefaultQueue), 1)
}

type failingPublisher struct{}

func (failingPublisher) Publish(ctx context.Context, queue string, payload []byte) error {
	return errors.New("queue unreachable")
}

func TestSend_PublishFailureSurfaces(t *testing.T) {
	store := storage.NewMemoryStore()
	tr := New(store, failingPublisher{})
	ctx := context.Background()

	err := tr.Send(ctx, testJob("j1"), false)
	require.Error(t, err)

	var delivery *core.TriggerDeliveryError
	require.ErrorAs(t, err, &delivery)
	assert.Equal(t, "j1", delivery.JobID)

	// No audit record on failure, so a later retry is not blocked.
	rec, recErr := store.GetTriggerRecord(ctx, "j1", DefaultQueue)
	require.NoError(t, recErr)
	assert.Nil(t, rec)
}

func TestSend_CustomQueueAndTTL(t *testing.T) {
	store := storage.NewMemoryStore()
	pub := queue.NewMemoryPublisher()
	tr := New(store, pub, WithQueue("charts"), WithRecordTTL(time.Minute))

	require.NoError(t, tr.Send(context.Background(), testJob("j1"), false))

	assert.Equal(t, "charts", tr.Queue())
	assert.Len(t, pub.Messages("charts"), 1)
}
