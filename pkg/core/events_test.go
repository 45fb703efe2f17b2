package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_SubscribeReceivesEvents(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	bus.Emit(&SubtaskReported{JobID: "j1", SubtaskID: "a", Success: true})

	select {
	case e := <-ch:
		reported, ok := e.(*SubtaskReported)
		require.True(t, ok)
		assert.Equal(t, "j1", reported.JobID)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	a := bus.Subscribe()
	b := bus.Subscribe()
	defer bus.Unsubscribe(a)
	defer bus.Unsubscribe(b)

	bus.Emit(&TriggerSent{JobID: "j1", Queue: "fan-in"})

	assert.Len(t, a, 1)
	assert.Len(t, b, 1)
}

func TestEventBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	bus.Emit(&JobFinalized{Status: StatusComplete})
	assert.Empty(t, ch)
}

func TestEventBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	// Fill past the buffer; Emit must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			bus.Emit(&SubtaskReported{JobID: "j1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a slow subscriber")
	}
	assert.Len(t, ch, 100)
}
