package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/anvil/internal/core/domain"
)

func TestEventBus_PubSub(t *testing.T) {
	bus := NewEventBus(testLogger())
	jobID := domain.JobID("job-123")

	ch, unsub := bus.Subscribe(jobID)
	defer unsub()

	event := Event{
		JobID:     jobID,
		Type:      EventTypeStatus,
		Data:      `{"status":"RUNNING"}`,
		Timestamp: time.Now().UnixMilli(),
	}
	bus.Publish(event)

	select {
	case received := <-ch:
		assert.Equal(t, event.JobID, received.JobID)
		assert.Equal(t, event.Data, received.Data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventBus_IsolatesJobs(t *testing.T) {
	bus := NewEventBus(testLogger())

	ch, unsub := bus.Subscribe("job-a")
	defer unsub()

	bus.Publish(Event{JobID: "job-b", Type: EventTypeStatus, Data: "other job"})
	bus.PublishJSON("job-a", EventTypePhase, map[string]any{"phase": "META"})

	select {
	case received := <-ch:
		assert.Equal(t, domain.JobID("job-a"), received.JobID)
		assert.Equal(t, EventTypePhase, received.Type)
		assert.Contains(t, received.Data, "META")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(testLogger())
	jobID := domain.JobID("job-456")

	ch, unsub := bus.Subscribe(jobID)
	unsub()

	bus.Publish(Event{JobID: jobID, Type: EventTypeMessage, Data: "should not receive"})

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewEventBus(testLogger())
	jobID := domain.JobID("job-multi")

	ch1, unsub1 := bus.Subscribe(jobID)
	defer unsub1()
	ch2, unsub2 := bus.Subscribe(jobID)
	defer unsub2()

	bus.Publish(Event{JobID: jobID, Type: EventTypeTask, Data: "broadcast"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			require.Equal(t, "broadcast", received.Data)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}
