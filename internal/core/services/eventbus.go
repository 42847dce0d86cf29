package services

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/forgeworks/anvil/internal/core/domain"
)

type EventType string

const (
	EventTypeStatus  EventType = "status"
	EventTypePhase   EventType = "phase"
	EventTypeMessage EventType = "message"
	EventTypeTask    EventType = "task"
)

type Event struct {
	JobID     domain.JobID
	Type      EventType
	Data      string // JSON payload
	Timestamp int64
}

// EventBus fans job lifecycle events out to pollers (SSE handlers, tests).
// Publishing never blocks: a slow subscriber drops events, the durable
// record in the repository stays authoritative.
type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[domain.JobID][]chan Event
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[domain.JobID][]chan Event),
	}
}

// Subscribe returns a channel receiving events for one job and an
// unsubscribe func the caller must invoke when done.
func (b *EventBus) Subscribe(jobID domain.JobID) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100)
	b.subs[jobID] = append(b.subs[jobID], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subscribers := b.subs[jobID]
		for i, sub := range subscribers {
			if sub == ch {
				close(ch)
				b.subs[jobID] = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}
		if len(b.subs[jobID]) == 0 {
			delete(b.subs, jobID)
		}
	}
	return ch, unsub
}

// Publish delivers an event to every subscriber of the job.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[e.JobID] {
		select {
		case ch <- e:
		default:
			b.logger.Warn("event bus channel full, dropping event", "job_id", e.JobID, "type", e.Type)
		}
	}
}

// PublishJSON marshals data and publishes it under the given type.
func (b *EventBus) PublishJSON(jobID domain.JobID, t EventType, data map[string]any) {
	payload, err := json.Marshal(data)
	if err != nil {
		b.logger.Error("failed to marshal event payload", "job_id", jobID, "type", t, "error", err)
		return
	}
	b.Publish(Event{
		JobID:     jobID,
		Type:      t,
		Data:      string(payload),
		Timestamp: time.Now().UnixMilli(),
	})
}
