package provisr

import (
	"sync"

	"github.com/google/uuid"
)

type EventType string

const (
	EventReady          EventType = "ready"
	EventRequestCreated EventType = "request_created"
	EventRequestUpdated EventType = "request_updated"
)

// Event carries the full current record. Delivery is best-effort and not
// persisted; an observer that connects late can only catch up by polling
// the store.
type Event struct {
	ID      string    `json:"eventId"`
	Type    EventType `json:"type"`
	Request Request   `json:"request"`
}

// EventBus fans every published record out to the currently connected
// subscribers. A subscriber whose buffer is full misses the event rather
// than stalling the publisher.
type EventBus struct {
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: map[chan Event]struct{}{}}
}

func (b *EventBus) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *EventBus) Publish(eventType EventType, req Request) {
	event := Event{
		ID:      uuid.NewString(),
		Type:    eventType,
		Request: req,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
