// Package events provides the in-process event hub feeding the control
// API's SSE stream and any other observers. Publishing never blocks the
// trading path: slow subscribers lose events rather than applying
// backpressure.
package events

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Event is a broadcastable backend event. Type is always present; Fields
// carries the event-specific payload.
type Event struct {
	Type   string
	Fields map[string]any
}

// New creates an event with the given type and payload fields.
func New(eventType string, fields map[string]any) Event {
	if fields == nil {
		fields = map[string]any{}
	}
	return Event{Type: eventType, Fields: fields}
}

// MarshalJSON flattens the event into a single object with a "type" key,
// matching the wire shape SSE consumers expect.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["type"] = e.Type
	return json.Marshal(out)
}

// Hub fans events out to subscribers.
type Hub struct {
	logger *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

// subscriberBuffer is the per-subscriber queue depth. A subscriber that
// falls this far behind starts losing events.
const subscriberBuffer = 256

// NewHub creates an event hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		subs:   make(map[int]chan Event),
	}
}

// Subscribe registers a new subscriber and returns its event channel and
// an unsubscribe function. The channel is closed on unsubscribe.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++

	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to all subscribers without blocking.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.logger.Warn("event subscriber lagging, dropping event",
				"subscriber", id,
				"event_type", e.Type,
			)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
