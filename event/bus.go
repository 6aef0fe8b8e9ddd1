// Package event carries shell-to-conversation triggers such as "ask this
// suggested question" and "open this session".
package event

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

type Topic string

const (
	// TopicSuggest pre-fills and submits a question. Payload: SuggestPayload.
	TopicSuggest Topic = "suggest"
	// TopicLoadSession opens a stored session. Payload: LoadSessionPayload.
	TopicLoadSession Topic = "load_session"
)

type SuggestPayload struct {
	Question string `json:"question"`
}

type LoadSessionPayload struct {
	SessionID string `json:"sessionId"`
}

// Event is one trigger. ID identifies a delivery so receivers can drop
// repeats of the same event.
type Event struct {
	ID      string          `json:"id"`
	Topic   Topic           `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// New builds an event with a fresh ID. payload is marshaled to JSON.
func New(topic Topic, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{ID: uuid.NewString(), Topic: topic, Payload: data}, nil
}

type Handler func(Event)

// Bus delivers events synchronously to the handlers subscribed to their
// topic. Publishing to a topic nobody listens on does nothing.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[Topic]map[int]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[Topic]map[int]Handler)}
}

// Subscribe registers h for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic Topic, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[int]Handler)
	}
	b.handlers[topic][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers[topic], id)
			if len(b.handlers[topic]) == 0 {
				delete(b.handlers, topic)
			}
		})
	}
}

// Publish delivers ev and returns the number of handlers that received it.
// An event without an ID is given one.
func (b *Bus) Publish(ev Event) int {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers[ev.Topic]))
	for _, h := range b.handlers[ev.Topic] {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	if len(hs) == 0 {
		slog.Debug("event dropped, no listener", "topic", ev.Topic)
		return 0
	}
	for _, h := range hs {
		h(ev)
	}
	return len(hs)
}
