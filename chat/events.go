package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/minesight/analyst/event"
)

// HandleEvent runs a shell trigger. Repeated deliveries of the same event ID
// are ignored, as are events with malformed payloads.
func (c *Controller) HandleEvent(ctx context.Context, ev event.Event) {
	if ev.ID != "" && !c.seen.add(ev.ID) {
		slog.Debug("duplicate event ignored", "id", ev.ID, "topic", ev.Topic)
		return
	}

	switch ev.Topic {
	case event.TopicSuggest:
		var p event.SuggestPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil || strings.TrimSpace(p.Question) == "" {
			slog.Debug("malformed suggest event ignored", "id", ev.ID, "error", err)
			return
		}
		if err := c.Submit(ctx, p.Question); err != nil {
			slog.Debug("suggested question not submitted", "error", err)
		}

	case event.TopicLoadSession:
		var p event.LoadSessionPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil || p.SessionID == "" {
			slog.Debug("malformed load_session event ignored", "id", ev.ID, "error", err)
			return
		}
		if p.SessionID == c.CurrentSessionID() {
			return
		}
		if err := c.LoadSession(p.SessionID); err != nil {
			slog.Warn("failed to load session from event", "sessionId", p.SessionID, "error", err)
		}

	default:
		slog.Debug("unknown event topic ignored", "topic", ev.Topic)
	}
}

// Attach subscribes the controller to the bus topics it handles and returns
// a function that detaches it.
func (c *Controller) Attach(ctx context.Context, bus *event.Bus) (detach func()) {
	handle := func(ev event.Event) { c.HandleEvent(ctx, ev) }
	unsubSuggest := bus.Subscribe(event.TopicSuggest, handle)
	unsubLoad := bus.Subscribe(event.TopicLoadSession, handle)
	return func() {
		unsubSuggest()
		unsubLoad()
	}
}

// seenSet remembers the last n event IDs.
type seenSet struct {
	mu   sync.Mutex
	ids  map[string]struct{}
	ring []string
	next int
}

func newSeenSet(n int) *seenSet {
	return &seenSet{ids: make(map[string]struct{}, n), ring: make([]string, n)}
}

// add records id and reports whether it was new.
func (s *seenSet) add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		return false
	}
	if old := s.ring[s.next]; old != "" {
		delete(s.ids, old)
	}
	s.ring[s.next] = id
	s.ids[id] = struct{}{}
	s.next = (s.next + 1) % len(s.ring)
	return true
}
