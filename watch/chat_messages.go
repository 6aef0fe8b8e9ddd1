package watch

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/minesight/analyst/chart"
	"github.com/minesight/analyst/session"
)

// SurfaceMounter makes chart surfaces available before charts are drawn
// and releases them once no message refers to them.
type SurfaceMounter interface {
	Mount(surfaceID string)
	Unmount(surfaceID string)
}

// ChatMessagesWatcher is the view of one conversation controller. It mounts
// chart surfaces for new messages and pushes the message list to subscribers.
type ChatMessagesWatcher struct {
	*BaseWatcher
	surfaces SurfaceMounter

	mu       sync.RWMutex
	messages []session.Message
	mounted  map[string]struct{}
}

var _ Watcher = (*ChatMessagesWatcher)(nil)

func NewChatMessagesWatcher(surfaces SurfaceMounter) *ChatMessagesWatcher {
	return &ChatMessagesWatcher{
		BaseWatcher: NewBaseWatcher("cm"),
		surfaces:    surfaces,
		mounted:     make(map[string]struct{}),
	}
}

// Start is a no-op; notifications are pushed by the controller.
func (w *ChatMessagesWatcher) Start() error { return nil }

func (w *ChatMessagesWatcher) Stop() { w.Cancel() }

// MessagesChanged mounts a surface for every chart in msgs and unmounts
// surfaces of messages no longer in the list, then notifies subscribers
// with the full list.
func (w *ChatMessagesWatcher) MessagesChanged(msgs []session.Message) {
	w.mu.Lock()
	w.messages = slices.Clone(msgs)
	if w.surfaces != nil {
		w.syncSurfacesLocked(msgs)
	}
	w.mu.Unlock()

	if !w.HasSubscriptions() {
		return
	}
	w.NotifyAll("chat.messages.changed", func(sub *Subscription) any {
		return chatMessagesChangedParams{ID: sub.ID, Messages: msgs}
	})
	slog.Debug("notified chat messages change", "messages", len(msgs))
}

func (w *ChatMessagesWatcher) syncSurfacesLocked(msgs []session.Message) {
	wanted := make(map[string]struct{})
	for i, msg := range msgs {
		if !msg.Visualizations.HasCharts() {
			continue
		}
		for name := range msg.Visualizations.Charts {
			wanted[chart.SurfaceID(i, name)] = struct{}{}
		}
	}

	for id := range w.mounted {
		if _, ok := wanted[id]; !ok {
			w.surfaces.Unmount(id)
			delete(w.mounted, id)
		}
	}
	for id := range wanted {
		if _, ok := w.mounted[id]; !ok {
			w.surfaces.Mount(id)
			w.mounted[id] = struct{}{}
		}
	}
}

func (w *ChatMessagesWatcher) ScrollToLatest() {
	w.NotifyAll("chat.scroll", func(sub *Subscription) any {
		return chatScrollParams{ID: sub.ID}
	})
}

// Subscribe registers a subscriber and returns the subscription ID.
func (w *ChatMessagesWatcher) Subscribe(notifier Notifier) string {
	id := w.GenerateID()
	w.AddSubscription(&Subscription{ID: id, Notifier: notifier})
	return id
}

// Messages returns the list last pushed to subscribers.
func (w *ChatMessagesWatcher) Messages() []session.Message {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.messages)
}

type chatMessagesChangedParams struct {
	ID       string            `json:"id"`
	Messages []session.Message `json:"messages"`
}

type chatScrollParams struct {
	ID string `json:"id"`
}
