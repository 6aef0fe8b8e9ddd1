package watch

import (
	"log/slog"

	"github.com/minesight/analyst/rpc"
	"github.com/minesight/analyst/session"
)

// SessionListWatcher notifies subscribers when the session list changes.
// Uses a channel-based async notification pattern to avoid blocking the session
// store's mutex during network I/O.
type SessionListWatcher struct {
	*BaseWatcher
	store   session.Store
	eventCh chan session.SessionChangeEvent
}

var _ Watcher = (*SessionListWatcher)(nil)

func NewSessionListWatcher(store session.Store) *SessionListWatcher {
	w := &SessionListWatcher{
		BaseWatcher: NewBaseWatcher("sl"),
		store:       store,
		eventCh:     make(chan session.SessionChangeEvent, 64), // Buffer to avoid blocking
	}
	store.SetOnChangeListener(w)
	return w
}

func (w *SessionListWatcher) Start() error {
	go w.eventLoop()
	slog.Info("SessionListWatcher started")
	return nil
}

func (w *SessionListWatcher) Stop() {
	w.Cancel()
	slog.Info("SessionListWatcher stopped")
}

// eventLoop processes session change events asynchronously.
func (w *SessionListWatcher) eventLoop() {
	for {
		select {
		case <-w.Context().Done():
			return
		case event := <-w.eventCh:
			w.notifyChange(event)
		}
	}
}

// notifyChange sends notifications to all subscribers.
func (w *SessionListWatcher) notifyChange(event session.SessionChangeEvent) {
	if !w.HasSubscriptions() {
		return
	}

	var reloaded []rpc.SessionListItem
	if event.Op == session.OperationReload {
		sessions, err := w.store.List()
		if err != nil {
			slog.Warn("failed to list sessions after external change", "error", err)
			return
		}
		reloaded = listItems(sessions)
	}

	w.NotifyAll("session.list.changed", func(sub *Subscription) any {
		params := sessionListChangedParams{
			ID:        sub.ID,
			Operation: string(event.Op),
		}
		switch event.Op {
		case session.OperationDelete:
			params.SessionID = event.Session.ID
		case session.OperationReload:
			params.Sessions = reloaded
		default:
			params.Session = &rpc.SessionListItem{Session: event.Session.Meta()}
		}
		return params
	})

	slog.Debug("notified session list change", "operation", event.Op)
}

// Subscribe registers a subscriber and returns the subscription ID along with
// the current session list.
func (w *SessionListWatcher) Subscribe(notifier Notifier) (string, []rpc.SessionListItem, error) {
	id := w.GenerateID()
	sub := &Subscription{
		ID:       id,
		Notifier: notifier,
	}
	// Add subscription BEFORE getting the list to avoid missing events
	// that occur between List() and AddSubscription().
	w.AddSubscription(sub)

	sessions, err := w.store.List()
	if err != nil {
		w.RemoveSubscription(id)
		return "", nil, err
	}

	return id, listItems(sessions), nil
}

func listItems(sessions []session.Session) []rpc.SessionListItem {
	items := make([]rpc.SessionListItem, len(sessions))
	for i, sess := range sessions {
		items[i] = rpc.SessionListItem{Session: sess.Meta()}
	}
	return items
}

type sessionListChangedParams struct {
	ID        string                `json:"id"`
	Operation string                `json:"operation"`
	Session   *rpc.SessionListItem  `json:"session,omitempty"`
	SessionID string                `json:"sessionId,omitempty"`
	Sessions  []rpc.SessionListItem `json:"sessions,omitempty"`
}

// OnSessionChange implements session.OnChangeListener.
// This method is called from the session store's mutex, so it must not block.
// Events are queued to the channel for async processing.
func (w *SessionListWatcher) OnSessionChange(event session.SessionChangeEvent) {
	// Skip if watcher is stopped
	if w.Context().Err() != nil {
		return
	}

	// Non-blocking send: if buffer is full, drop the event
	// TODO: If buffer overflows, send a reload to all subscribers to force re-sync.
	select {
	case w.eventCh <- event:
	default:
		slog.Warn("session list change event dropped (buffer full)", "operation", event.Op)
	}
}
