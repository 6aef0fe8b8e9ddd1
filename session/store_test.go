package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minesight/analyst/blob"
)

// stepClock advances by one second on every call.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *stepClock) Last() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func newTestStore(t *testing.T) (*BlobStore, *blob.MemoryStore, *stepClock) {
	t.Helper()
	blobs := blob.NewMemoryStore()
	clock := newStepClock()
	return NewBlobStore(blobs, WithClock(clock.Now)), blobs, clock
}

type recordingListener struct {
	mu     sync.Mutex
	events []SessionChangeEvent
}

func (l *recordingListener) OnSessionChange(event SessionChangeEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *recordingListener) ops() []Operation {
	l.mu.Lock()
	defer l.mu.Unlock()
	ops := make([]Operation, len(l.events))
	for i, e := range l.events {
		ops[i] = e.Op
	}
	return ops
}

func TestCreate_BlankTitle(t *testing.T) {
	store, _, _ := newTestStore(t)

	sess, err := store.Create("  ", "en")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.Title != "New chat" {
		t.Errorf("title = %q, want %q", sess.Title, "New chat")
	}
	if sess.Language != "en" {
		t.Errorf("language = %q, want %q", sess.Language, "en")
	}
	if sess.ID == "" {
		t.Error("expected non-empty ID")
	}
	if !sess.CreatedAt.Equal(sess.UpdatedAt) {
		t.Errorf("createdAt %v != updatedAt %v", sess.CreatedAt, sess.UpdatedAt)
	}
}

func TestCreate_TrimsTitle(t *testing.T) {
	store, _, _ := newTestStore(t)

	sess, err := store.Create("  Equipment status  ", "es")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.Title != "Equipment status" {
		t.Errorf("title = %q, want %q", sess.Title, "Equipment status")
	}
}

func TestCreate_UniqueIDs(t *testing.T) {
	store := NewBlobStore(blob.NewMemoryStore())

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		sess, err := store.Create("", "en")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if seen[sess.ID] {
			t.Fatalf("duplicate id %s", sess.ID)
		}
		seen[sess.ID] = true
	}
}

func TestFallbackID(t *testing.T) {
	now := time.Now()
	a := fallbackID(now)
	b := fallbackID(now)
	if a == b {
		t.Errorf("expected distinct fallback ids, got %s twice", a)
	}
	if len(a) < 17 {
		t.Errorf("fallback id too short: %q", a)
	}
}

func TestAppend_BumpsUpdatedAt(t *testing.T) {
	store, _, clock := newTestStore(t)

	sess, err := store.Create("Trends", "en")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	prev := sess.UpdatedAt
	for i := 0; i < 5; i++ {
		if err := store.Append(sess.ID, Message{Role: RoleUser, Content: fmt.Sprintf("q%d", i)}); err != nil {
			t.Fatalf("Append: %v", err)
		}
		mutatedAt := clock.Last()

		list, err := store.List()
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(list) != 1 {
			t.Fatalf("expected 1 session, got %d", len(list))
		}
		got := list[0].UpdatedAt
		if got.Before(prev) {
			t.Errorf("updatedAt went backwards: %v < %v", got, prev)
		}
		if !got.Equal(mutatedAt) {
			t.Errorf("updatedAt = %v, want %v", got, mutatedAt)
		}
		prev = got
	}
}

func TestAppend_ClockSkewNeverRewindsUpdatedAt(t *testing.T) {
	blobs := blob.NewMemoryStore()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(-time.Hour), base.Add(-time.Hour)}
	i := 0
	store := NewBlobStore(blobs, WithClock(func() time.Time {
		tm := times[min(i, len(times)-1)]
		i++
		return tm
	}))

	sess, err := store.Create("x", "en")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Append(sess.ID, Message{Role: RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, _, _ := store.Get(sess.ID)
	if got.UpdatedAt.Before(got.CreatedAt) {
		t.Errorf("updatedAt %v before createdAt %v", got.UpdatedAt, got.CreatedAt)
	}
}

func TestAppend_UnknownSessionIgnored(t *testing.T) {
	store, blobs, _ := newTestStore(t)
	listener := &recordingListener{}
	store.SetOnChangeListener(listener)

	if err := store.Append("missing", Message{Role: RoleUser, Content: "hi"}); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
	if _, found, _ := blobs.Get(BlobKey); found {
		t.Error("expected no blob written")
	}
	if len(listener.ops()) != 0 {
		t.Errorf("expected no events, got %v", listener.ops())
	}
}

func TestRoundTrip(t *testing.T) {
	store, _, _ := newTestStore(t)

	sess, err := store.Create("Round trip", "fr")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	const n = 7
	for i := 0; i < n; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if err := store.Append(sess.ID, Message{Role: role, Content: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	loaded, found, err := store.Load(sess.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !found {
		t.Fatal("expected session to be found")
	}
	if len(loaded.Messages) != n {
		t.Fatalf("messages = %d, want %d", len(loaded.Messages), n)
	}
	for i, m := range loaded.Messages {
		if want := fmt.Sprintf("m%d", i); m.Content != want {
			t.Errorf("messages[%d] = %q, want %q", i, m.Content, want)
		}
		if m.Timestamp.IsZero() {
			t.Errorf("messages[%d] has zero timestamp", i)
		}
	}
	if loaded.Language != "fr" {
		t.Errorf("language = %q, want fr", loaded.Language)
	}
}

func TestRoundTrip_PreservesPayload(t *testing.T) {
	store, _, _ := newTestStore(t)
	sess, _ := store.Create("payload", "en")

	msg := Message{
		Role:            RoleAssistant,
		Content:         "Here is the breakdown",
		Recommendations: []string{"Service drill 4", "Check conveyor"},
		Audio:           &Audio{Success: true, AudioBase64: "SUQz", Format: "mp3"},
	}
	if err := store.Append(sess.ID, msg); err != nil {
		t.Fatalf("Append: %v", err)
	}

	loaded, _, _ := store.Load(sess.ID)
	got := loaded.Messages[0]
	if len(got.Recommendations) != 2 || got.Recommendations[1] != "Check conveyor" {
		t.Errorf("recommendations = %v", got.Recommendations)
	}
	if !got.Audio.Playable() {
		t.Errorf("expected playable audio, got %+v", got.Audio)
	}
}

func TestRename(t *testing.T) {
	store, _, _ := newTestStore(t)
	sess, _ := store.Create("Old", "en")

	if err := store.Rename(sess.ID, "  New title  "); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	got, _, _ := store.Get(sess.ID)
	if got.Title != "New title" {
		t.Errorf("title = %q, want %q", got.Title, "New title")
	}
	if !got.UpdatedAt.After(sess.UpdatedAt) {
		t.Errorf("expected updatedAt to advance")
	}
}

func TestRename_BlankKeepsTitleButAdvancesUpdatedAt(t *testing.T) {
	store, _, _ := newTestStore(t)
	sess, _ := store.Create("Keep me", "en")

	if err := store.Rename(sess.ID, "   "); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	got, _, _ := store.Get(sess.ID)
	if got.Title != "Keep me" {
		t.Errorf("title = %q, want %q", got.Title, "Keep me")
	}
	if !got.UpdatedAt.After(sess.UpdatedAt) {
		t.Errorf("updatedAt = %v, want after %v", got.UpdatedAt, sess.UpdatedAt)
	}
}

func TestRename_Unknown(t *testing.T) {
	store, _, _ := newTestStore(t)
	if err := store.Rename("missing", "x"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRemove_Idempotent(t *testing.T) {
	store, _, _ := newTestStore(t)
	a, _ := store.Create("a", "en")
	b, _ := store.Create("b", "en")

	if err := store.Remove(a.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := store.Remove(a.ID); err != nil {
		t.Errorf("second Remove: %v", err)
	}
	if err := store.Remove("never-existed"); err != nil {
		t.Errorf("Remove unknown: %v", err)
	}

	list, _ := store.List()
	if len(list) != 1 || list[0].ID != b.ID {
		t.Errorf("expected only %s left, got %+v", b.ID, list)
	}
}

func TestList_NewestFirst(t *testing.T) {
	store, _, _ := newTestStore(t)
	a, _ := store.Create("a", "en")
	b, _ := store.Create("b", "en")
	c, _ := store.Create("c", "en")

	list, _ := store.List()
	if got := ids(list); got != strings.Join([]string{c.ID, b.ID, a.ID}, ",") {
		t.Errorf("order after create = %s", got)
	}

	// Appending to the oldest session moves it to the front.
	if err := store.Append(a.ID, Message{Role: RoleUser, Content: "bump"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	list, _ = store.List()
	if got := ids(list); got != strings.Join([]string{a.ID, c.ID, b.ID}, ",") {
		t.Errorf("order after append = %s", got)
	}
}

func ids(sessions []Session) string {
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = s.ID
	}
	return strings.Join(out, ",")
}

func TestList_CorruptOrMissingBlob(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		set  bool
	}{
		{"missing", "", false},
		{"empty", "", true},
		{"garbage", "{not json", true},
		{"wrong shape", `{"sessions": 3}`, true},
		{"null", "null", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blobs := blob.NewMemoryStore()
			if tt.set {
				if err := blobs.Set(BlobKey, tt.raw); err != nil {
					t.Fatalf("Set: %v", err)
				}
			}
			store := NewBlobStore(blobs)

			list, err := store.List()
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(list) != 0 {
				t.Errorf("expected empty list, got %d", len(list))
			}

			// The store stays usable after a corrupt read.
			if _, err := store.Create("fresh", "en"); err != nil {
				t.Fatalf("Create after corrupt read: %v", err)
			}
			list, _ = store.List()
			if len(list) != 1 {
				t.Errorf("expected 1 session after create, got %d", len(list))
			}
		})
	}
}

func TestLoad_Unknown(t *testing.T) {
	store, _, _ := newTestStore(t)
	_, found, err := store.Load("missing")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if found {
		t.Error("expected not found")
	}
}

func TestGet_OmitsMessages(t *testing.T) {
	store, _, _ := newTestStore(t)
	sess, _ := store.Create("meta", "en")
	store.Append(sess.ID, Message{Role: RoleUser, Content: "hello"})

	got, found, err := store.Get(sess.ID)
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if got.Messages != nil {
		t.Errorf("expected no messages, got %d", len(got.Messages))
	}
}

func TestListener(t *testing.T) {
	store, _, _ := newTestStore(t)
	listener := &recordingListener{}
	store.SetOnChangeListener(listener)

	sess, _ := store.Create("x", "en")
	store.Append(sess.ID, Message{Role: RoleUser, Content: "hi"})
	store.Rename(sess.ID, "y")
	store.Remove(sess.ID)
	store.Remove(sess.ID)

	want := []Operation{OperationCreate, OperationUpdate, OperationUpdate, OperationDelete}
	got := listener.ops()
	if len(got) != len(want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ops[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	listener.mu.Lock()
	created := listener.events[0].Session
	deleted := listener.events[3].Session
	listener.mu.Unlock()
	if created.ID != sess.ID || created.Messages != nil {
		t.Errorf("create event session = %+v", created)
	}
	if deleted.ID != sess.ID {
		t.Errorf("delete event id = %q, want %q", deleted.ID, sess.ID)
	}
}

func TestStartWatching_RequiresWatcher(t *testing.T) {
	store, _, _ := newTestStore(t)
	if err := store.StartWatching(); err == nil {
		t.Error("expected error for memory-backed store")
	}
	store.StopWatching()
}

func TestStartWatching_ReportsExternalChanges(t *testing.T) {
	dir := t.TempDir()
	ours, err := blob.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	theirs, err := blob.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	store := NewBlobStore(ours)
	other := NewBlobStore(theirs)

	reloaded := make(chan struct{}, 8)
	store.SetOnChangeListener(listenerFunc(func(e SessionChangeEvent) {
		if e.Op == OperationReload {
			reloaded <- struct{}{}
		}
	}))
	if err := store.StartWatching(); err != nil {
		t.Fatalf("StartWatching: %v", err)
	}
	defer store.StopWatching()

	if _, err := other.Create("from another window", "en"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	select {
	case <-reloaded:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload event")
	}

	list, _ := store.List()
	if len(list) != 1 || list[0].Title != "from another window" {
		t.Errorf("expected external session visible, got %+v", list)
	}
}

type listenerFunc func(SessionChangeEvent)

func (f listenerFunc) OnSessionChange(e SessionChangeEvent) { f(e) }
