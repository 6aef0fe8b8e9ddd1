// Package session persists conversations as a single JSON collection in a
// blob store.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/minesight/analyst/blob"
)

// BlobKey names the blob holding the whole session collection.
const BlobKey = "chat_sessions"

// Store defines session operations (transport agnostic).
type Store interface {
	// List returns all sessions, most recently updated first.
	List() ([]Session, error)
	// Get returns session metadata without messages. Returns (session, found, error).
	Get(sessionID string) (Session, bool, error)
	Create(title, language string) (Session, error)
	// Append is a no-op for unknown session IDs.
	Append(sessionID string, msg Message) error
	// Load returns the session with its messages. Returns (session, found, error).
	Load(sessionID string) (Session, bool, error)
	// Rename returns ErrSessionNotFound for unknown IDs.
	Rename(sessionID, title string) error
	// Remove is idempotent.
	Remove(sessionID string) error
	SetOnChangeListener(listener OnChangeListener)
}

// BlobStore implements Store on top of a blob.Store. Every write
// re-serializes the entire collection and replaces the blob in one Set.
type BlobStore struct {
	blobs blob.Store
	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	listener OnChangeListener
	stop     func()
}

var _ Store = (*BlobStore)(nil)

type Option func(*BlobStore)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *BlobStore) { s.now = now }
}

// WithIDGenerator overrides session ID generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *BlobStore) { s.newID = gen }
}

func NewBlobStore(blobs blob.Store, opts ...Option) *BlobStore {
	s := &BlobStore{
		blobs: blobs,
		now:   time.Now,
		newID: NewID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *BlobStore) SetOnChangeListener(listener OnChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = listener
}

func (s *BlobStore) notifyChange(event SessionChangeEvent) {
	if s.listener != nil {
		s.listener.OnSessionChange(event)
	}
}

// readAll loads the collection. A missing or corrupt blob reads as empty.
func (s *BlobStore) readAll() ([]Session, error) {
	raw, found, err := s.blobs.Get(BlobKey)
	if err != nil {
		return nil, fmt.Errorf("read sessions: %w", err)
	}
	if !found || strings.TrimSpace(raw) == "" {
		return []Session{}, nil
	}

	var sessions []Session
	if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
		slog.Warn("session collection is corrupt, treating as empty", "error", err)
		return []Session{}, nil
	}
	if sessions == nil {
		sessions = []Session{}
	}
	return sessions, nil
}

func (s *BlobStore) writeAll(sessions []Session) error {
	data, err := json.Marshal(sessions)
	if err != nil {
		return err
	}
	if err := s.blobs.Set(BlobKey, string(data)); err != nil {
		return fmt.Errorf("write sessions: %w", err)
	}
	return nil
}

// touch returns the current time, never earlier than prev.
func (s *BlobStore) touch(prev time.Time) time.Time {
	now := s.now()
	if now.Before(prev) {
		return prev
	}
	return now
}

func (s *BlobStore) List() ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.readAll()
	if err != nil {
		return nil, err
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

func (s *BlobStore) Get(sessionID string) (Session, bool, error) {
	sess, found, err := s.Load(sessionID)
	if err != nil || !found {
		return Session{}, found, err
	}
	return sess.Meta(), true, nil
}

func (s *BlobStore) Load(sessionID string) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.readAll()
	if err != nil {
		return Session{}, false, err
	}
	for _, sess := range sessions {
		if sess.ID == sessionID {
			if sess.Messages == nil {
				sess.Messages = []Message{}
			}
			return sess, true, nil
		}
	}
	return Session{}, false, nil
}

// Create inserts a new session at the head of the collection.
// A blank title becomes DefaultTitle.
func (s *BlobStore) Create(title, language string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.readAll()
	if err != nil {
		return Session{}, err
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}

	now := s.now()
	sess := Session{
		ID:        s.newID(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Language:  language,
		Messages:  []Message{},
	}

	if err := s.writeAll(append([]Session{sess}, sessions...)); err != nil {
		return Session{}, err
	}

	s.notifyChange(SessionChangeEvent{Op: OperationCreate, Session: sess.Meta()})
	return sess, nil
}

func (s *BlobStore) Append(sessionID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.readAll()
	if err != nil {
		return err
	}

	for i := range sessions {
		if sessions[i].ID != sessionID {
			continue
		}
		now := s.touch(sessions[i].UpdatedAt)
		if msg.Timestamp.IsZero() {
			msg.Timestamp = now
		}
		sessions[i].Messages = append(sessions[i].Messages, msg)
		sessions[i].UpdatedAt = now

		if err := s.writeAll(sessions); err != nil {
			return err
		}
		s.notifyChange(SessionChangeEvent{Op: OperationUpdate, Session: sessions[i].Meta()})
		return nil
	}

	slog.Debug("append to unknown session ignored", "sessionId", sessionID)
	return nil
}

// Rename sets a trimmed title. A blank title keeps the current one, but
// UpdatedAt still advances.
func (s *BlobStore) Rename(sessionID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.readAll()
	if err != nil {
		return err
	}

	for i := range sessions {
		if sessions[i].ID != sessionID {
			continue
		}
		if t := strings.TrimSpace(title); t != "" {
			sessions[i].Title = t
		}
		sessions[i].UpdatedAt = s.touch(sessions[i].UpdatedAt)

		if err := s.writeAll(sessions); err != nil {
			return err
		}
		s.notifyChange(SessionChangeEvent{Op: OperationUpdate, Session: sessions[i].Meta()})
		return nil
	}
	return ErrSessionNotFound
}

func (s *BlobStore) Remove(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.readAll()
	if err != nil {
		return err
	}

	kept := make([]Session, 0, len(sessions))
	for _, sess := range sessions {
		if sess.ID != sessionID {
			kept = append(kept, sess)
		}
	}
	if len(kept) == len(sessions) {
		return nil
	}

	if err := s.writeAll(kept); err != nil {
		return err
	}
	s.notifyChange(SessionChangeEvent{Op: OperationDelete, Session: Session{ID: sessionID}})
	return nil
}

// StartWatching reports changes made to the collection by other processes
// as OperationReload events. The underlying blob store must implement
// blob.Watcher.
func (s *BlobStore) StartWatching() error {
	w, ok := s.blobs.(blob.Watcher)
	if !ok {
		return errors.New("blob store does not support watching")
	}

	stop, err := w.Watch(BlobKey, func() {
		slog.Debug("session collection changed externally")
		s.mu.Lock()
		defer s.mu.Unlock()
		s.notifyChange(SessionChangeEvent{Op: OperationReload})
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()
	return nil
}

func (s *BlobStore) StopWatching() {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
}
