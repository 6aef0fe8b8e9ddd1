// Package blob provides string-keyed blob stores for local client state.
//
// A blob store is the persistence surface behind the session store: every
// write replaces the whole value under a key, and readers only ever observe
// complete values.
package blob

import (
	"errors"
	"sync"
)

var ErrInvalidKey = errors.New("invalid blob key")

// Store is a synchronous string-keyed blob store.
type Store interface {
	// Get returns the value stored under key. Returns (value, found, error).
	Get(key string) (string, bool, error)
	Set(key, value string) error
	// Delete is idempotent.
	Delete(key string) error
}

// Watcher is implemented by stores that can report changes made by other
// processes sharing the same backing storage.
type Watcher interface {
	Watch(key string, onChange func()) (stop func(), err error)
}

// MemoryStore keeps blobs in process memory. Used by tests and ephemeral runs.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(key, value string) error {
	if key == "" {
		return ErrInvalidKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
