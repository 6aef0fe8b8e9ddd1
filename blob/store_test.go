package blob

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()

	fileStore, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	sqliteStore, err := OpenSQLite(filepath.Join(t.TempDir(), "blobs.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
		"sqlite": sqliteStore,
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			v, found, err := s.Get("missing")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if found {
				t.Errorf("expected not found, got %q", v)
			}
		})
	}
}

func TestStore_SetGetOverwrite(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Set("sessions", `[1]`); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := s.Set("sessions", `[1,2]`); err != nil {
				t.Fatalf("Set: %v", err)
			}

			v, found, err := s.Get("sessions")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !found {
				t.Fatal("expected value to be found")
			}
			if v != `[1,2]` {
				t.Errorf("value = %q, want %q", v, `[1,2]`)
			}
		})
	}
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Set("k", "v"); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := s.Delete("k"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := s.Delete("k"); err != nil {
				t.Errorf("second Delete: %v", err)
			}
			if _, found, _ := s.Get("k"); found {
				t.Error("expected key to be gone")
			}
		})
	}
}

func TestStore_EmptyKeyRejected(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Set("", "v"); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("expected ErrInvalidKey, got %v", err)
			}
		})
	}
}

func TestFileStore_RejectsPathKeys(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	for _, key := range []string{"../escape", "a/b", ".."} {
		if err := s.Set(key, "v"); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Set(%q) error = %v, want ErrInvalidKey", key, err)
		}
	}
}

func TestFileStore_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.Set("sessions", "data"); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "sessions.json" {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("dir entries = %v, want [sessions.json]", names)
	}
}

func TestFileStore_WatchReportsExternalWrites(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	changed := make(chan struct{}, 4)
	stop, err := s.Watch("sessions", func() { changed <- struct{}{} })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer stop()

	// Own writes are not reported.
	if err := s.Set("sessions", "mine"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	select {
	case <-changed:
		t.Fatal("unexpected change notification for own write")
	case <-time.After(300 * time.Millisecond):
	}

	// A second store over the same directory models another process.
	other, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := other.Set("sessions", "theirs"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}
}
