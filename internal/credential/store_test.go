package credential

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	sqliteStore, err := NewSQLiteStore(context.Background(), filepath.Join(dir, "credentials.db"), "default", nil)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   NewFileStore(filepath.Join(dir, "default.token"), nil),
		"sqlite": sqliteStore,
	}
}

func TestStoreSetGetClear(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if tok, ok := s.Get(); ok || tok != "" {
				t.Fatalf("expected empty store, got %q", tok)
			}

			for _, want := range []string{"tok-1", "tok-2"} {
				if err := s.Set(want); err != nil {
					t.Fatalf("Set(%q) error = %v", want, err)
				}
				got, ok := s.Get()
				if !ok || got != want {
					t.Fatalf("Get() = (%q,%v), want (%q,true)", got, ok, want)
				}
			}

			if err := s.Clear(); err != nil {
				t.Fatalf("Clear() error = %v", err)
			}
			if _, ok := s.Get(); ok {
				t.Fatal("expected token to be cleared")
			}
			// Idempotent
			if err := s.Clear(); err != nil {
				t.Fatalf("second Clear() error = %v", err)
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "p.token")
	if err := NewFileStore(path, nil).Set("persisted"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat token file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("token file mode = %v, want 0600", perm)
	}

	got, ok := NewFileStore(path, nil).Get()
	if !ok || got != "persisted" {
		t.Fatalf("Get() after reopen = (%q,%v)", got, ok)
	}
}

func TestSQLiteStoreSurvivesReopenAndIsolatesProfiles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.db")

	a, err := NewSQLiteStore(ctx, path, "alice", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := a.Set("alice-token"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	a.Close()

	a, err = NewSQLiteStore(ctx, path, "alice", nil)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer a.Close()
	if got, ok := a.Get(); !ok || got != "alice-token" {
		t.Fatalf("Get() after reopen = (%q,%v)", got, ok)
	}

	b, err := NewSQLiteStore(ctx, path, "bob", nil)
	if err != nil {
		t.Fatalf("open second profile: %v", err)
	}
	defer b.Close()
	if _, ok := b.Get(); ok {
		t.Fatal("profiles must not share tokens")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for _, bt := range []BackendType{MemoryBackend, FileBackend, SQLiteBackend} {
		t.Run(bt.String(), func(t *testing.T) {
			s, closeFn, err := Open(ctx, Config{Type: bt, Profile: "default", ProfileDir: dir})
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer closeFn()
			if err := s.Set("x"); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
		})
	}

	if _, _, err := Open(ctx, Config{Type: "keyring", Profile: "default", ProfileDir: dir}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if _, _, err := Open(ctx, Config{Type: FileBackend, Profile: "default"}); err == nil {
		t.Fatal("expected error for missing profile dir")
	}
}

func TestOpenRejectsProfileOutsideDir(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	dir := filepath.Join(root, "profiles")

	for _, profile := range []string{"../x", "a/b", `a\b`, "..", ".", "/abs"} {
		s, closeFn, err := Open(ctx, Config{Type: FileBackend, Profile: profile, ProfileDir: dir})
		if err == nil {
			s.Set("leak")
			closeFn()
			t.Errorf("Open(profile %q) expected error", profile)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "x.token")); !os.IsNotExist(err) {
		t.Fatalf("token written outside the profile directory: %v", err)
	}

	if _, closeFn, err := Open(ctx, Config{Type: FileBackend, Profile: "work.2", ProfileDir: dir}); err != nil {
		t.Fatalf("Open(work.2) error = %v", err)
	} else {
		closeFn()
	}
}
