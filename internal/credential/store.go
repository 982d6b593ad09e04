// Package credential holds the bearer token of the current client profile.
//
// A Store is the only process-wide mutable state of the client. The session
// manager is its single logical writer; everything else only reads.
package credential

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"expenses/internal/log"
)

// Store persists at most one bearer token.
type Store interface {
	// Set persists token. Subsequent calls to Get return it until Clear or
	// another Set. An error means the underlying storage is unavailable.
	Set(token string) error

	// Get returns the stored token. It never fails: unreadable storage is
	// reported as absence.
	Get() (string, bool)

	// Clear removes the token. Clearing an empty store is not an error.
	Clear() error
}

// BackendType selects the Store implementation.
type BackendType string

const (
	MemoryBackend BackendType = "memory"
	FileBackend   BackendType = "file"
	SQLiteBackend BackendType = "sqlite"
)

func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, FileBackend, SQLiteBackend:
		return true
	default:
		return false
	}
}

// Config holds what Open needs to build a store.
type Config struct {
	Type       BackendType
	Profile    string
	ProfileDir string
	Logger     *log.Logger
}

// Validate validates the store configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid credential backend: %s", c.Type)
	}
	if c.Profile == "" {
		return fmt.Errorf("profile name is required")
	}
	if c.Profile == "." || c.Profile == ".." || strings.ContainsAny(c.Profile, `/\`) {
		return fmt.Errorf("invalid profile name %q: must not contain path separators", c.Profile)
	}
	if c.Type != MemoryBackend && c.ProfileDir == "" {
		return fmt.Errorf("profile directory is required for %s backend", c.Type)
	}
	return nil
}

// CloseFunc releases resources held by a store.
type CloseFunc func() error

// Open builds the store described by cfg. On success the returned CloseFunc
// is never nil.
func Open(ctx context.Context, cfg Config) (Store, CloseFunc, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.FromContext(ctx)
	}
	logger = logger.WithComponent(log.ComponentCredential)
	noop := func() error { return nil }

	switch cfg.Type {
	case MemoryBackend:
		logger.DebugContext(ctx, "Using in-memory credential store", "profile", cfg.Profile)
		return NewMemoryStore(), noop, nil
	case FileBackend:
		path := filepath.Join(cfg.ProfileDir, cfg.Profile+".token")
		logger.DebugContext(ctx, "Using file credential store", "path", path)
		return NewFileStore(path, logger), noop, nil
	case SQLiteBackend:
		path := filepath.Join(cfg.ProfileDir, "credentials.db")
		store, err := NewSQLiteStore(ctx, path, cfg.Profile, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite credential store: %w", err)
		}
		logger.DebugContext(ctx, "Using sqlite credential store", "path", path, "profile", cfg.Profile)
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported credential backend: %s", cfg.Type)
	}
}
