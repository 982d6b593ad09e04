package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"expenses/internal/log"

	_ "modernc.org/sqlite"
)

const sqliteOpTimeout = 5 * time.Second

// SQLiteStore keeps one token per profile in a local sqlite database, so
// several profiles can share a single file.
type SQLiteStore struct {
	db      *sql.DB
	profile string
	logger  *log.Logger
}

func NewSQLiteStore(ctx context.Context, dbPath, profile string, logger *log.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = log.Discard()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, profile: profile, logger: logger}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) Set(token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOpTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credential (profile, token, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(profile) DO UPDATE SET token = excluded.token, updated_at = CURRENT_TIMESTAMP`,
		s.profile, token)
	if err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get() (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOpTimeout)
	defer cancel()

	var token string
	err := s.db.QueryRowContext(ctx, `SELECT token FROM credential WHERE profile = ?`, s.profile).Scan(&token)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to read stored token", log.FieldError, err, "profile", s.profile)
		}
		return "", false
	}
	return token, token != ""
}

func (s *SQLiteStore) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOpTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM credential WHERE profile = ?`, s.profile); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	return nil
}
