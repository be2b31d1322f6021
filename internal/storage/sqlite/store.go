// Package sqlite implements entity state persistence over SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/tessera-id/tessera/internal/platform/errors"
	"github.com/tessera-id/tessera/internal/platform/storage/sqlitemigrate"
	"github.com/tessera-id/tessera/internal/storage"
	"github.com/tessera-id/tessera/internal/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// Store implements storage.StateStore over a single SQLite file.
//
// One file backs all entity state so every entity shares the same durability
// and visibility boundary.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Open opens a SQLite state store and applies bundled migrations.
//
// This keeps startup and schema evolution in one place, instead of requiring
// callers to coordinate migrations independently.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := sqlitemigrate.Apply(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Get returns the last committed snapshot for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var state []byte
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT state FROM entity_state WHERE key = ?`, key,
	).Scan(&state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, apperrors.Wrap(apperrors.CodeUnavailable, "read entity state", err)
	}
	return state, nil
}

// Put replaces the snapshot for key.
func (s *Store) Put(ctx context.Context, key string, state []byte) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO entity_state (key, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at`,
		key, state, toMillis(s.now()),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeUnavailable, "write entity state", err)
	}
	return nil
}

// Delete removes the snapshot for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM entity_state WHERE key = ?`, key)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeUnavailable, "delete entity state", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

var _ storage.StateStore = (*Store)(nil)
