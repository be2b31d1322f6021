package sqlitemigrate

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "migrate.db")
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return sqlDB
}

func TestApplyRunsMigrationsInOrder(t *testing.T) {
	sqlDB := openTestDB(t)
	migrations := fstest.MapFS{
		"002_add_column.sql": {Data: []byte(`-- +migrate Up
ALTER TABLE things ADD COLUMN label TEXT;
-- +migrate Down
`)},
		"001_create.sql": {Data: []byte(`-- +migrate Up
CREATE TABLE things (id TEXT PRIMARY KEY);
-- +migrate Down
DROP TABLE things;
`)},
	}

	if err := Apply(sqlDB, migrations); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := sqlDB.Exec(`INSERT INTO things (id, label) VALUES ('a', 'b')`); err != nil {
		t.Fatalf("expected migrated schema to accept insert: %v", err)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	sqlDB := openTestDB(t)
	migrations := fstest.MapFS{
		"001_create.sql": {Data: []byte(`-- +migrate Up
CREATE TABLE things (id TEXT PRIMARY KEY);
`)},
	}

	if err := Apply(sqlDB, migrations); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := Apply(sqlDB, migrations); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	var count int
	if err := sqlDB.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 recorded migration, got %d", count)
	}
}

func TestExtractUpWithoutMarkersReturnsWholeFile(t *testing.T) {
	content := "CREATE TABLE plain (id TEXT);"
	if got := extractUp(content); got != content {
		t.Fatalf("extractUp() = %q, want %q", got, content)
	}
}
