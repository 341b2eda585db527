package sqldb

import (
	"context"
	"database/sql"
	"os"
	"testing"
)

// OpenTestSQLite returns a migrated in-memory SQLite database closed at
// test cleanup.
func OpenTestSQLite(t testing.TB) *DB {
	t.Helper()
	raw, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	raw.SetMaxOpenConns(1)
	db := Wrap(raw, SQLite)
	if err := db.Migrate(context.Background()); err != nil {
		raw.Close()
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() { raw.Close() })
	return db
}

// SkipIfNoPostgres skips unless TEST_POSTGRES_URL is set and returns it
func SkipIfNoPostgres(t testing.TB) string {
	t.Helper()
	url := os.Getenv("TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("Skipping test: TEST_POSTGRES_URL environment variable not set (database not available)")
	}
	return url
}
