package sqlite

import (
	"context"
	"net/url"
	"testing"
)

// openTestDB creates a named shared in-memory SQLite database without
// migrating it. Writer and reader pools share the database via cache=shared,
// and the name derived from t.Name() isolates parallel tests.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	// Percent-encode the test name so it cannot be read as DSN query parameters.
	name := url.PathEscape(t.Name())

	db, err := open(context.Background(), name, buildDSN(name, "mode=memory", "cache=shared"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db
}

// setupTestDB returns a migrated in-memory database.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db := openTestDB(t)
	if _, err := RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return db
}
