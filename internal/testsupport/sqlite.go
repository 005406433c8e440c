// Package testsupport provides helpers for tests: temporary SQLite databases
// and ephemeral Docker containers (PostgreSQL, Redis) for integration tests.
package testsupport

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tollgate-sdk/tollgate/internal/storage"
)

// OpenSQLite creates a SQLite store in a per-test temporary directory.
// The store is closed automatically when the test finishes; the database file
// survives for the duration of the test so restarts can be simulated by
// calling ReopenSQLite with the same path.
func OpenSQLite(t *testing.T) (*storage.SQLiteStore, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tollgate_test.db")
	store, err := storage.NewSQLiteStore(context.Background(), path)
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, path
}

// ReopenSQLite opens a store on an existing database file, simulating a
// process restart.
func ReopenSQLite(t *testing.T, path string) *storage.SQLiteStore {
	t.Helper()

	store, err := storage.NewSQLiteStore(context.Background(), path)
	if err != nil {
		t.Fatalf("failed to reopen sqlite store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}
