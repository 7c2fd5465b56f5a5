// Package db provides test utilities for database operations.
//
// This file contains test helpers that should be used by all tests
// requiring database access. Using these helpers ensures:
// - In-memory databases for speed (10-100x faster than file-based)
// - Proper cleanup via t.Cleanup()
// - Consistent patterns across the codebase
package db

import (
	"testing"
)

// NewTestStore creates an in-memory store for testing with the core
// schema applied. The database is closed when the test completes.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    t.Parallel() // Always add for faster tests
//	    store := db.NewTestStore(t)
//	    // use store...
//	}
func NewTestStore(t testing.TB) *Store {
	t.Helper()

	database, err := OpenInMemory()
	if err != nil {
		t.Fatalf("create test db: %v", err)
	}
	if err := database.Migrate("core"); err != nil {
		_ = database.Close()
		t.Fatalf("migrate test db: %v", err)
	}

	t.Cleanup(func() {
		_ = database.Close()
	})

	return &Store{DB: database}
}
