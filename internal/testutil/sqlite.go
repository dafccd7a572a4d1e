// Package testutil provides throwaway SQLite databases for package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"caseload/api/internal/store"

	"go.uber.org/zap"
)

// NewStore opens an empty SQLite database in a temp dir. Nothing is migrated.
func NewStore(t testing.TB) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "caseload.db")
	s, err := store.Open(context.Background(), store.Options{
		Driver:      "sqlite",
		URL:         "file:" + path,
		BusyTimeout: 2 * time.Second,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// NewMigratedStore opens a database with the full current schema.
func NewMigratedStore(t testing.TB) *store.Store {
	t.Helper()
	s := NewStore(t)
	if err := store.ApplyMigrations(context.Background(), s); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return s
}

// MustExec runs raw SQL for fixture setup.
func MustExec(t testing.TB, s *store.Store, query string, args ...any) {
	t.Helper()
	if _, err := s.Exec(context.Background(), query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

// InsertStudent adds a student owned by ownerID (0 means unowned) and returns its id.
func InsertStudent(t testing.TB, s *store.Store, firstName string, ownerID int64) int64 {
	t.Helper()
	var owner any
	if ownerID != 0 {
		owner = ownerID
	}
	result, err := s.Exec(context.Background(),
		`INSERT INTO students (first_name, last_name, user_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		firstName, "Tester", owner, "2024-01-01 08:00:00", "2024-01-01 08:00:00")
	if err != nil {
		t.Fatalf("insert student: %v", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		t.Fatalf("student id: %v", err)
	}
	return id
}
