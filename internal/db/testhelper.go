package db

import (
	"path/filepath"
	"testing"
)

// OpenTestStore opens a migrated history store in t.TempDir() and registers
// cleanup.
func OpenTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "history.sqlite"))
	if err != nil {
		t.Fatalf("open test history store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}
