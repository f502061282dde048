package db

import (
	"path/filepath"
	"testing"
)

// TestDB opens a migrated store under t.TempDir() with the default
// three-status ladder seeded.
func TestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".tusk", "tusk.db")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	if err := d.SyncStatusRanks([]string{"To Do", "In Progress", "Done"}); err != nil {
		t.Fatalf("SyncStatusRanks failed: %v", err)
	}
	return d
}
