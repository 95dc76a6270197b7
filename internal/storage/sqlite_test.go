package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpenSQLiteBootstrapsTables(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "nested", "deployhook.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	var name string
	if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?;", "deploy_runs").Scan(&name); err != nil {
		t.Fatalf("table deploy_runs missing: %v", err)
	}
}

func TestOpenSQLiteIsIdempotent(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "deployhook.db")
	for i := 0; i < 2; i++ {
		db, err := OpenSQLite(context.Background(), dbPath)
		if err != nil {
			t.Fatalf("OpenSQLite (%d): %v", i, err)
		}
		_ = db.Close()
	}
}

func TestOpenSQLiteEmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := OpenSQLite(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
