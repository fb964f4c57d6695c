package db

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// testReadPoolSize keeps test read pools small; contention is not what unit
// tests exercise.
const testReadPoolSize = 4

// OpenTestSQLite opens a migrated write/read pool pair on a throwaway SQLite
// file under t.TempDir() and closes both pools when the test ends. Tests that
// have no use for the split can pass writeDB everywhere.
func OpenTestSQLite(t *testing.T) (writeDB, readDB *sql.DB) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "audit.sqlite")

	writeDB, readDB, err := OpenSQLitePair(path, testReadPoolSize)
	if err != nil {
		t.Fatalf("open sqlite pair: %v", err)
	}
	t.Cleanup(func() {
		_ = readDB.Close()
		_ = writeDB.Close()
	})

	if err := RunMigrations(writeDB); err != nil {
		t.Fatalf("migrate audit store: %v", err)
	}

	return writeDB, readDB
}
