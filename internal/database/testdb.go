package database

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

// NewTestDB opens a migrated sqlite database in a temporary directory that
// is removed when the test ends
func NewTestDB(t testing.TB) *Database {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := NewDatabase("sqlite", filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.RunMigrations(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}
