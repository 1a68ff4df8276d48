//go:build integration

// Package setup builds real components for the integration tests.
package setup

import (
	"path/filepath"
	"testing"

	"molt/internal/proxy/database"
)

// DatabaseTestSetup is a file-backed database in a temp dir
type DatabaseTestSetup struct {
	DB         *database.SQLiteDatabase
	TempDBPath string
}

// SetupTestDatabase creates a temporary SQLite database for testing
func SetupTestDatabase(t *testing.T, name string) *DatabaseTestSetup {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), name+".db")

	db := database.NewDatabase()
	if err := db.CreateDatabase(dbPath); err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	setup := &DatabaseTestSetup{DB: db, TempDBPath: dbPath}
	t.Cleanup(setup.Cleanup)
	return setup
}

// Cleanup closes the database
func (setup *DatabaseTestSetup) Cleanup() {
	if setup.DB != nil {
		setup.DB.CloseDatabase()
	}
}
