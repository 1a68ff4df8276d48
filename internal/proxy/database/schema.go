package database

import (
	"fmt"
)

// createSchema creates the tables and indexes; safe on an existing file
func (d *SQLiteDatabase) createSchema() error {

	// One row per saved loop; steps are stored as a JSON array
	loopsTable := `
	CREATE TABLE IF NOT EXISTS saved_loops (
		scope TEXT NOT NULL DEFAULT '',
		id TEXT NOT NULL,
		position INTEGER NOT NULL,
		station_id TEXT NOT NULL DEFAULT '',
		station_name TEXT NOT NULL DEFAULT '',
		system_id TEXT NOT NULL DEFAULT '',
		poi_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		steps TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		PRIMARY KEY (scope, id)
	);`

	memosTable := `
	CREATE TABLE IF NOT EXISTS system_memos (
		scope TEXT NOT NULL DEFAULT '',
		system_id TEXT NOT NULL,
		system_name TEXT NOT NULL DEFAULT '',
		security_level TEXT NOT NULL DEFAULT 'null',
		description TEXT NOT NULL DEFAULT '',
		pois TEXT NOT NULL DEFAULT '[]',
		connections TEXT NOT NULL DEFAULT '[]',
		mining_stats TEXT NOT NULL DEFAULT '{}',
		saved_at TEXT NOT NULL,
		PRIMARY KEY (scope, system_id)
	);`

	// Preference blobs: bookmarks, map settings, dock state on reload
	blobsTable := `
	CREATE TABLE IF NOT EXISTS kv_blobs (
		scope TEXT NOT NULL DEFAULT '',
		blob_key TEXT NOT NULL,
		blob_value TEXT NOT NULL,
		updated_at TEXT DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (scope, blob_key)
	);`

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_loops_station ON saved_loops(scope, station_id);",
		"CREATE INDEX IF NOT EXISTS idx_loops_position ON saved_loops(scope, position);",
	}

	tables := []string{loopsTable, memosTable, blobsTable}
	for _, table := range tables {
		if _, err := d.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	for _, index := range indexes {
		if _, err := d.db.Exec(index); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// validateSchema checks that every table exists
func (d *SQLiteDatabase) validateSchema() error {
	for _, table := range []string{"saved_loops", "system_memos", "kv_blobs"} {
		var name string
		err := d.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			return fmt.Errorf("missing table %s: %w", table, err)
		}
	}
	return nil
}
