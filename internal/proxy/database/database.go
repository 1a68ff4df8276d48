package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

// ErrNotOpen is returned by every operation on a closed database
var ErrNotOpen = errors.New("database not open")

const memoryDSN = ":memory:"

// Database is the client's local persistence. Every operation takes a
// scope: the logged-in username, or "" for device-level data.
type Database interface {
	OpenDatabase(filename string) error
	CreateDatabase(filename string) error
	CloseDatabase() error
	GetDatabaseOpen() bool

	// Saved loops, kept in display order
	LoadLoops(scope string) ([]SavedLoop, error)
	SaveLoops(scope string, loops []SavedLoop) error

	// System memos
	SaveSystemMemo(scope string, memo SystemMemo) error
	ReplaceSystemMemo(scope string, memo SystemMemo) error
	LoadSystemMemo(scope, systemID string) (SystemMemo, bool, error)
	AllSystemMemos(scope string) ([]SystemMemo, error)
	AddMiningYield(scope, systemID, poiID, item string, quantity int) error

	// Preference blobs
	PutBlob(scope, key string, value json.RawMessage) error
	GetBlob(scope, key string) (json.RawMessage, bool, error)
	DeleteBlob(scope, key string) error
	Blobs(scope string) (map[string]json.RawMessage, error)

	// MigrateScope copies device-level rows into username's scope for every
	// table where that user has nothing yet
	MigrateScope(username string) error
}

// SQLiteDatabase implements Database on modernc.org/sqlite
type SQLiteDatabase struct {
	db       *sql.DB
	dbOpen   bool
	filename string
	sq       squirrel.StatementBuilderType
}

// NewDatabase creates a closed database handle
func NewDatabase() *SQLiteDatabase {
	return &SQLiteDatabase{sq: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)}
}

// OpenDatabase opens an existing database file
func (d *SQLiteDatabase) OpenDatabase(filename string) error {
	if filename != memoryDSN {
		if _, err := os.Stat(filename); err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
	}
	return d.open(filename)
}

// CreateDatabase opens filename, creating it and its directory when missing
func (d *SQLiteDatabase) CreateDatabase(filename string) error {
	if filename != memoryDSN {
		if dir := filepath.Dir(filename); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	return d.open(filename)
}

func (d *SQLiteDatabase) open(filename string) error {
	if d.dbOpen {
		return fmt.Errorf("database already open")
	}

	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases consistent and
	// serializes writers on a file
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	d.db = db
	if err = d.createSchema(); err != nil {
		db.Close()
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if err = d.validateSchema(); err != nil {
		db.Close()
		return fmt.Errorf("schema validation failed: %w", err)
	}

	d.filename = filename
	d.dbOpen = true
	return nil
}

// CloseDatabase closes the connection; closing twice is a no-op
func (d *SQLiteDatabase) CloseDatabase() error {
	if !d.dbOpen {
		return nil
	}
	d.dbOpen = false
	d.filename = ""
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func (d *SQLiteDatabase) GetDatabaseOpen() bool {
	return d.dbOpen
}

// LoadLoops returns the saved loops of scope in display order
func (d *SQLiteDatabase) LoadLoops(scope string) ([]SavedLoop, error) {
	if !d.dbOpen {
		return nil, ErrNotOpen
	}
	query, args, err := d.sq.
		Select("id", "station_id", "station_name", "system_id", "poi_id", "name", "steps", "created_at").
		From("saved_loops").
		Where(squirrel.Eq{"scope": scope}).
		OrderBy("position").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load loops: %w", err)
	}
	defer rows.Close()

	loops := []SavedLoop{}
	for rows.Next() {
		var (
			loop      SavedLoop
			steps     string
			createdAt string
		)
		if err := rows.Scan(&loop.ID, &loop.StationID, &loop.StationName, &loop.SystemID, &loop.POIID, &loop.Name, &steps, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan loop: %w", err)
		}
		if err := json.Unmarshal([]byte(steps), &loop.Steps); err != nil {
			return nil, fmt.Errorf("loop %s steps: %w", loop.ID, err)
		}
		loop.CreatedAt = parseTime(createdAt)
		loops = append(loops, loop)
	}
	return loops, rows.Err()
}

// SaveLoops replaces every loop of scope with loops, in order
func (d *SQLiteDatabase) SaveLoops(scope string, loops []SavedLoop) error {
	if !d.dbOpen {
		return ErrNotOpen
	}
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query, args, err := d.sq.Delete("saved_loops").Where(squirrel.Eq{"scope": scope}).ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to clear loops: %w", err)
	}

	for i, loop := range loops {
		steps, err := json.Marshal(loop.Steps)
		if err != nil {
			return fmt.Errorf("loop %s steps: %w", loop.ID, err)
		}
		query, args, err := d.sq.Insert("saved_loops").
			Columns("scope", "id", "position", "station_id", "station_name", "system_id", "poi_id", "name", "steps", "created_at").
			Values(scope, loop.ID, i, loop.StationID, loop.StationName, loop.SystemID, loop.POIID, loop.Name, string(steps), formatTime(loop.CreatedAt)).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(query, args...); err != nil {
			return fmt.Errorf("failed to save loop %s: %w", loop.ID, err)
		}
	}
	return tx.Commit()
}

// SaveSystemMemo stores memo, keeping mining stats already recorded for the system
func (d *SQLiteDatabase) SaveSystemMemo(scope string, memo SystemMemo) error {
	if !d.dbOpen {
		return ErrNotOpen
	}
	if memo.SystemID == "" {
		return fmt.Errorf("system memo without system id")
	}
	existing, found, err := d.LoadSystemMemo(scope, memo.SystemID)
	if err != nil {
		return err
	}
	if found && len(existing.MiningStats) > 0 {
		memo.MiningStats = existing.MiningStats
	}
	return d.writeMemo(scope, memo)
}

// ReplaceSystemMemo stores memo as given, mining stats included
func (d *SQLiteDatabase) ReplaceSystemMemo(scope string, memo SystemMemo) error {
	if !d.dbOpen {
		return ErrNotOpen
	}
	if memo.SystemID == "" {
		return fmt.Errorf("system memo without system id")
	}
	return d.writeMemo(scope, memo)
}

func (d *SQLiteDatabase) writeMemo(scope string, memo SystemMemo) error {
	pois, err := json.Marshal(nonNil(memo.POIs))
	if err != nil {
		return err
	}
	conns, err := json.Marshal(nonNil(memo.Connections))
	if err != nil {
		return err
	}
	if memo.MiningStats == nil {
		memo.MiningStats = map[string]MiningStats{}
	}
	stats, err := json.Marshal(memo.MiningStats)
	if err != nil {
		return err
	}

	query, args, err := d.sq.Insert("system_memos").
		Columns("scope", "system_id", "system_name", "security_level", "description", "pois", "connections", "mining_stats", "saved_at").
		Values(scope, memo.SystemID, memo.SystemName, memo.SecurityLevel, memo.Description, string(pois), string(conns), string(stats), formatTime(memo.SavedAt)).
		Suffix(`ON CONFLICT(scope, system_id) DO UPDATE SET
			system_name = excluded.system_name,
			security_level = excluded.security_level,
			description = excluded.description,
			pois = excluded.pois,
			connections = excluded.connections,
			mining_stats = excluded.mining_stats,
			saved_at = excluded.saved_at`).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := d.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to save memo %s: %w", memo.SystemID, err)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// LoadSystemMemo returns the memo for systemID, if any
func (d *SQLiteDatabase) LoadSystemMemo(scope, systemID string) (SystemMemo, bool, error) {
	memos, err := d.queryMemos(squirrel.Eq{"scope": scope, "system_id": systemID})
	if err != nil {
		return SystemMemo{}, false, err
	}
	if len(memos) == 0 {
		return SystemMemo{}, false, nil
	}
	return memos[0], true, nil
}

// AllSystemMemos returns every memo of scope ordered by system id
func (d *SQLiteDatabase) AllSystemMemos(scope string) ([]SystemMemo, error) {
	return d.queryMemos(squirrel.Eq{"scope": scope})
}

func (d *SQLiteDatabase) queryMemos(where squirrel.Eq) ([]SystemMemo, error) {
	if !d.dbOpen {
		return nil, ErrNotOpen
	}
	query, args, err := d.sq.
		Select("system_id", "system_name", "security_level", "description", "pois", "connections", "mining_stats", "saved_at").
		From("system_memos").
		Where(where).
		OrderBy("system_id").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load memos: %w", err)
	}
	defer rows.Close()

	var memos []SystemMemo
	for rows.Next() {
		var (
			memo                  SystemMemo
			pois, conns, stats, at string
		)
		if err := rows.Scan(&memo.SystemID, &memo.SystemName, &memo.SecurityLevel, &memo.Description, &pois, &conns, &stats, &at); err != nil {
			return nil, fmt.Errorf("failed to scan memo: %w", err)
		}
		if err := json.Unmarshal([]byte(pois), &memo.POIs); err != nil {
			return nil, fmt.Errorf("memo %s pois: %w", memo.SystemID, err)
		}
		if err := json.Unmarshal([]byte(conns), &memo.Connections); err != nil {
			return nil, fmt.Errorf("memo %s connections: %w", memo.SystemID, err)
		}
		if err := json.Unmarshal([]byte(stats), &memo.MiningStats); err != nil {
			return nil, fmt.Errorf("memo %s mining stats: %w", memo.SystemID, err)
		}
		memo.SavedAt = parseTime(at)
		memos = append(memos, memo)
	}
	return memos, rows.Err()
}

// AddMiningYield adds quantity of item to the stats of poiID. Systems
// without a memo are ignored.
func (d *SQLiteDatabase) AddMiningYield(scope, systemID, poiID, item string, quantity int) error {
	if systemID == "" || poiID == "" || item == "" || quantity <= 0 {
		return nil
	}
	memo, found, err := d.LoadSystemMemo(scope, systemID)
	if err != nil || !found {
		return err
	}
	if memo.MiningStats == nil {
		memo.MiningStats = map[string]MiningStats{}
	}
	stats := memo.MiningStats[poiID]
	if stats.Items == nil {
		stats.Items = map[string]int{}
	}
	stats.TotalMined += quantity
	stats.Items[item] += quantity
	memo.MiningStats[poiID] = stats
	return d.writeMemo(scope, memo)
}

// PutBlob stores value under key
func (d *SQLiteDatabase) PutBlob(scope, key string, value json.RawMessage) error {
	if !d.dbOpen {
		return ErrNotOpen
	}
	if !json.Valid(value) {
		return fmt.Errorf("blob %s is not valid JSON", key)
	}
	query, args, err := d.sq.Insert("kv_blobs").
		Columns("scope", "blob_key", "blob_value", "updated_at").
		Values(scope, key, string(value), formatTime(time.Now())).
		Suffix("ON CONFLICT(scope, blob_key) DO UPDATE SET blob_value = excluded.blob_value, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return err
	}
	if _, err := d.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to save blob %s: %w", key, err)
	}
	return nil
}

// GetBlob returns the value stored under key
func (d *SQLiteDatabase) GetBlob(scope, key string) (json.RawMessage, bool, error) {
	if !d.dbOpen {
		return nil, false, ErrNotOpen
	}
	query, args, err := d.sq.Select("blob_value").From("kv_blobs").
		Where(squirrel.Eq{"scope": scope, "blob_key": key}).
		ToSql()
	if err != nil {
		return nil, false, err
	}
	var value string
	err = d.db.QueryRow(query, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load blob %s: %w", key, err)
	}
	return json.RawMessage(value), true, nil
}

func (d *SQLiteDatabase) DeleteBlob(scope, key string) error {
	if !d.dbOpen {
		return ErrNotOpen
	}
	query, args, err := d.sq.Delete("kv_blobs").Where(squirrel.Eq{"scope": scope, "blob_key": key}).ToSql()
	if err != nil {
		return err
	}
	if _, err := d.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

// Blobs returns every blob of scope keyed by name
func (d *SQLiteDatabase) Blobs(scope string) (map[string]json.RawMessage, error) {
	if !d.dbOpen {
		return nil, ErrNotOpen
	}
	query, args, err := d.sq.Select("blob_key", "blob_value").From("kv_blobs").
		Where(squirrel.Eq{"scope": scope}).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load blobs: %w", err)
	}
	defer rows.Close()

	blobs := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan blob: %w", err)
		}
		blobs[key] = json.RawMessage(value)
	}
	return blobs, rows.Err()
}

// scopedTables lists each table with the columns copied by MigrateScope
var scopedTables = []struct {
	name    string
	columns string
}{
	{"saved_loops", "id, position, station_id, station_name, system_id, poi_id, name, steps, created_at"},
	{"system_memos", "system_id, system_name, security_level, description, pois, connections, mining_stats, saved_at"},
	{"kv_blobs", "blob_key, blob_value, updated_at"},
}

func (d *SQLiteDatabase) MigrateScope(username string) error {
	if !d.dbOpen {
		return ErrNotOpen
	}
	if username == "" {
		return nil
	}
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range scopedTables {
		var count int
		if err := tx.QueryRow("SELECT COUNT(*) FROM "+table.name+" WHERE scope = ?", username).Scan(&count); err != nil {
			return fmt.Errorf("failed to count %s: %w", table.name, err)
		}
		if count > 0 {
			continue
		}
		query := fmt.Sprintf("INSERT INTO %s (scope, %s) SELECT ?, %s FROM %s WHERE scope = ''",
			table.name, table.columns, table.columns, table.name)
		if _, err := tx.Exec(query, username); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", table.name, err)
		}
	}
	return tx.Commit()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
