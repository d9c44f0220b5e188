// Package db provides a centralized database connection and schema for curfewd.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Managed devices - one row per switch port under control
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS devices (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			address TEXT NOT NULL,
			username TEXT NOT NULL,
			password TEXT NOT NULL,
			port INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create devices table: %w", err)
	}

	// Weekly allowance windows, minute-of-day bounds, Monday = 0
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS schedules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
			day_of_week INTEGER NOT NULL CHECK (day_of_week BETWEEN 0 AND 6),
			start_min INTEGER NOT NULL CHECK (start_min BETWEEN 0 AND 1439),
			end_min INTEGER NOT NULL CHECK (end_min BETWEEN 0 AND 1439),
			enabled INTEGER NOT NULL DEFAULT 1,
			UNIQUE (device_id, day_of_week, start_min, end_min)
		);
		CREATE INDEX IF NOT EXISTS idx_schedules_device ON schedules(device_id, enabled);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schedules table: %w", err)
	}

	// Temporary access grants - expiry timestamps stored as RFC 3339 UTC text
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS temporary_access (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
			granted_at TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1
		);
		CREATE INDEX IF NOT EXISTS idx_temp_access_device ON temporary_access(device_id, active);
	`)
	if err != nil {
		return fmt.Errorf("failed to create temporary_access table: %w", err)
	}

	// Punishment overrides - at most one active row per device is maintained
	// by the store, not by a constraint, so history rows stay queryable
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS punishment_mode (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
			activated_at TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1
		);
		CREATE INDEX IF NOT EXISTS idx_punishment_device ON punishment_mode(device_id, active);
	`)
	if err != nil {
		return fmt.Errorf("failed to create punishment_mode table: %w", err)
	}

	// Port transition ledger - append-only, no FK so history outlives devices
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS port_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id INTEGER NOT NULL,
			timestamp INTEGER NOT NULL,
			event TEXT NOT NULL,
			reason TEXT NOT NULL,
			detail TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_port_events_device_ts ON port_events(device_id, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create port_events table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
