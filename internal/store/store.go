// Package store persists devices, weekly schedules and access overrides.
// Timestamps are stored as RFC 3339 UTC text at second precision so SQL
// string comparison orders them chronologically.
package store

import (
	"database/sql"
	"errors"
	"sync"
	"time"
)

var (
	// ErrDeviceNotFound is returned when a device lookup matches no row.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrWindowNotFound is returned when a schedule window lookup matches no row.
	ErrWindowNotFound = errors.New("schedule window not found")
	// ErrLastDevice is returned when deleting the only remaining device.
	ErrLastDevice = errors.New("cannot delete the last device")
)

// Store provides access to all persisted records. Writes are serialized
// with a mutex so concurrent per-device reconciliations never contend on
// the single SQLite writer.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new Store using the provided database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func encodeTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func decodeTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
