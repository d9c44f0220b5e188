// Package ledger provides an append-only history of port transitions for
// auditing which rule flipped a port and when.
package ledger

import (
	"database/sql"
	"time"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventPortEnabled   EventType = "port_enabled"
	EventPortDisabled  EventType = "port_disabled"
	EventCommandFailed EventType = "command_failed"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64
	DeviceID  int64
	Timestamp time.Time
	Event     EventType
	Reason    string
	Detail    string
}

// Ledger provides append-only event logging
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append adds a new event to the ledger
func (l *Ledger) Append(deviceID int64, at time.Time, event EventType, reason, detail string) error {
	_, err := l.db.Exec(`
		INSERT INTO port_events (device_id, timestamp, event, reason, detail)
		VALUES (?, ?, ?, ?, ?)
	`, deviceID, at.UTC().Unix(), string(event), reason, detail)

	return err
}

// RecentByDevice returns a device's newest entries, newest first
func (l *Ledger) RecentByDevice(deviceID int64, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, device_id, timestamp, event, reason, detail
		FROM port_events
		WHERE device_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			entry     Entry
			timestamp int64
			detail    sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.DeviceID, &timestamp, &entry.Event, &entry.Reason, &detail); err != nil {
			return nil, err
		}
		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		if detail.Valid {
			entry.Detail = detail.String
		}
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result, err := l.db.Exec(`
		DELETE FROM port_events WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
