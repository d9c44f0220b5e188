package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ActivePunishment returns the punishment in force at the given instant,
// or nil. Expired rows are filtered out regardless of their stored flag.
func (s *Store) ActivePunishment(deviceID int64, now time.Time) (*Punishment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		p                    Punishment
		activatedAt, expires string
	)
	err := s.db.QueryRow(`
		SELECT id, device_id, activated_at, expires_at, active
		FROM punishment_mode
		WHERE device_id = ? AND active = 1 AND expires_at > ?
		ORDER BY expires_at DESC
		LIMIT 1
	`, deviceID, encodeTime(now)).Scan(&p.ID, &p.DeviceID, &activatedAt, &expires, &p.Active)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if p.ActivatedAt, err = decodeTime(activatedAt); err != nil {
		return nil, fmt.Errorf("failed to decode activated_at: %w", err)
	}
	if p.ExpiresAt, err = decodeTime(expires); err != nil {
		return nil, fmt.Errorf("failed to decode expires_at: %w", err)
	}

	return &p, nil
}

// ActivatePunishment starts a punishment lasting until expiresAt. Any
// punishment already recorded for the device is superseded so at most
// one row per device is ever active.
func (s *Store) ActivatePunishment(deviceID int64, now, expiresAt time.Time) (*Punishment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		UPDATE punishment_mode SET active = 0 WHERE device_id = ? AND active = 1
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to supersede punishment: %w", err)
	}

	p := &Punishment{
		DeviceID:    deviceID,
		ActivatedAt: now.UTC().Truncate(time.Second),
		ExpiresAt:   expiresAt.UTC().Truncate(time.Second),
		Active:      true,
	}
	res, err := tx.Exec(`
		INSERT INTO punishment_mode (device_id, activated_at, expires_at, active)
		VALUES (?, ?, ?, 1)
	`, deviceID, encodeTime(p.ActivatedAt), encodeTime(p.ExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert punishment: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return p, nil
}

// CancelPunishment lifts a device's punishment early. The return reports
// whether one was actually active.
func (s *Store) CancelPunishment(deviceID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE punishment_mode SET active = 0 WHERE device_id = ? AND active = 1
	`, deviceID)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

// ExpireStale deactivates grants and punishments whose expiry has passed.
// Reconciliation runs this before resolving so stored flags catch up with
// evaluated activity; resolution stays correct either way because the
// active-record queries filter by expiry themselves.
func (s *Store) ExpireStale(deviceID int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := encodeTime(now)
	_, err := s.db.Exec(`
		UPDATE temporary_access SET active = 0
		WHERE device_id = ? AND active = 1 AND expires_at <= ?
	`, deviceID, cutoff)
	if err != nil {
		return fmt.Errorf("failed to expire stale grants: %w", err)
	}

	_, err = s.db.Exec(`
		UPDATE punishment_mode SET active = 0
		WHERE device_id = ? AND active = 1 AND expires_at <= ?
	`, deviceID, cutoff)
	if err != nil {
		return fmt.Errorf("failed to expire stale punishments: %w", err)
	}

	return nil
}
