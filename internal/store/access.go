package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ActiveGrant returns the grant in force at the given instant, or nil.
// Rows whose expiry has passed are filtered out here even when a lazy
// sweep has not deactivated them yet.
func (s *Store) ActiveGrant(deviceID int64, now time.Time) (*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.activeGrant(s.db, deviceID, now)
}

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func (s *Store) activeGrant(q querier, deviceID int64, now time.Time) (*Grant, error) {
	var (
		g                  Grant
		grantedAt, expires string
	)
	err := q.QueryRow(`
		SELECT id, device_id, granted_at, expires_at, active
		FROM temporary_access
		WHERE device_id = ? AND active = 1 AND expires_at > ?
		ORDER BY expires_at DESC
		LIMIT 1
	`, deviceID, encodeTime(now)).Scan(&g.ID, &g.DeviceID, &grantedAt, &expires, &g.Active)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if g.GrantedAt, err = decodeTime(grantedAt); err != nil {
		return nil, fmt.Errorf("failed to decode granted_at: %w", err)
	}
	if g.ExpiresAt, err = decodeTime(expires); err != nil {
		return nil, fmt.Errorf("failed to decode expires_at: %w", err)
	}

	return &g, nil
}

// GrantAccess opens or extends temporary access. A fresh grant expires at
// now plus the duration; granting again while one is in force pushes the
// existing expiry out by the duration, so repeated grants accumulate.
// The second return reports whether an existing grant was extended.
func (s *Store) GrantAccess(deviceID int64, d time.Duration, now time.Time) (*Grant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	current, err := s.activeGrant(tx, deviceID, now)
	if err != nil {
		return nil, false, err
	}

	if current != nil {
		current.ExpiresAt = current.ExpiresAt.Add(d)
		_, err := tx.Exec(`
			UPDATE temporary_access SET expires_at = ? WHERE id = ?
		`, encodeTime(current.ExpiresAt), current.ID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to extend grant: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, err
		}
		return current, true, nil
	}

	g := &Grant{
		DeviceID:  deviceID,
		GrantedAt: now.UTC().Truncate(time.Second),
		ExpiresAt: now.UTC().Truncate(time.Second).Add(d),
		Active:    true,
	}
	res, err := tx.Exec(`
		INSERT INTO temporary_access (device_id, granted_at, expires_at, active)
		VALUES (?, ?, ?, 1)
	`, deviceID, encodeTime(g.GrantedAt), encodeTime(g.ExpiresAt))
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert grant: %w", err)
	}
	if g.ID, err = res.LastInsertId(); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	return g, false, nil
}

// RevokeAccess deactivates a device's grants. The return reports whether
// any grant was actually revoked.
func (s *Store) RevokeAccess(deviceID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE temporary_access SET active = 0 WHERE device_id = ? AND active = 1
	`, deviceID)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n > 0, err
}
