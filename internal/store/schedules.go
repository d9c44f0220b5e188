package store

import (
	"database/sql"
	"fmt"
)

// DeviceWindows returns a device's enabled schedule windows ordered by
// day and start.
func (s *Store) DeviceWindows(deviceID int64) ([]Window, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, device_id, day_of_week, start_min, end_min, enabled
		FROM schedules
		WHERE device_id = ? AND enabled = 1
		ORDER BY day_of_week, start_min
	`, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var windows []Window
	for rows.Next() {
		var w Window
		if err := rows.Scan(&w.ID, &w.DeviceID, &w.Day, &w.StartMin, &w.EndMin, &w.Enabled); err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}

	return windows, rows.Err()
}

// AddWindow inserts a schedule window and fills in its ID. Re-adding an
// identical window replaces the existing row instead of failing.
func (s *Store) AddWindow(w *Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT OR REPLACE INTO schedules (device_id, day_of_week, start_min, end_min, enabled)
		VALUES (?, ?, ?, ?, 1)
	`, w.DeviceID, w.Day, w.StartMin, w.EndMin)
	if err != nil {
		return fmt.Errorf("failed to insert schedule window: %w", err)
	}

	w.Enabled = true
	w.ID, err = res.LastInsertId()
	return err
}

// DeleteWindow removes one schedule window or returns ErrWindowNotFound.
// The second return is the owning device, so callers can reconcile it.
func (s *Store) DeleteWindow(id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deviceID int64
	err := s.db.QueryRow(`SELECT device_id FROM schedules WHERE id = ?`, id).Scan(&deviceID)
	if err == sql.ErrNoRows {
		return 0, ErrWindowNotFound
	}
	if err != nil {
		return 0, err
	}

	if _, err := s.db.Exec(`DELETE FROM schedules WHERE id = ?`, id); err != nil {
		return 0, err
	}

	return deviceID, nil
}
