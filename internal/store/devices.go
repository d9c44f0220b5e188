package store

import (
	"database/sql"
	"fmt"
)

// CreateDevice inserts a new managed device and fills in its ID.
func (s *Store) CreateDevice(d *Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO devices (name, address, username, password, port)
		VALUES (?, ?, ?, ?, ?)
	`, d.Name, d.Address, d.Username, d.Password, d.Port)
	if err != nil {
		return fmt.Errorf("failed to insert device: %w", err)
	}

	d.ID, err = res.LastInsertId()
	return err
}

// Devices returns all managed devices ordered by name.
func (s *Store) Devices() ([]Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, name, address, username, password, port
		FROM devices
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.ID, &d.Name, &d.Address, &d.Username, &d.Password, &d.Port); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}

	return devices, rows.Err()
}

// DeviceByID returns one device or ErrDeviceNotFound.
func (s *Store) DeviceByID(id int64) (*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var d Device
	err := s.db.QueryRow(`
		SELECT id, name, address, username, password, port
		FROM devices
		WHERE id = ?
	`, id).Scan(&d.ID, &d.Name, &d.Address, &d.Username, &d.Password, &d.Port)

	if err == sql.ErrNoRows {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}

	return &d, nil
}

// UpdateDevice rewrites a device's connection settings.
func (s *Store) UpdateDevice(d *Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE devices
		SET name = ?, address = ?, username = ?, password = ?, port = ?
		WHERE id = ?
	`, d.Name, d.Address, d.Username, d.Password, d.Port, d.ID)
	if err != nil {
		return fmt.Errorf("failed to update device: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// DeleteDevice removes a device and, through foreign keys, its schedules
// and overrides. The last remaining device cannot be deleted, so the
// daemon never ends up managing nothing.
func (s *Store) DeleteDevice(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM devices`).Scan(&count); err != nil {
		return err
	}
	if count <= 1 {
		var exists int
		err := tx.QueryRow(`SELECT 1 FROM devices WHERE id = ?`, id).Scan(&exists)
		if err == sql.ErrNoRows {
			return ErrDeviceNotFound
		}
		if err != nil {
			return err
		}
		return ErrLastDevice
	}

	res, err := tx.Exec(`DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDeviceNotFound
	}

	return tx.Commit()
}

// SeedDevices inserts the configured devices when the table is empty.
// An already-populated database is left untouched so API edits survive
// restarts.
func (s *Store) SeedDevices(seeds []Device) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM devices`).Scan(&count); err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}

	for i := range seeds {
		res, err := tx.Exec(`
			INSERT INTO devices (name, address, username, password, port)
			VALUES (?, ?, ?, ?, ?)
		`, seeds[i].Name, seeds[i].Address, seeds[i].Username, seeds[i].Password, seeds[i].Port)
		if err != nil {
			return 0, fmt.Errorf("failed to seed device %q: %w", seeds[i].Name, err)
		}
		if seeds[i].ID, err = res.LastInsertId(); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	return len(seeds), nil
}
