package store

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const deviceColumns = "id, device_id, token, application_id, card_key, expires_at, last_heartbeat, ip_address, extra_info, is_active, created_at"

func scanDevice(stmt *sqlite.Stmt) *Device {
	return &Device{
		ID:            stmt.ColumnInt64(0),
		DeviceID:      stmt.ColumnText(1),
		Token:         stmt.ColumnText(2),
		ApplicationID: stmt.ColumnInt64(3),
		CardKey:       stmt.ColumnText(4),
		ExpiresAt:     timeColumn(stmt, 5),
		LastHeartbeat: timeColumn(stmt, 6),
		IPAddress:     stmt.ColumnText(7),
		ExtraInfo:     stmt.ColumnText(8),
		IsActive:      stmt.ColumnInt64(9) != 0,
		CreatedAt:     timeColumn(stmt, 10),
	}
}

// CreateDevice inserts a device binding and fills in its ID. The token
// uniqueness constraint guarantees (application, token) identifies at
// most one device.
func (s *Store) CreateDevice(ctx context.Context, d *Device) error {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.LastHeartbeat.IsZero() {
		d.LastHeartbeat = d.CreatedAt
	}
	err = sqlitex.Execute(conn,
		`INSERT INTO devices (device_id, token, application_id, card_key, expires_at, last_heartbeat, ip_address, extra_info, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{d.DeviceID, d.Token, d.ApplicationID, d.CardKey, unix(d.ExpiresAt),
				unix(d.LastHeartbeat), d.IPAddress, d.ExtraInfo, boolInt(d.IsActive), unix(d.CreatedAt)},
		})
	if err != nil {
		return fmt.Errorf("store: create device %s: %w", d.DeviceID, err)
	}
	d.ID = conn.LastInsertRowID()
	return nil
}

// DeviceByBinding resolves a device by the full (application, token,
// device identifier) triple. All three must match exactly.
func (s *Store) DeviceByBinding(ctx context.Context, appID int64, token, deviceID string) (*Device, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	var device *Device
	err = sqlitex.Execute(conn,
		"SELECT "+deviceColumns+" FROM devices WHERE application_id = ? AND token = ? AND device_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{appID, token, deviceID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				device = scanDevice(stmt)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: query device binding: %w", err)
	}
	if device == nil {
		return nil, ErrNotFound
	}
	return device, nil
}

// CountLiveDevices counts active, unexpired devices for the given
// application and device identifier, as observed at the given time.
func (s *Store) CountLiveDevices(ctx context.Context, appID int64, deviceID string, now time.Time) (int, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.put(conn)

	count := 0
	err = sqlitex.Execute(conn,
		`SELECT COUNT(*) FROM devices
		 WHERE application_id = ? AND device_id = ? AND is_active = 1 AND expires_at > ?`,
		&sqlitex.ExecOptions{
			Args: []any{appID, deviceID, unix(now)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("store: count live devices: %w", err)
	}
	return count, nil
}

// TouchDevice records a successful heartbeat: last-heartbeat time and
// last-seen IP. Last-write-wins is fine here; the value only needs to
// be monotonically recent.
func (s *Store) TouchDevice(ctx context.Context, deviceRowID int64, at time.Time, ip string) error {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	err = sqlitex.Execute(conn,
		"UPDATE devices SET last_heartbeat = ?, ip_address = ? WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{unix(at), ip, deviceRowID}})
	if err != nil {
		return fmt.Errorf("store: touch device %d: %w", deviceRowID, err)
	}
	if conn.Changes() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDeviceActive flips the administrative active flag. The verifier
// never calls this; deactivation is an administrative action.
func (s *Store) SetDeviceActive(ctx context.Context, deviceRowID int64, active bool) error {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	err = sqlitex.Execute(conn,
		"UPDATE devices SET is_active = ? WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{boolInt(active), deviceRowID}})
	if err != nil {
		return fmt.Errorf("store: set device %d active=%t: %w", deviceRowID, active, err)
	}
	if conn.Changes() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDevices returns devices for an application, newest first.
func (s *Store) ListDevices(ctx context.Context, appID int64, page Page) ([]*Device, int, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer s.pool.put(conn)

	total := 0
	err = sqlitex.Execute(conn,
		"SELECT COUNT(*) FROM devices WHERE application_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{appID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				total = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return nil, 0, fmt.Errorf("store: count devices: %w", err)
	}

	var devices []*Device
	err = sqlitex.Execute(conn,
		"SELECT "+deviceColumns+" FROM devices WHERE application_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		&sqlitex.ExecOptions{
			Args: []any{appID, page.Size, page.offset()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				devices = append(devices, scanDevice(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, 0, fmt.Errorf("store: list devices: %w", err)
	}
	return devices, total, nil
}
