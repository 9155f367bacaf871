package store

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const heartbeatColumns = "id, device_id, application_id, ip_address, status, message, created_at"

func scanHeartbeatLog(stmt *sqlite.Stmt) *HeartbeatLog {
	return &HeartbeatLog{
		ID:            stmt.ColumnInt64(0),
		DeviceID:      stmt.ColumnText(1),
		ApplicationID: stmt.ColumnInt64(2),
		IPAddress:     stmt.ColumnText(3),
		Status:        HeartbeatStatus(stmt.ColumnText(4)),
		Message:       stmt.ColumnText(5),
		CreatedAt:     timeColumn(stmt, 6),
	}
}

// AppendHeartbeatLog writes one audit entry. The table is append-only;
// nothing in the store updates or deletes rows.
func (s *Store) AppendHeartbeatLog(ctx context.Context, log *HeartbeatLog) error {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	err = sqlitex.Execute(conn,
		`INSERT INTO heartbeat_logs (device_id, application_id, ip_address, status, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{log.DeviceID, log.ApplicationID, log.IPAddress,
				string(log.Status), log.Message, unix(log.CreatedAt)},
		})
	if err != nil {
		return fmt.Errorf("store: append heartbeat log: %w", err)
	}
	log.ID = conn.LastInsertRowID()
	return nil
}

// RecentHeartbeats returns the newest audit entries for an
// application, up to limit. appID zero means all applications.
func (s *Store) RecentHeartbeats(ctx context.Context, appID int64, limit int) ([]*HeartbeatLog, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	query := "SELECT " + heartbeatColumns + " FROM heartbeat_logs"
	var args []any
	if appID != 0 {
		query += " WHERE application_id = ?"
		args = append(args, appID)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	var logs []*HeartbeatLog
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			logs = append(logs, scanHeartbeatLog(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: recent heartbeats: %w", err)
	}
	return logs, nil
}

// HeartbeatCounts returns heartbeat outcomes by status since the given
// time, optionally scoped to one application.
func (s *Store) HeartbeatCounts(ctx context.Context, appID int64, since time.Time) (map[HeartbeatStatus]int, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	query := "SELECT status, COUNT(*) FROM heartbeat_logs WHERE created_at >= ?"
	args := []any{unix(since)}
	if appID != 0 {
		query += " AND application_id = ?"
		args = append(args, appID)
	}
	query += " GROUP BY status"

	counts := make(map[HeartbeatStatus]int)
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			counts[HeartbeatStatus(stmt.ColumnText(0))] = stmt.ColumnInt(1)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: heartbeat counts: %w", err)
	}
	return counts, nil
}

// CardCounts returns total and used card counts, optionally scoped to
// a creator (nonzero creatorID).
func (s *Store) CardCounts(ctx context.Context, creatorID int64) (total, used int, err error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer s.pool.put(conn)

	query := "SELECT COUNT(*), COALESCE(SUM(is_used), 0) FROM cards"
	var args []any
	if creatorID != 0 {
		query += " WHERE creator_id = ?"
		args = append(args, creatorID)
	}

	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			total = stmt.ColumnInt(0)
			used = stmt.ColumnInt(1)
			return nil
		},
	})
	if err != nil {
		return 0, 0, fmt.Errorf("store: card counts: %w", err)
	}
	return total, used, nil
}

// DeviceCounts returns total and live (active, unexpired) device
// counts, optionally scoped to one application.
func (s *Store) DeviceCounts(ctx context.Context, appID int64, now time.Time) (total, live int, err error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer s.pool.put(conn)

	query := `SELECT COUNT(*),
	          COALESCE(SUM(CASE WHEN is_active = 1 AND expires_at > ? THEN 1 ELSE 0 END), 0)
	          FROM devices`
	args := []any{unix(now)}
	if appID != 0 {
		query += " WHERE application_id = ?"
		args = append(args, appID)
	}

	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			total = stmt.ColumnInt(0)
			live = stmt.ColumnInt(1)
			return nil
		},
	})
	if err != nil {
		return 0, 0, fmt.Errorf("store: device counts: %w", err)
	}
	return total, live, nil
}
