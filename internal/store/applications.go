package store

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const appColumns = "id, name, app_key, app_secret, owner_id, description, max_devices, heartbeat_interval, is_active, created_at"

func scanApplication(stmt *sqlite.Stmt) *Application {
	return &Application{
		ID:                stmt.ColumnInt64(0),
		Name:              stmt.ColumnText(1),
		AppKey:            stmt.ColumnText(2),
		AppSecret:         stmt.ColumnText(3),
		OwnerID:           stmt.ColumnInt64(4),
		Description:       stmt.ColumnText(5),
		MaxDevices:        stmt.ColumnInt(6),
		HeartbeatInterval: stmt.ColumnInt(7),
		IsActive:          stmt.ColumnInt64(8) != 0,
		CreatedAt:         timeColumn(stmt, 9),
	}
}

// CreateApplication inserts an application and fills in its ID. The
// app_key uniqueness constraint makes the public key globally unique.
func (s *Store) CreateApplication(ctx context.Context, app *Application) error {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	if app.CreatedAt.IsZero() {
		app.CreatedAt = time.Now().UTC()
	}
	err = sqlitex.Execute(conn,
		`INSERT INTO applications (name, app_key, app_secret, owner_id, description, max_devices, heartbeat_interval, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{app.Name, app.AppKey, app.AppSecret, app.OwnerID, app.Description,
				app.MaxDevices, app.HeartbeatInterval, boolInt(app.IsActive), unix(app.CreatedAt)},
		})
	if err != nil {
		return fmt.Errorf("store: create application %q: %w", app.Name, err)
	}
	app.ID = conn.LastInsertRowID()
	return nil
}

// ApplicationByID looks up an application by ID.
func (s *Store) ApplicationByID(ctx context.Context, id int64) (*Application, error) {
	return s.oneApplication(ctx, "id = ?", id)
}

// ApplicationByKey looks up an application by its public key.
func (s *Store) ApplicationByKey(ctx context.Context, appKey string) (*Application, error) {
	return s.oneApplication(ctx, "app_key = ?", appKey)
}

func (s *Store) oneApplication(ctx context.Context, where string, arg any) (*Application, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	var app *Application
	err = sqlitex.Execute(conn,
		"SELECT "+appColumns+" FROM applications WHERE "+where,
		&sqlitex.ExecOptions{
			Args: []any{arg},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				app = scanApplication(stmt)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: query application: %w", err)
	}
	if app == nil {
		return nil, ErrNotFound
	}
	return app, nil
}

// ListApplications returns applications, restricted to an owner when
// ownerID is nonzero.
func (s *Store) ListApplications(ctx context.Context, ownerID int64) ([]*Application, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	query := "SELECT " + appColumns + " FROM applications"
	var args []any
	if ownerID != 0 {
		query += " WHERE owner_id = ?"
		args = append(args, ownerID)
	}
	query += " ORDER BY id"

	var apps []*Application
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			apps = append(apps, scanApplication(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: list applications: %w", err)
	}
	return apps, nil
}

// UpdateApplication updates the mutable attributes. The app_key is
// immutable after creation and deliberately not included.
func (s *Store) UpdateApplication(ctx context.Context, app *Application) error {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE applications
		 SET name = ?, description = ?, max_devices = ?, heartbeat_interval = ?, is_active = ?
		 WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{app.Name, app.Description, app.MaxDevices, app.HeartbeatInterval,
				boolInt(app.IsActive), app.ID},
		})
	if err != nil {
		return fmt.Errorf("store: update application %d: %w", app.ID, err)
	}
	if conn.Changes() == 0 {
		return ErrNotFound
	}
	return nil
}

// RotateAppSecret atomically replaces the application secret. The
// previous value is invalidated by the same UPDATE that installs the
// new one.
func (s *Store) RotateAppSecret(ctx context.Context, appID int64, newSecret string) error {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	err = sqlitex.Execute(conn,
		"UPDATE applications SET app_secret = ? WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{newSecret, appID}})
	if err != nil {
		return fmt.Errorf("store: rotate secret for application %d: %w", appID, err)
	}
	if conn.Changes() == 0 {
		return ErrNotFound
	}
	return nil
}
