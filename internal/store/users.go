package store

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const userColumns = "id, username, password_hash, role, parent_id, balance, discount, is_active, created_at"

func scanUser(stmt *sqlite.Stmt) *User {
	return &User{
		ID:           stmt.ColumnInt64(0),
		Username:     stmt.ColumnText(1),
		PasswordHash: stmt.ColumnText(2),
		Role:         Role(stmt.ColumnText(3)),
		ParentID:     stmt.ColumnInt64(4),
		Balance:      stmt.ColumnFloat(5),
		Discount:     stmt.ColumnFloat(6),
		IsActive:     stmt.ColumnInt64(7) != 0,
		CreatedAt:    timeColumn(stmt, 8),
	}
}

// CreateUser inserts a user and fills in its assigned ID.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	err = sqlitex.Execute(conn,
		`INSERT INTO users (username, password_hash, role, parent_id, balance, discount, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{u.Username, u.PasswordHash, string(u.Role), u.ParentID,
				u.Balance, u.Discount, boolInt(u.IsActive), unix(u.CreatedAt)},
		})
	if err != nil {
		return fmt.Errorf("store: create user %q: %w", u.Username, err)
	}
	u.ID = conn.LastInsertRowID()
	return nil
}

// UserByUsername looks up a user by unique username.
func (s *Store) UserByUsername(ctx context.Context, username string) (*User, error) {
	return s.oneUser(ctx, "username = ?", username)
}

// UserByID looks up a user by ID.
func (s *Store) UserByID(ctx context.Context, id int64) (*User, error) {
	return s.oneUser(ctx, "id = ?", id)
}

func (s *Store) oneUser(ctx context.Context, where string, arg any) (*User, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	var user *User
	err = sqlitex.Execute(conn,
		"SELECT "+userColumns+" FROM users WHERE "+where,
		&sqlitex.ExecOptions{
			Args: []any{arg},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				user = scanUser(stmt)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: query user: %w", err)
	}
	if user == nil {
		return nil, ErrNotFound
	}
	return user, nil
}

// ListChildren returns the direct children of the given user in the
// agent tree. Sub-agent resources are deliberately not visible through
// inherited hierarchy; this explicit query is the only traversal.
func (s *Store) ListChildren(ctx context.Context, parentID int64) ([]*User, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	var users []*User
	err = sqlitex.Execute(conn,
		"SELECT "+userColumns+" FROM users WHERE parent_id = ? ORDER BY id",
		&sqlitex.ExecOptions{
			Args: []any{parentID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				users = append(users, scanUser(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: list children of %d: %w", parentID, err)
	}
	return users, nil
}

// UpdatePassword replaces a user's password hash.
func (s *Store) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	err = sqlitex.Execute(conn,
		"UPDATE users SET password_hash = ? WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{passwordHash, userID}})
	if err != nil {
		return fmt.Errorf("store: update password for user %d: %w", userID, err)
	}
	if conn.Changes() == 0 {
		return ErrNotFound
	}
	return nil
}

// Recharge atomically adjusts a user's balance and appends a recharge
// log entry in the same transaction. A negative amount is a deduction;
// the balance is not allowed to go below zero.
func (s *Store) Recharge(ctx context.Context, userID int64, amount float64, remark string, operatorID int64) (*RechargeLog, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	endTx, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("store: begin recharge tx: %w", err)
	}
	defer endTx(&err)

	var before float64
	found := false
	err = sqlitex.Execute(conn,
		"SELECT balance FROM users WHERE id = ?",
		&sqlitex.ExecOptions{
			Args: []any{userID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				before = stmt.ColumnFloat(0)
				found = true
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: read balance of user %d: %w", userID, err)
	}
	if !found {
		err = ErrNotFound
		return nil, err
	}

	after := before + amount
	if after < 0 {
		err = fmt.Errorf("store: recharge would overdraw user %d (balance %.2f, amount %.2f)", userID, before, amount)
		return nil, err
	}

	err = sqlitex.Execute(conn,
		"UPDATE users SET balance = ? WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{after, userID}})
	if err != nil {
		return nil, fmt.Errorf("store: update balance of user %d: %w", userID, err)
	}

	now := time.Now().UTC()
	err = sqlitex.Execute(conn,
		`INSERT INTO recharge_logs (user_id, amount, before_balance, after_balance, remark, operator_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{userID, amount, before, after, remark, operatorID, unix(now)},
		})
	if err != nil {
		return nil, fmt.Errorf("store: append recharge log for user %d: %w", userID, err)
	}

	return &RechargeLog{
		ID:            conn.LastInsertRowID(),
		UserID:        userID,
		Amount:        amount,
		BeforeBalance: before,
		AfterBalance:  after,
		Remark:        remark,
		OperatorID:    operatorID,
		CreatedAt:     now,
	}, nil
}
