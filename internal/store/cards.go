package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const cardColumns = "id, card_key, card_type, duration_days, application_id, creator_id, price, is_used, used_by, used_at, expires_at, created_at"

func scanCard(stmt *sqlite.Stmt) *Card {
	return &Card{
		ID:            stmt.ColumnInt64(0),
		CardKey:       stmt.ColumnText(1),
		Type:          CardType(stmt.ColumnText(2)),
		DurationDays:  stmt.ColumnInt(3),
		ApplicationID: stmt.ColumnInt64(4),
		CreatorID:     stmt.ColumnInt64(5),
		Price:         stmt.ColumnFloat(6),
		IsUsed:        stmt.ColumnInt64(7) != 0,
		UsedBy:        stmt.ColumnText(8),
		UsedAt:        timeColumn(stmt, 9),
		ExpiresAt:     timeColumn(stmt, 10),
		CreatedAt:     timeColumn(stmt, 11),
	}
}

// CreateCards inserts a batch of cards in one transaction and fills in
// their IDs. Either the whole batch lands or none of it does.
func (s *Store) CreateCards(ctx context.Context, cards []*Card) error {
	if len(cards) == 0 {
		return nil
	}
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	endTx, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin card batch tx: %w", err)
	}
	defer endTx(&err)

	now := time.Now().UTC()
	for _, c := range cards {
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		err = sqlitex.Execute(conn,
			`INSERT INTO cards (card_key, card_type, duration_days, application_id, creator_id, price, is_used, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{c.CardKey, string(c.Type), c.DurationDays, c.ApplicationID,
					c.CreatorID, c.Price, unix(c.CreatedAt)},
			})
		if err != nil {
			return fmt.Errorf("store: insert card %s: %w", c.CardKey, err)
		}
		c.ID = conn.LastInsertRowID()
	}
	return nil
}

// CardByKey looks up a card by its canonical key.
func (s *Store) CardByKey(ctx context.Context, cardKey string) (*Card, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	var card *Card
	err = sqlitex.Execute(conn,
		"SELECT "+cardColumns+" FROM cards WHERE card_key = ?",
		&sqlitex.ExecOptions{
			Args: []any{cardKey},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				card = scanCard(stmt)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: query card: %w", err)
	}
	if card == nil {
		return nil, ErrNotFound
	}
	return card, nil
}

// ConsumeCard is the compare-and-set at the heart of activation: it
// marks the card consumed if and only if it is still unused. Exactly
// one concurrent caller can win; every other caller gets
// ErrAlreadyConsumed. The consumed flag never transitions back.
func (s *Store) ConsumeCard(ctx context.Context, cardKey, usedBy string, usedAt, expiresAt time.Time) error {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE cards SET is_used = 1, used_by = ?, used_at = ?, expires_at = ?
		 WHERE card_key = ? AND is_used = 0`,
		&sqlitex.ExecOptions{
			Args: []any{usedBy, unix(usedAt), unix(expiresAt), cardKey},
		})
	if err != nil {
		return fmt.Errorf("store: consume card %s: %w", cardKey, err)
	}
	if conn.Changes() == 0 {
		return ErrAlreadyConsumed
	}
	return nil
}

// ConsumeCardForDevice runs the activation write path in one immediate
// transaction: the compare-and-set that consumes the card, then the
// device insert that binds the session. If the insert fails the
// consumption rolls back with it, so a failed activation never burns
// the card. Fills in d.ID on success. The card is consumed in the name
// of d.DeviceID and inherits d.ExpiresAt.
func (s *Store) ConsumeCardForDevice(ctx context.Context, cardKey string, usedAt time.Time, d *Device) (err error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	endTx, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin activation tx: %w", err)
	}
	defer endTx(&err)

	err = sqlitex.Execute(conn,
		`UPDATE cards SET is_used = 1, used_by = ?, used_at = ?, expires_at = ?
		 WHERE card_key = ? AND is_used = 0`,
		&sqlitex.ExecOptions{
			Args: []any{d.DeviceID, unix(usedAt), unix(d.ExpiresAt), cardKey},
		})
	if err != nil {
		return fmt.Errorf("store: consume card %s: %w", cardKey, err)
	}
	if conn.Changes() == 0 {
		err = ErrAlreadyConsumed
		return err
	}

	if d.CreatedAt.IsZero() {
		d.CreatedAt = usedAt
	}
	if d.LastHeartbeat.IsZero() {
		d.LastHeartbeat = usedAt
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

// ListCards returns a filtered, paginated card listing plus the total
// matching count.
func (s *Store) ListCards(ctx context.Context, filter CardFilter, page Page) ([]*Card, int, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer s.pool.put(conn)

	where, args := cardFilterClause(filter)

	total := 0
	err = sqlitex.Execute(conn,
		"SELECT COUNT(*) FROM cards"+where,
		&sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				total = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return nil, 0, fmt.Errorf("store: count cards: %w", err)
	}

	var cards []*Card
	listArgs := append(append([]any{}, args...), page.Size, page.offset())
	err = sqlitex.Execute(conn,
		"SELECT "+cardColumns+" FROM cards"+where+" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		&sqlitex.ExecOptions{
			Args: listArgs,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				cards = append(cards, scanCard(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, 0, fmt.Errorf("store: list cards: %w", err)
	}
	return cards, total, nil
}

// AllCards returns every card matching the filter, unpaginated, for
// exports.
func (s *Store) AllCards(ctx context.Context, filter CardFilter) ([]*Card, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	where, args := cardFilterClause(filter)

	var cards []*Card
	err = sqlitex.Execute(conn,
		"SELECT "+cardColumns+" FROM cards"+where+" ORDER BY created_at DESC, id DESC",
		&sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				cards = append(cards, scanCard(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: export cards: %w", err)
	}
	return cards, nil
}

// DeleteCard removes an unused card. Consumed cards are never deleted.
func (s *Store) DeleteCard(ctx context.Context, cardKey string) error {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	err = sqlitex.Execute(conn,
		"DELETE FROM cards WHERE card_key = ? AND is_used = 0",
		&sqlitex.ExecOptions{Args: []any{cardKey}})
	if err != nil {
		return fmt.Errorf("store: delete card %s: %w", cardKey, err)
	}
	if conn.Changes() == 0 {
		return ErrNotFound
	}
	return nil
}

func cardFilterClause(filter CardFilter) (string, []any) {
	var clauses []string
	var args []any

	if filter.ApplicationID != 0 {
		clauses = append(clauses, "application_id = ?")
		args = append(args, filter.ApplicationID)
	}
	if filter.CreatorID != 0 {
		clauses = append(clauses, "creator_id = ?")
		args = append(args, filter.CreatorID)
	}
	if filter.IsUsed != nil {
		clauses = append(clauses, "is_used = ?")
		args = append(args, boolInt(*filter.IsUsed))
	}
	if filter.Type != "" {
		clauses = append(clauses, "card_type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Keyword != "" {
		clauses = append(clauses, "card_key LIKE ?")
		args = append(args, "%"+filter.Keyword+"%")
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
