// Package store persists the activation domain in SQLite. It is the
// only shared mutable resource across request handlers; per-card
// consumption is linearized by a compare-and-set UPDATE so concurrent
// activations of the same card see exactly one winner.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrAlreadyConsumed is returned by ConsumeCard when the CAS loses:
// the card was consumed by this or an earlier request.
var ErrAlreadyConsumed = errors.New("store: card already consumed")

// Config holds store parameters.
type Config struct {
	// Path is the SQLite database file, or ":memory:".
	Path string
	// PoolSize is the connection pool size; zero picks a default.
	PoolSize int
	// Logger receives operational messages.
	Logger *slog.Logger
}

// Store is the SQLite-backed persistence layer.
type Store struct {
	pool   *pool
	logger *slog.Logger
}

// Open opens the database, applies the schema and returns the store.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	p, err := openPool(poolConfig{
		path:     cfg.Path,
		poolSize: cfg.PoolSize,
		logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	s := &Store{pool: p, logger: logger.With(slog.String("component", "store"))}
	if err := s.applySchema(); err != nil {
		p.close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.pool.close()
}

func (s *Store) applySchema() error {
	conn, err := s.pool.take(context.Background())
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("store: applying schema: %w", err)
	}
	return nil
}

// timeColumn reads a unix-seconds column into a time.Time. NULL or
// zero yields the zero time.
func timeColumn(stmt *sqlite.Stmt, col int) time.Time {
	if stmt.ColumnIsNull(col) {
		return time.Time{}
	}
	secs := stmt.ColumnInt64(col)
	if secs == 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

// unix converts a time to its stored representation; the zero time
// maps to 0.
func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
