package store

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// poolConfig holds the parameters for opening the SQLite connection
// pool backing the store.
type poolConfig struct {
	// path is the database file. ":memory:" gives an in-memory
	// database, opened through shared cache so the whole pool sees
	// one database rather than one per connection.
	path     string
	poolSize int
	logger   *slog.Logger
}

// pool is a fixed-size pool of SQLite connections with standard
// pragmas applied. Safe for concurrent use; individual connections are
// not — each goroutine takes its own connection and puts it back.
type pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

func openPool(cfg poolConfig) (*pool, error) {
	if cfg.path == "" {
		return nil, fmt.Errorf("store: database path is required")
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.poolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
		if poolSize < 4 {
			poolSize = 4
		}
	}
	dsn := cfg.path
	if dsn == ":memory:" {
		// sqlitex.NewPool rejects a bare ":memory:" because pooled
		// connections would each get an independent database. Shared
		// cache keeps every connection on the same one; a single
		// connection avoids SQLITE_LOCKED between them.
		dsn = "file::memory:?mode=memory&cache=shared"
		poolSize = 1
	}

	inner, err := sqlitex.NewPool(dsn, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", cfg.path, err)
	}

	logger.Info("sqlite pool opened",
		"path", cfg.path,
		"pool_size", poolSize,
	)

	return &pool{inner: inner, logger: logger, path: cfg.path}, nil
}

// take borrows a connection. Blocks until one is available or ctx is
// cancelled. The caller must put it back, typically via defer.
func (p *pool) take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: take connection: %w", err)
	}
	return conn, nil
}

func (p *pool) put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

func (p *pool) close() error {
	if err := p.inner.Close(); err != nil {
		return fmt.Errorf("store: closing %s: %w", p.path, err)
	}
	p.logger.Info("sqlite pool closed", "path", p.path)
	return nil
}

// prepareConnection applies standard pragmas, once per connection.
func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	return nil
}
