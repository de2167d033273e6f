// Package postgres provides a Postgres-backed document store whose live
// queries are served by polling the documents table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"yuleboard/internal/docstore/core"
	"yuleboard/internal/infra/docstore/sqlpoll"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/yuleboard?sslmode=disable"

	selectCollection = `SELECT key, data::text FROM documents WHERE collection = $1 ORDER BY key`
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store reads documents from a Postgres table with the same layout as the
// SQLite backend, data stored as JSONB.
type Store struct {
	db     *sql.DB
	poller *sqlpoll.Poller
}

// New opens a store using dsn (falls back to defaultDSN) and ensures the
// documents table exists.
func New(ctx context.Context, dsn string, opts sqlpoll.Options) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureDocumentsTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, poller: sqlpoll.New(db, selectCollection, opts)}, nil
}

func ensureDocumentsTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		key TEXT NOT NULL,
		data JSONB NOT NULL,
		PRIMARY KEY (collection, key)
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure documents table: %w", err)
	}
	return nil
}

// Driver returns the store driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverPostgres }

// Watch opens a polled live query on a collection.
func (s *Store) Watch(ctx context.Context, collection string) (core.Watch, error) {
	return s.poller.Watch(ctx, collection)
}

// Close stops all watches and closes the connection pool.
func (s *Store) Close() error {
	s.poller.Close()
	return s.db.Close()
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }
