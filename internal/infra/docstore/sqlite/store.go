// Package sqlite provides a SQLite-backed document store whose live queries
// are served by polling the documents table.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"yuleboard/internal/docstore/core"
	"yuleboard/internal/infra/docstore/sqlpoll"
)

const selectCollection = `SELECT key, data FROM documents WHERE collection = ? ORDER BY key`

// Store reads documents from a single SQLite table:
//
//	documents(collection, key, data)  PRIMARY KEY (collection, key)
//
// data holds the document fields as a JSON object.
type Store struct {
	db     *sql.DB
	path   string
	poller *sqlpoll.Poller
}

// New opens (or creates) the database at path.
func New(path string, opts sqlpoll.Options) (*Store, error) {
	if path == "" {
		path = "yuleboard.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		key TEXT NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (collection, key)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create documents table: %w", err)
	}
	return &Store{db: db, path: path, poller: sqlpoll.New(db, selectCollection, opts)}, nil
}

// Driver returns the store driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverSQLite }

// Watch opens a polled live query on a collection.
func (s *Store) Watch(ctx context.Context, collection string) (core.Watch, error) {
	return s.poller.Watch(ctx, collection)
}

// Close stops all watches and closes the database.
func (s *Store) Close() error {
	s.poller.Close()
	return s.db.Close()
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
