// Package core defines the live-query abstraction over document store
// backends used internally by the subscription layer.
package core

import (
	"context"
	"errors"
	"time"
)

// Driver identifies a concrete document store backend implementation.
type Driver string

const (
	// DriverMemory represents the in-process store simulator.
	DriverMemory Driver = "memory" // in-memory (tests, demos)
	// DriverJSON represents a directory of per-collection JSON files.
	DriverJSON Driver = "json" // local files watched with fsnotify (default, dev)
	// DriverSQLite represents an embedded SQLite database.
	DriverSQLite Driver = "sqlite"
	// DriverPostgres represents a PostgreSQL server.
	DriverPostgres Driver = "postgres"
)

// Document is one stored document: a store-assigned identifier plus its flat
// field mapping.
type Document struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Snapshot is the complete set of documents of one collection at a point in
// time, in the backend's delivery order.
type Snapshot struct {
	Collection string     `json:"collection"`
	Documents  []Document `json:"documents"`
	ReadAt     time.Time  `json:"read_at"`
}

// Watch is a live query on one collection.
type Watch interface {
	// Snapshots emits the initial document set and then a full set after every
	// change. The channel closes once the watch is closed or fails.
	Snapshots() <-chan Snapshot
	// Err returns the terminal failure, if any, once Snapshots is closed.
	Err() error
	// Close releases the live query. Safe to call more than once.
	Close() error
}

// Source opens live queries against a document store.
type Source interface {
	Watch(ctx context.Context, collection string) (Watch, error)
	Driver() Driver
	Close() error
}

// ErrClosed is returned when watching on a closed source.
var ErrClosed = errors.New("docstore: source closed")

// CloneFields returns a shallow copy of a document field map.
func CloneFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
