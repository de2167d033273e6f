// Package docstore re-exports the live-query abstractions for stable imports
// and selects a backend from configuration.
package docstore

import (
	"yuleboard/internal/docstore/core"
)

type (
	// Driver identifies a document store backend.
	Driver = core.Driver
	// Document is a single stored document.
	Document = core.Document
	// Snapshot is the full document set of a collection.
	Snapshot = core.Snapshot
	// Watch is a live query on one collection.
	Watch = core.Watch
	// Source opens live queries.
	Source = core.Source
)

const (
	// DriverMemory is the in-process simulator.
	DriverMemory = core.DriverMemory
	// DriverJSON is the directory of JSON files.
	DriverJSON = core.DriverJSON
	// DriverSQLite is the embedded SQLite database.
	DriverSQLite = core.DriverSQLite
	// DriverPostgres is the PostgreSQL server.
	DriverPostgres = core.DriverPostgres
)

// ErrClosed is returned when watching on a closed source.
var ErrClosed = core.ErrClosed
