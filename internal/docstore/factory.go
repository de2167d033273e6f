package docstore

import (
	"context"
	"fmt"
	"time"

	"yuleboard/internal/infra/docstore/jsonfile"
	"yuleboard/internal/infra/docstore/memory"
	"yuleboard/internal/infra/docstore/postgres"
	"yuleboard/internal/infra/docstore/sqlite"
	"yuleboard/internal/infra/docstore/sqlpoll"
)

// Config selects and tunes a backend.
type Config struct {
	Driver       Driver
	Dir          string        // json driver
	Path         string        // sqlite driver
	DSN          string        // postgres driver
	PollInterval time.Duration // sqlite/postgres
	PollJitter   float64
	OnError      func(collection string, err error)
}

// MemoryStore is the in-process simulator, exposed so demos and tests can
// seed documents.
type MemoryStore = memory.Store

// NewMemory returns an empty in-process store.
func NewMemory() *MemoryStore { return memory.New() }

// Open builds the configured Source. An empty driver selects json.
func Open(ctx context.Context, cfg Config) (Source, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverJSON
	}
	poll := sqlpoll.Options{Interval: cfg.PollInterval, Jitter: cfg.PollJitter, OnError: cfg.OnError}
	switch cfg.Driver {
	case DriverMemory:
		return memory.New(), nil
	case DriverJSON:
		store, err := jsonfile.New(cfg.Dir)
		if err != nil {
			return nil, err
		}
		if cfg.OnError != nil {
			store.OnReadError(func(err error) { cfg.OnError("", err) })
		}
		return store, nil
	case DriverSQLite:
		return sqlite.New(cfg.Path, poll)
	case DriverPostgres:
		return postgres.New(ctx, cfg.DSN, poll)
	default:
		return nil, fmt.Errorf("unknown docstore driver %s", cfg.Driver)
	}
}
