package sqlpoll

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"yuleboard/internal/docstore/core"
)

func TestJitteredIntervalWithSample(t *testing.T) {
	base := 10 * time.Second
	cases := []struct {
		name   string
		ratio  float64
		sample float64
		want   time.Duration
	}{
		{"no jitter", 0, 0.9, base},
		{"low edge", 0.2, 0, 8 * time.Second},
		{"midpoint", 0.2, 0.5, base},
		{"high edge", 0.2, 1, 12 * time.Second},
		{"clamped sample", 0.2, 3, 12 * time.Second},
		{"clamped ratio", 5, 0, time.Millisecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := jitteredIntervalWithSample(base, tc.ratio, tc.sample); got != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
	if got := jitteredIntervalWithSample(0, 0.5, 0.5); got != 0 {
		t.Fatalf("zero base should stay zero, got %s", got)
	}
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "poll.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Exec(`CREATE TABLE documents (collection TEXT, key TEXT, data TEXT, PRIMARY KEY (collection, key))`); err != nil {
		t.Fatalf("create: %v", err)
	}
	return db
}

const query = `SELECT key, data FROM documents WHERE collection = ? ORDER BY key`

func TestPollerEmitsOnlyOnChange(t *testing.T) {
	db := openDB(t)
	mustExec(t, db, `INSERT INTO documents VALUES ('gifts', 'g1', '{"name":"Socks","priority":1}')`)
	p := New(db, query, Options{Interval: 10 * time.Millisecond})
	defer p.Close()
	w, err := p.Watch(context.Background(), "gifts")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	first := <-w.Snapshots()
	if len(first.Documents) != 1 || first.Documents[0].Fields["name"] != "Socks" {
		t.Fatalf("unexpected initial snapshot %+v", first)
	}
	select {
	case snap := <-w.Snapshots():
		t.Fatalf("unchanged table emitted %+v", snap)
	case <-time.After(80 * time.Millisecond):
	}
	mustExec(t, db, `INSERT INTO documents VALUES ('gifts', 'g0', 'not json')`)
	select {
	case snap := <-w.Snapshots():
		if len(snap.Documents) != 2 || snap.Documents[0].ID != "g0" || len(snap.Documents[0].Fields) != 0 {
			t.Fatalf("unexpected snapshot %+v", snap)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("change not detected")
	}
	_ = w.Close()
}

func TestPollerFailsAfterMaxFailures(t *testing.T) {
	db := openDB(t)
	var reported int
	p := New(db, query, Options{Interval: 5 * time.Millisecond, MaxFailures: 2, OnError: func(string, error) { reported++ }})
	defer p.Close()
	w, err := p.Watch(context.Background(), "food")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	<-w.Snapshots()
	mustExec(t, db, `DROP TABLE documents`)
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-w.Snapshots():
			if ok {
				continue
			}
			if w.Err() == nil {
				t.Fatalf("expected terminal error")
			}
			if reported < 2 {
				t.Fatalf("expected failures reported, got %d", reported)
			}
			return
		case <-deadline:
			t.Fatalf("watch did not fail")
		}
	}
}

func TestPollerCloseAndValidation(t *testing.T) {
	db := openDB(t)
	p := New(db, query, Options{})
	if p.opts.Interval != 2*time.Second || p.opts.MaxFailures != 5 {
		t.Fatalf("defaults not applied: %+v", p.opts)
	}
	if _, err := p.Watch(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty collection")
	}
	w, err := p.Watch(context.Background(), "decorations")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	p.Close()
	for range w.Snapshots() {
	}
	if !errors.Is(w.Err(), core.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", w.Err())
	}
	if _, err := p.Watch(context.Background(), "decorations"); !errors.Is(err, core.ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func mustExec(t *testing.T, db *sql.DB, stmt string) {
	t.Helper()
	if _, err := db.Exec(stmt); err != nil {
		t.Fatalf("exec %s: %v", stmt, err)
	}
}
