package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"yuleboard/internal/docstore/core"
	"yuleboard/internal/infra/docstore/sqlpoll"
)

func TestStoreCreatesTableAndStreamsChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "board.db")
	s, err := New(path, sqlpoll.Options{Interval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = s.Close() }()
	if s.Driver() != core.DriverSQLite || s.Path() != path {
		t.Fatalf("unexpected driver/path %s %s", s.Driver(), s.Path())
	}
	insert := `INSERT INTO documents (collection, key, data) VALUES (?, ?, ?)`
	if _, err := s.DB().Exec(insert, "decorations", "d2", `{"name":"Star","quantity":1}`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	w, err := s.Watch(context.Background(), "decorations")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if snap := <-w.Snapshots(); len(snap.Documents) != 1 || snap.Documents[0].ID != "d2" {
		t.Fatalf("unexpected initial snapshot %+v", snap)
	}
	if _, err := s.DB().Exec(insert, "decorations", "d1", `{"name":"Wreath","quantity":1}`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.DB().Exec(insert, "gifts", "g1", `{"name":"Socks","priority":1}`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	select {
	case snap := <-w.Snapshots():
		if len(snap.Documents) != 2 || snap.Documents[0].ID != "d1" || snap.Documents[1].ID != "d2" {
			t.Fatalf("expected key order [d1 d2], got %+v", snap.Documents)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("change not detected")
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.db")
	s, err := New(path, sqlpoll.Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := s.DB().Exec(`INSERT INTO documents VALUES ('food', 'f1', '{"name":"Ham","frozen":false}')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_ = s.Close()
	s2, err := New(path, sqlpoll.Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s2.Close() }()
	w, err := s2.Watch(context.Background(), "food")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer func() { _ = w.Close() }()
	if snap := <-w.Snapshots(); len(snap.Documents) != 1 || snap.Documents[0].Fields["name"] != "Ham" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
