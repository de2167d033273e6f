package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"yuleboard/internal/docstore/core"
)

// writeAtomic replaces a collection file in one rename so watchers never see
// a half-written file.
func writeAtomic(t *testing.T, dir, name, content string) {
	t.Helper()
	tmp := filepath.Join(dir, ".tmp-"+name)
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, name+".json")); err != nil {
		t.Fatalf("rename: %v", err)
	}
}

func waitFor(t *testing.T, w core.Watch, want string) core.Snapshot {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap, ok := <-w.Snapshots():
			if !ok {
				t.Fatalf("watch closed: %v", w.Err())
			}
			if joinIDs(snap) == want {
				return snap
			}
		case <-deadline:
			t.Fatalf("timed out waiting for ids %q", want)
		}
	}
}

func joinIDs(s core.Snapshot) string {
	ids := make([]string, 0, len(s.Documents))
	for _, d := range s.Documents {
		ids = append(ids, d.ID)
	}
	return strings.Join(ids, ",")
}

func TestWatchMissingFileIsEmptyThenPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = s.Close() }()
	w, err := s.Watch(context.Background(), "gifts")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer func() { _ = w.Close() }()
	waitFor(t, w, "")

	writeAtomic(t, dir, "gifts", `{"g2":{"name":"Book","priority":2},"g1":{"name":"Socks","priority":1}}`)
	snap := waitFor(t, w, "g1,g2")
	p, ok := snap.Documents[0].Fields["priority"].(json.Number)
	if !ok || p.String() != "1" {
		t.Fatalf("expected json.Number priority, got %#v", snap.Documents[0].Fields["priority"])
	}

	// other collections do not trigger this watch
	writeAtomic(t, dir, "food", `{"f1":{"name":"Turkey","frozen":true}}`)
	writeAtomic(t, dir, "gifts", `{"g3":{"name":"Scarf","priority":3}}`)
	waitFor(t, w, "g3")
}

func TestMalformedFileIsSkippedAndReported(t *testing.T) {
	dir := t.TempDir()
	writeAtomic(t, dir, "food", `{"f1":{"name":"Ham","frozen":false}}`)
	s, _ := New(dir)
	defer func() { _ = s.Close() }()
	reported := make(chan error, 4)
	s.OnReadError(func(err error) { reported <- err })
	w, err := s.Watch(context.Background(), "food")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer func() { _ = w.Close() }()
	waitFor(t, w, "f1")

	writeAtomic(t, dir, "food", `{not json`)
	select {
	case err := <-reported:
		if err == nil {
			t.Fatalf("expected parse error")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("parse error not reported")
	}
	writeAtomic(t, dir, "food", `{"f2":{"name":"Pie","frozen":true},"f3":"oops"}`)
	snap := waitFor(t, w, "f2,f3")
	if len(snap.Documents[1].Fields) != 0 {
		t.Fatalf("non-object entry should have empty fields, got %v", snap.Documents[1].Fields)
	}
}

func TestWatchRejectsInvalidNamesAndClosedStore(t *testing.T) {
	s, _ := New(t.TempDir())
	for _, name := range []string{"", "../x", "a/b", ".hidden"} {
		if _, err := s.Watch(context.Background(), name); err == nil {
			t.Fatalf("expected error for %q", name)
		}
	}
	w, err := s.Watch(context.Background(), "decorations")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	_ = s.Close()
	for range w.Snapshots() {
	}
	if !errors.Is(w.Err(), core.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", w.Err())
	}
	if _, err := s.Watch(context.Background(), "decorations"); !errors.Is(err, core.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if s.Driver() != core.DriverJSON || s.Dir() == "" {
		t.Fatalf("unexpected driver or dir")
	}
}
