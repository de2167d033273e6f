package docstore

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		cfg  Config
		want Driver
	}{
		{Config{Driver: DriverMemory}, DriverMemory},
		{Config{Dir: t.TempDir()}, DriverJSON},
		{Config{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "s.db")}, DriverSQLite},
	}
	for _, tc := range cases {
		src, err := Open(ctx, tc.cfg)
		if err != nil {
			t.Fatalf("open %s: %v", tc.want, err)
		}
		if src.Driver() != tc.want {
			t.Fatalf("expected %s got %s", tc.want, src.Driver())
		}
		if err := src.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	if _, err := Open(ctx, Config{Driver: "mongo"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestMemoryStoreSatisfiesSource(t *testing.T) {
	var src Source = NewMemory()
	w, err := src.Watch(context.Background(), "gifts")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if snap := <-w.Snapshots(); len(snap.Documents) != 0 {
		t.Fatalf("expected empty collection")
	}
	_ = w.Close()
}
