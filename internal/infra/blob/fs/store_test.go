package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"yuleboard/internal/blob/core"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestStore_PutGetHeadListDelete(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	meta := map[string]string{core.MetaFilename: "regalos.xlsx", core.MetaCategory: "gifts"}
	info, err := store.Put(ctx, "exp-1/regalos.xlsx", bytes.NewReader([]byte("hello")), core.PutOptions{ContentType: "application/octet-stream", Metadata: meta})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	meta[core.MetaFilename] = "mutated"
	if info.Key != "exp-1/regalos.xlsx" || info.Size != 5 || info.Filename() != "regalos.xlsx" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "exp-1/regalos.xlsx", bytes.NewReader([]byte("x")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	h, err := store.Head(ctx, "exp-1/regalos.xlsx")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	g, rc, err := store.Get(ctx, "exp-1/regalos.xlsx")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(b) != "hello" || g.ETag != h.ETag || g.Metadata[core.MetaFilename] != "regalos.xlsx" {
		t.Fatalf("unexpected get %+v %q", g, b)
	}
	if _, err := store.Put(ctx, "exp-2/other.png", strings.NewReader("png"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	list, err := store.List(ctx, "exp-1/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Key != "exp-1/regalos.xlsx" {
		t.Fatalf("unexpected list %+v", list)
	}
	all, _ := store.List(ctx, "")
	if len(all) != 2 || all[1].Key != "exp-2/other.png" {
		t.Fatalf("unexpected full list %+v", all)
	}
	url, err := store.PresignURL(ctx, "exp-1/regalos.xlsx", core.SignedURLOptions{})
	if err != nil || !strings.HasPrefix(url, "file://") {
		t.Fatalf("presign url: %v %s", err, url)
	}
	if _, err := store.PresignURL(ctx, "exp-1/regalos.xlsx", core.SignedURLOptions{Method: "PUT"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
	ok, err := store.Delete(ctx, "exp-1/regalos.xlsx")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, err = store.Delete(ctx, "exp-1/regalos.xlsx"); err != nil || ok {
		t.Fatalf("second delete should be false")
	}
	if _, _, err := store.Get(ctx, "exp-1/regalos.xlsx"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Head(ctx, "exp-1/regalos.xlsx"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("encode failed") }

func TestStore_FailedPutLeavesNothing(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if _, err := store.Put(ctx, "exp/broken.pdf", failingReader{}, core.PutOptions{}); err == nil {
		t.Fatalf("expected error")
	}
	var files []string
	_ = filepath.WalkDir(store.Root(), func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if len(files) != 0 {
		t.Fatalf("expected no files, got %v", files)
	}
	if _, err := store.Put(ctx, "exp/broken.pdf", strings.NewReader("ok"), core.PutOptions{}); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestStore_InvalidKeys(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	for _, key := range []string{"", "../escape.txt", "/abs", "a/../../b", "x.meta"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
	ctx2, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := store.Put(ctx2, "ok.txt", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if store.Driver() != core.DriverFilesystem {
		t.Fatalf("unexpected driver")
	}
}
