package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"yuleboard/internal/blob/core"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	meta := map[string]string{core.MetaFilename: "food.png"}
	info, err := s.Put(ctx, "e1/food.png", strings.NewReader("data"), core.PutOptions{ContentType: "image/png", Metadata: meta})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	meta[core.MetaFilename] = "changed"
	if info.Size != 4 || info.ETag == "" || info.Filename() != "food.png" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "e1/food.png", strings.NewReader("again"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	got, rc, err := s.Get(ctx, "e1/food.png")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	if string(body) != "data" || got.ContentType != "image/png" {
		t.Fatalf("unexpected get %q %+v", body, got)
	}
	got.Metadata[core.MetaFilename] = "mutated"
	head, _ := s.Head(ctx, "e1/food.png")
	if head.Metadata[core.MetaFilename] != "food.png" {
		t.Fatalf("metadata leaked: %+v", head.Metadata)
	}
	_, _ = s.Put(ctx, "e2/gifts.xlsx", strings.NewReader("x"), core.PutOptions{})
	list, _ := s.List(ctx, "e1/")
	if len(list) != 1 || list[0].Key != "e1/food.png" {
		t.Fatalf("unexpected list %+v", list)
	}
	if _, err := s.PresignURL(ctx, "e1/food.png", core.SignedURLOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
	if ok, _ := s.Delete(ctx, "e1/food.png"); !ok {
		t.Fatalf("expected delete true")
	}
	if ok, _ := s.Delete(ctx, "e1/food.png"); ok {
		t.Fatalf("expected delete false")
	}
	if _, _, err := s.Get(ctx, "e1/food.png"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestMemoryStoreFailedPutStoresNothing(t *testing.T) {
	s := New()
	if _, err := s.Put(context.Background(), "k", brokenReader{}, core.PutOptions{}); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := s.Head(context.Background(), "k"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected nothing stored, got %v", err)
	}
	if _, err := s.Put(context.Background(), " ", strings.NewReader("x"), core.PutOptions{}); err == nil {
		t.Fatalf("expected empty key error")
	}
}
