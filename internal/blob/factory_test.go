package blob

import (
	"context"
	"errors"
	"strings"
	"testing"

	"yuleboard/internal/blob/core"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	fsStore, err := Open(ctx, Config{Root: t.TempDir()})
	if err != nil || fsStore.Driver() != DriverFilesystem {
		t.Fatalf("default driver: %v %v", err, fsStore)
	}
	mem, err := Open(ctx, Config{Driver: DriverMemory})
	if err != nil || mem.Driver() != DriverMemory {
		t.Fatalf("memory driver: %v", err)
	}
	if _, err := Open(ctx, Config{Driver: DriverS3}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
	if _, err := Open(ctx, Config{Driver: "ftp"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestStoresShareSemantics(t *testing.T) {
	ctx := context.Background()
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("fs: %v", err)
	}
	for _, s := range []Store{fsStore, NewMemory(), NewMockS3ForTests()} {
		meta := map[string]string{MetaFilename: "comida.pdf", MetaCategory: "food", MetaFormat: "pdf"}
		if _, err := s.Put(ctx, "x1/comida.pdf", strings.NewReader("%PDF"), PutOptions{ContentType: "application/pdf", Metadata: meta}); err != nil {
			t.Fatalf("%s put: %v", s.Driver(), err)
		}
		if _, err := s.Put(ctx, "x1/comida.pdf", strings.NewReader("%PDF"), PutOptions{}); !errors.Is(err, ErrExists) {
			t.Fatalf("%s expected ErrExists, got %v", s.Driver(), err)
		}
		info, err := s.Head(ctx, "x1/comida.pdf")
		if err != nil {
			t.Fatalf("%s head: %v", s.Driver(), err)
		}
		if info.Filename() != "comida.pdf" || info.Metadata[MetaCategory] != "food" {
			t.Fatalf("%s metadata not kept: %+v", s.Driver(), info)
		}
		if _, err := s.Head(ctx, "x1/missing.pdf"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s expected ErrNotFound, got %v", s.Driver(), err)
		}
	}
}

func TestValidateKey(t *testing.T) {
	cases := map[string]bool{
		"e1/regalos.xlsx": true,
		"regalos.png":     true,
		"":                false,
		"/abs.pdf":        false,
		"e1//x.pdf":       false,
		"e1/../x.pdf":     false,
		"./x.pdf":         false,
		`e1\x.pdf`:        false,
	}
	for key, ok := range cases {
		err := core.ValidateKey(key)
		if ok && err != nil {
			t.Errorf("%q: unexpected error %v", key, err)
		}
		if !ok && !errors.Is(err, ErrInvalidKey) {
			t.Errorf("%q: expected ErrInvalidKey, got %v", key, err)
		}
	}
}
