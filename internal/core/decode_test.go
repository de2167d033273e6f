package core

import (
	"encoding/json"
	"errors"
	"reflect"
	"slices"
	"testing"

	"yuleboard/internal/docstore"
	"yuleboard/pkg/domain"
)

func newDecoder(t *testing.T) *Decoder {
	t.Helper()
	d, err := NewDecoder()
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}
	return d
}

func TestDecodeGiftsMergesIDAndDefaultsRecipient(t *testing.T) {
	d := newDecoder(t)
	docs := []docstore.Document{
		{ID: "g1", Fields: map[string]any{"name": "Socks", "recipient": "Ana", "priority": json.Number("2"), "id": "ignored"}},
		{ID: "g2", Fields: map[string]any{"name": "Book", "priority": 1.0}},
	}
	records, rejected := d.Decode(domain.CategoryGifts, docs)
	if len(rejected) != 0 {
		t.Fatalf("unexpected rejections: %v", rejected)
	}
	want := []domain.Record{
		domain.Gift{ID: "g1", Name: "Socks", Recipient: "Ana", Priority: 2},
		domain.Gift{ID: "g2", Name: "Book", Priority: 1},
	}
	if !reflect.DeepEqual(records, want) {
		t.Fatalf("got %+v, want %+v", records, want)
	}
}

func TestDecodeExcludesMalformedDocuments(t *testing.T) {
	d := newDecoder(t)
	docs := []docstore.Document{
		{ID: "d1", Fields: map[string]any{"name": "Star", "quantity": 3}},
		{ID: "d2", Fields: map[string]any{"name": "Wreath"}},
		{ID: "d3", Fields: map[string]any{"name": "Bauble", "quantity": "three"}},
		{ID: "d4", Fields: map[string]any{"name": "Tinsel", "quantity": 1.5}},
		{ID: "", Fields: map[string]any{"name": "Ghost", "quantity": 1}},
		{ID: "d5", Fields: nil},
	}
	records, rejected := d.Decode(domain.CategoryDecorations, docs)
	if got := domain.IDs(records); !slices.Equal(got, []string{"d1"}) {
		t.Fatalf("expected only d1 decoded, got %v", got)
	}
	if len(rejected) != 5 {
		t.Fatalf("expected 5 rejections, got %d", len(rejected))
	}
	gotIDs := make([]string, len(rejected))
	for i, r := range rejected {
		gotIDs[i] = r.DocumentID
		if r.Category != domain.CategoryDecorations || r.Reason == "" {
			t.Fatalf("incomplete decode error %+v", r)
		}
		if !errors.Is(r, domain.ErrDecode) {
			t.Fatalf("decode error does not match ErrDecode: %v", r)
		}
	}
	if !slices.Equal(gotIDs, []string{"d2", "d3", "d4", "", "d5"}) {
		t.Fatalf("unexpected rejected ids %v", gotIDs)
	}
	if rejected[3].Reason != "missing document id" {
		t.Fatalf("unexpected reason %q", rejected[3].Reason)
	}
}

func TestDecodeFood(t *testing.T) {
	d := newDecoder(t)
	records, rejected := d.Decode(domain.CategoryFood, []docstore.Document{
		{ID: "f1", Fields: map[string]any{"name": "Peas", "frozen": true}},
		{ID: "f2", Fields: map[string]any{"name": "Ham", "frozen": "no"}},
	})
	if len(rejected) != 1 || rejected[0].DocumentID != "f2" {
		t.Fatalf("expected f2 rejected, got %v", rejected)
	}
	want := []domain.Record{domain.Food{ID: "f1", Name: "Peas", Frozen: true}}
	if !reflect.DeepEqual(records, want) {
		t.Fatalf("got %+v, want %+v", records, want)
	}
}

func TestDecodeAcceptsSpanishFieldNames(t *testing.T) {
	d := newDecoder(t)
	tests := []struct {
		category domain.Category
		fields   map[string]any
		want     domain.Record
	}{
		{
			category: domain.CategoryGifts,
			fields:   map[string]any{"nombre": "Libro", "familiar": "Ana", "prioridad": 2},
			want:     domain.Gift{ID: "x", Name: "Libro", Recipient: "Ana", Priority: 2},
		},
		{
			category: domain.CategoryFood,
			fields:   map[string]any{"nombre": "Guisantes", "congelado": true},
			want:     domain.Food{ID: "x", Name: "Guisantes", Frozen: true},
		},
		{
			category: domain.CategoryDecorations,
			fields:   map[string]any{"nombre": "Estrella", "cantidad": json.Number("4")},
			want:     domain.Decoration{ID: "x", Name: "Estrella", Quantity: 4},
		},
		{
			// canonical field wins over its alias
			category: domain.CategoryDecorations,
			fields:   map[string]any{"name": "Star", "nombre": "Estrella", "quantity": 1, "cantidad": 9},
			want:     domain.Decoration{ID: "x", Name: "Star", Quantity: 1},
		},
	}
	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			records, rejected := d.Decode(tt.category, []docstore.Document{{ID: "x", Fields: tt.fields}})
			if len(rejected) != 0 {
				t.Fatalf("unexpected rejection: %v", rejected[0])
			}
			if len(records) != 1 || !reflect.DeepEqual(records[0], tt.want) {
				t.Fatalf("got %+v, want %+v", records, tt.want)
			}
		})
	}

	// an aliased field is still validated
	_, rejected := d.Decode(domain.CategoryGifts, []docstore.Document{
		{ID: "g1", Fields: map[string]any{"nombre": "Libro", "prioridad": "alta"}},
	})
	if len(rejected) != 1 {
		t.Fatalf("expected non-integer prioridad to be rejected")
	}
}

func TestCanonicalFieldsLeavesInputUntouched(t *testing.T) {
	in := map[string]any{"nombre": "Libro", "extra": 1}
	out := canonicalFields(in)
	if _, ok := in["name"]; ok {
		t.Fatalf("input mutated: %v", in)
	}
	if out["name"] != "Libro" || out["extra"] != 1 {
		t.Fatalf("unexpected canonical fields %v", out)
	}
	if _, ok := out["nombre"]; ok {
		t.Fatalf("alias kept: %v", out)
	}
	if got := canonicalFields(nil); got == nil || len(got) != 0 {
		t.Fatalf("expected empty map for nil fields, got %v", got)
	}
}

func TestWholeNumber(t *testing.T) {
	for _, v := range []any{3, int64(3), uint8(3), float32(3), 3.0, json.Number("3"), json.Number("3.0")} {
		n, err := wholeNumber(v)
		if err != nil || n != 3 {
			t.Fatalf("wholeNumber(%T %v) = %d, %v", v, v, n, err)
		}
	}
	for _, v := range []any{2.5, json.Number("1e400"), "3", true} {
		if _, err := wholeNumber(v); err == nil {
			t.Fatalf("expected error for %T %v", v, v)
		}
	}
}
