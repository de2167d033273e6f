package core

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"yuleboard/internal/docstore"
	"yuleboard/pkg/domain"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Decoder turns store documents into records. Documents that fail their
// category schema are excluded from the result and reported individually.
type Decoder struct {
	schemas map[domain.Category]*jsonschema.Schema
}

// NewDecoder compiles the embedded category schemas.
func NewDecoder() (*Decoder, error) {
	c := jsonschema.NewCompiler()
	d := &Decoder{schemas: make(map[domain.Category]*jsonschema.Schema, 3)}
	for _, cat := range domain.Categories() {
		name := "schemas/" + string(cat) + ".json"
		raw, err := schemaFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", name, err)
		}
		if err := c.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
		sch, err := c.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		d.schemas[cat] = sch
	}
	return d, nil
}

// Decode converts a snapshot's documents in store order. The returned errors
// describe every excluded document.
func (d *Decoder) Decode(category domain.Category, docs []docstore.Document) ([]domain.Record, []*domain.DecodeError) {
	records := make([]domain.Record, 0, len(docs))
	var rejected []*domain.DecodeError
	for _, doc := range docs {
		rec, err := d.decodeOne(category, doc)
		if err != nil {
			rejected = append(rejected, err)
			continue
		}
		records = append(records, rec)
	}
	return records, rejected
}

func (d *Decoder) decodeOne(category domain.Category, doc docstore.Document) (domain.Record, *domain.DecodeError) {
	fail := func(reason string) *domain.DecodeError {
		return &domain.DecodeError{Category: category, DocumentID: doc.ID, Reason: reason}
	}
	if strings.TrimSpace(doc.ID) == "" {
		return nil, fail("missing document id")
	}
	sch, ok := d.schemas[category]
	if !ok {
		return nil, fail("unknown category")
	}
	fields := canonicalFields(doc.Fields)
	if err := sch.Validate(fields); err != nil {
		return nil, fail(validationReason(err))
	}
	var err error
	switch category {
	case domain.CategoryGifts:
		g := domain.Gift{ID: doc.ID, Name: fields["name"].(string)}
		if r, ok := fields["recipient"].(string); ok {
			g.Recipient = r
		}
		if g.Priority, err = wholeNumber(fields["priority"]); err != nil {
			return nil, fail("priority: " + err.Error())
		}
		return g, nil
	case domain.CategoryFood:
		return domain.Food{ID: doc.ID, Name: fields["name"].(string), Frozen: fields["frozen"].(bool)}, nil
	case domain.CategoryDecorations:
		dec := domain.Decoration{ID: doc.ID, Name: fields["name"].(string)}
		if dec.Quantity, err = wholeNumber(fields["quantity"]); err != nil {
			return nil, fail("quantity: " + err.Error())
		}
		return dec, nil
	}
	return nil, fail("unknown category")
}

// fieldAliases maps the Spanish field names written by older clients onto
// the canonical ones.
var fieldAliases = map[string]string{
	"nombre":    "name",
	"familiar":  "recipient",
	"prioridad": "priority",
	"congelado": "frozen",
	"cantidad":  "quantity",
}

// canonicalFields returns a copy of fields with aliases renamed. A canonical
// field takes precedence over its alias.
func canonicalFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if _, alias := fieldAliases[k]; !alias {
			out[k] = v
		}
	}
	for alias, name := range fieldAliases {
		v, ok := fields[alias]
		if !ok {
			continue
		}
		if _, set := out[name]; !set {
			out[name] = v
		}
	}
	return out
}

// validationReason keeps the innermost message of a schema failure.
func validationReason(err error) string {
	lines := strings.Split(strings.TrimSpace(err.Error()), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	return strings.TrimSpace(strings.TrimPrefix(last, "-"))
}

var errNotWhole = errors.New("not a whole number")

func wholeNumber(v any) (int, error) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), nil
		}
		parsed, err := n.Float64()
		if err != nil {
			return 0, err
		}
		f = parsed
	case int:
		return n, nil
	case int8:
		return int(n), nil
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint8:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint32:
		return int(n), nil
	case uint64:
		if n > math.MaxInt {
			return 0, errNotWhole
		}
		return int(n), nil
	case uint:
		if uint64(n) > math.MaxInt {
			return 0, errNotWhole
		}
		return int(n), nil
	case float32:
		f = float64(n)
	case float64:
		f = n
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) || f > math.MaxInt || f < math.MinInt {
		return 0, errNotWhole
	}
	return int(f), nil
}
