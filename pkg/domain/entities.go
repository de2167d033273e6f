// Package domain defines the holiday list records, categories and column
// layouts shared by the synchronization, rendering and export layers.
package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Category identifies one independently subscribed and sorted list.
type Category string

// Supported categories.
const (
	// CategoryGifts lists gifts with their recipient and priority.
	CategoryGifts Category = "gifts"
	// CategoryFood lists dishes and whether they are kept frozen.
	CategoryFood Category = "food"
	// CategoryDecorations lists decorations and how many are on hand.
	CategoryDecorations Category = "decorations"
)

// Categories returns every category in display order.
func Categories() []Category {
	return []Category{CategoryGifts, CategoryFood, CategoryDecorations}
}

// ParseCategory validates a category name, ignoring case and surrounding space.
func ParseCategory(raw string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", raw)
	}
	return c, nil
}

// Valid reports whether c is one of the supported categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryGifts, CategoryFood, CategoryDecorations:
		return true
	default:
		return false
	}
}

// Title returns the human readable heading used for rendered regions.
func (c Category) Title() string {
	switch c {
	case CategoryGifts:
		return "Gifts"
	case CategoryFood:
		return "Food"
	case CategoryDecorations:
		return "Decorations"
	default:
		return string(c)
	}
}

// Column describes one field of a record in tabular form.
type Column struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// Columns returns the fixed column layout for the category. The order matches
// Record.Values and Record.Display.
func (c Category) Columns() []Column {
	switch c {
	case CategoryGifts:
		return []Column{{"id", "ID"}, {"name", "Gift"}, {"recipient", "Recipient"}, {"priority", "Priority"}}
	case CategoryFood:
		return []Column{{"id", "ID"}, {"name", "Food"}, {"frozen", "Frozen"}}
	case CategoryDecorations:
		return []Column{{"id", "ID"}, {"name", "Decoration"}, {"quantity", "Quantity"}}
	default:
		return nil
	}
}

// Labels returns the header labels of Columns.
func (c Category) Labels() []string {
	cols := c.Columns()
	out := make([]string, len(cols))
	for i, col := range cols {
		out[i] = col.Label
	}
	return out
}

// Record is the in-memory representation of one stored document.
type Record interface {
	Category() Category
	RecordID() string
	// Values returns typed cell values in Columns order.
	Values() []any
	// Display returns rendered cell text in Columns order.
	Display() []string
}

// Gift is a decoded document of the gifts collection.
type Gift struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Recipient string `json:"recipient"`
	Priority  int    `json:"priority"`
}

func (g Gift) Category() Category { return CategoryGifts }
func (g Gift) RecordID() string   { return g.ID }
func (g Gift) Values() []any      { return []any{g.ID, g.Name, g.Recipient, g.Priority} }
func (g Gift) Display() []string {
	return []string{g.ID, g.Name, g.Recipient, strconv.Itoa(g.Priority)}
}

// Food is a decoded document of the food collection.
type Food struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Frozen bool   `json:"frozen"`
}

func (f Food) Category() Category { return CategoryFood }
func (f Food) RecordID() string   { return f.ID }
func (f Food) Values() []any      { return []any{f.ID, f.Name, f.Frozen} }
func (f Food) Display() []string {
	frozen := "No"
	if f.Frozen {
		frozen = "Yes"
	}
	return []string{f.ID, f.Name, frozen}
}

// Decoration is a decoded document of the decorations collection.
type Decoration struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

func (d Decoration) Category() Category { return CategoryDecorations }
func (d Decoration) RecordID() string   { return d.ID }
func (d Decoration) Values() []any      { return []any{d.ID, d.Name, d.Quantity} }
func (d Decoration) Display() []string {
	return []string{d.ID, d.Name, strconv.Itoa(d.Quantity)}
}

// IDs returns the record identifiers in order.
func IDs(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.RecordID()
	}
	return out
}
