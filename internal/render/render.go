// Package render keeps the visual regions of the board and rasterizes them
// on demand for snapshot exports.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"slices"
	"sort"
	"sync"
)

// ErrRegionNotFound is matched by every RegionNotFoundError.
var ErrRegionNotFound = errors.New("region not found")

// RegionNotFoundError reports a capture of a region that is not published.
type RegionNotFoundError struct {
	RegionID string
}

func (e *RegionNotFoundError) Error() string {
	return fmt.Sprintf("region %q not found", e.RegionID)
}

func (e *RegionNotFoundError) Is(target error) bool { return target == ErrRegionNotFound }

// Capturer produces a raster of a named region as it looks at call time.
type Capturer interface {
	Capture(ctx context.Context, regionID string) (image.Image, error)
}

// Table is the visible content of a region.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
	Accent  color.Color // header fill; nil uses the default
}

func (t Table) clone() Table {
	out := Table{Title: t.Title, Headers: slices.Clone(t.Headers), Rows: make([][]string, len(t.Rows)), Accent: t.Accent}
	for i, r := range t.Rows {
		out.Rows[i] = slices.Clone(r)
	}
	return out
}

// TableRenderer is a registry of table regions and a Capturer over them.
type TableRenderer struct {
	mu      sync.RWMutex
	regions map[string]Table
	scale   int
}

// NewTableRenderer returns an empty renderer. scale multiplies the raster
// size; values below 1 mean 1.
func NewTableRenderer(scale int) *TableRenderer {
	if scale < 1 {
		scale = 1
	}
	return &TableRenderer{regions: make(map[string]Table), scale: scale}
}

// Publish sets or replaces the content of a region.
func (r *TableRenderer) Publish(regionID string, t Table) {
	r.mu.Lock()
	r.regions[regionID] = t.clone()
	r.mu.Unlock()
}

// Remove unregisters a region.
func (r *TableRenderer) Remove(regionID string) {
	r.mu.Lock()
	delete(r.regions, regionID)
	r.mu.Unlock()
}

// Regions lists the published region ids.
func (r *TableRenderer) Regions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.regions))
	for id := range r.regions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Capture rasterizes the region's content as published when Capture was
// called. Later publishes do not affect a capture in progress.
func (r *TableRenderer) Capture(ctx context.Context, regionID string) (image.Image, error) {
	r.mu.RLock()
	t, ok := r.regions[regionID]
	if ok {
		t = t.clone()
	}
	r.mu.RUnlock()
	if !ok {
		return nil, &RegionNotFoundError{RegionID: regionID}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rasterize(t, r.scale), nil
}
