// Package board holds the current ordered collection of every category and
// keeps the rendered regions in step with them. All state is owned by the
// event loop.
package board

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"log/slog"
	"slices"

	"yuleboard/internal/core"
	"yuleboard/internal/render"
	"yuleboard/pkg/domain"
)

// RegionPublisher receives region content. render.TableRenderer implements it.
type RegionPublisher interface {
	Publish(regionID string, t render.Table)
	Remove(regionID string)
}

// RegionID returns the render region of a category, e.g. "gifts-table".
func RegionID(c domain.Category) string { return string(c) + "-table" }

var accents = map[domain.Category]color.Color{
	domain.CategoryGifts:       color.RGBA{R: 0x0d, G: 0x6e, B: 0xfd, A: 0xff},
	domain.CategoryFood:        color.RGBA{R: 0x19, G: 0x87, B: 0x54, A: 0xff},
	domain.CategoryDecorations: color.RGBA{R: 0xdc, G: 0x35, B: 0x45, A: 0xff},
}

// Table builds the visible table of a category. The id column is part of the
// tabular export but not of the rendered view.
func Table(c domain.Category, records []domain.Record) render.Table {
	t := render.Table{Title: c.Title(), Headers: c.Labels()[1:], Rows: make([][]string, 0, len(records)), Accent: accents[c]}
	for _, r := range records {
		t.Rows = append(t.Rows, r.Display()[1:])
	}
	return t
}

// Health describes one category subscription.
type Health struct {
	Category domain.Category `json:"category"`
	Status   string          `json:"status"` // ok|failed|closed
	Records  int             `json:"records"`
	Seq      uint64          `json:"seq"`
	Error    string          `json:"error,omitempty"`
}

// Board is the presentation state of the three lists.
type Board struct {
	manager *core.Manager
	regions RegionPublisher
	logger  *slog.Logger

	// loop-owned
	records   map[domain.Category][]domain.Record
	seq       map[domain.Category]uint64
	unsubs    map[domain.Category]core.Unsubscribe
	failures  map[domain.Category]error
	listeners map[int]func(core.Update)
	nextID    int
}

// New returns a closed board.
func New(manager *core.Manager, regions RegionPublisher, logger *slog.Logger) *Board {
	if logger == nil {
		logger = slog.Default()
	}
	return &Board{
		manager:   manager,
		regions:   regions,
		logger:    logger,
		records:   make(map[domain.Category][]domain.Record),
		seq:       make(map[domain.Category]uint64),
		unsubs:    make(map[domain.Category]core.Unsubscribe),
		failures:  make(map[domain.Category]error),
		listeners: make(map[int]func(core.Update)),
	}
}

func (b *Board) call(ctx context.Context, fn func(ctx context.Context) error) error {
	return b.manager.Loop().Call(ctx, fn)
}

// Open publishes an empty region per category and subscribes all of them.
// Opening an already open category is a no-op.
func (b *Board) Open(ctx context.Context) error {
	return b.call(ctx, func(lctx context.Context) error {
		var errs []error
		for _, c := range domain.Categories() {
			if err := b.subscribe(lctx, c); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

func (b *Board) subscribe(lctx context.Context, c domain.Category) error {
	if _, open := b.unsubs[c]; open {
		return nil
	}
	if _, published := b.records[c]; !published {
		b.records[c] = []domain.Record{}
		b.regions.Publish(RegionID(c), Table(c, nil))
	}
	unsub, err := b.manager.Subscribe(lctx, c, b.apply, core.WithErrorHandler(b.failed))
	if err != nil {
		b.failures[c] = err
		return fmt.Errorf("subscribe %s: %w", c, err)
	}
	delete(b.failures, c)
	b.unsubs[c] = unsub
	return nil
}

func (b *Board) apply(up core.Update) {
	b.records[up.Category] = up.Records
	b.seq[up.Category] = up.Seq
	b.regions.Publish(RegionID(up.Category), Table(up.Category, up.Records))
	b.logger.Debug("collection updated", "category", up.Category, "records", len(up.Records), "rejected", len(up.Rejected), "seq", up.Seq)
	for _, id := range b.listenerIDs() {
		b.listeners[id](up)
	}
}

func (b *Board) listenerIDs() []int {
	ids := make([]int, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (b *Board) failed(c domain.Category, err error) {
	delete(b.unsubs, c)
	b.failures[c] = err
	b.logger.Error("category subscription failed", "category", c, "error", err)
}

// Records returns a copy of the category's current ordered records.
func (b *Board) Records(ctx context.Context, c domain.Category) ([]domain.Record, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown category %q", c)
	}
	var out []domain.Record
	err := b.call(ctx, func(context.Context) error {
		out = slices.Clone(b.records[c])
		return nil
	})
	return out, err
}

// Health reports every category in display order.
func (b *Board) Health(ctx context.Context) ([]Health, error) {
	var out []Health
	err := b.call(ctx, func(context.Context) error {
		for _, c := range domain.Categories() {
			h := Health{Category: c, Status: "closed", Records: len(b.records[c]), Seq: b.seq[c]}
			if _, open := b.unsubs[c]; open {
				h.Status = "ok"
			}
			if err := b.failures[c]; err != nil {
				h.Status = "failed"
				h.Error = err.Error()
			}
			out = append(out, h)
		}
		return nil
	})
	return out, err
}

// Listen registers fn for every applied update. fn runs on the loop and must
// not block. The returned cancel func is safe to call from any goroutine.
func (b *Board) Listen(ctx context.Context, fn func(core.Update)) (func(), error) {
	if fn == nil {
		return nil, errors.New("listener required")
	}
	var id int
	err := b.call(ctx, func(context.Context) error {
		b.nextID++
		id = b.nextID
		b.listeners[id] = fn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return func() {
		_ = b.manager.Loop().Post(func(context.Context) { delete(b.listeners, id) })
	}, nil
}

// Follow is Listen preceded, in the same loop turn, by one call per published
// category with its current records. No update falls between the two.
func (b *Board) Follow(ctx context.Context, fn func(core.Update)) (func(), error) {
	if fn == nil {
		return nil, errors.New("listener required")
	}
	var id int
	err := b.call(ctx, func(context.Context) error {
		for _, c := range domain.Categories() {
			if recs, ok := b.records[c]; ok {
				fn(core.Update{Category: c, Records: slices.Clone(recs), Seq: b.seq[c]})
			}
		}
		b.nextID++
		id = b.nextID
		b.listeners[id] = fn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return func() {
		_ = b.manager.Loop().Post(func(context.Context) { delete(b.listeners, id) })
	}, nil
}

// Reopen retries a failed or closed category subscription. The category's
// last records stay visible until the new subscription delivers.
func (b *Board) Reopen(ctx context.Context, c domain.Category) error {
	if !c.Valid() {
		return fmt.Errorf("unknown category %q", c)
	}
	return b.call(ctx, func(lctx context.Context) error {
		if unsub, open := b.unsubs[c]; open {
			unsub()
			delete(b.unsubs, c)
		}
		return b.subscribe(lctx, c)
	})
}

// Close unsubscribes every category, removes the regions and discards all
// state and listeners.
func (b *Board) Close(ctx context.Context) error {
	return b.call(ctx, func(context.Context) error {
		for c, unsub := range b.unsubs {
			unsub()
			delete(b.unsubs, c)
		}
		for c := range b.records {
			b.regions.Remove(RegionID(c))
		}
		clear(b.records)
		clear(b.seq)
		clear(b.failures)
		clear(b.listeners)
		return nil
	})
}
