// Package core orders and decodes category records and runs the subscription
// manager on a single event loop that owns all mutable state.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"yuleboard/internal/docstore"
	"yuleboard/internal/observability"
	"yuleboard/pkg/domain"
)

// ErrManagerClosed is returned by Subscribe after Close.
var ErrManagerClosed = errors.New("subscription manager closed")

// Update is delivered to a subscriber for every store snapshot. Records is the
// complete, freshly ordered collection and replaces any previous one.
type Update struct {
	Category   domain.Category
	Records    []domain.Record
	Rejected   []*domain.DecodeError
	Seq        uint64
	ReceivedAt time.Time
}

// Unsubscribe stops a subscription. It is idempotent. Once it returns no
// further callback invocation begins; when called from another goroutine it
// also waits out an invocation that had not started yet.
type Unsubscribe func()

// SubscribeOption customizes a single subscription.
type SubscribeOption func(*subscription)

// WithErrorHandler registers a callback, run on the loop, for the terminal
// failure of the subscription's live query.
func WithErrorHandler(fn func(domain.Category, error)) SubscribeOption {
	return func(s *subscription) { s.onError = fn }
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec observability.Recorder) ManagerOption {
	return func(m *Manager) {
		if rec != nil {
			m.recorder = rec
		}
	}
}

// WithCollections maps categories to store collection names. Categories not
// present keep their default collection, which is the category name.
func WithCollections(collections map[domain.Category]string) ManagerOption {
	return func(m *Manager) {
		for c, name := range collections {
			if name != "" {
				m.collections[c] = name
			}
		}
	}
}

// Manager opens and tears down live subscriptions, one per caller request.
// Decoding, sorting and callbacks run as tasks on the loop.
type Manager struct {
	source      docstore.Source
	loop        *Loop
	decoder     *Decoder
	logger      *slog.Logger
	recorder    observability.Recorder
	collections map[domain.Category]string

	// subscription whose callback is running on the loop, if any
	delivering atomic.Pointer[subscription]

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

type subscription struct {
	category   domain.Category
	collection string
	onUpdate   func(Update)
	onError    func(domain.Category, error)
	watch      docstore.Watch
	closed     atomic.Bool
	once       sync.Once
	deliver    sync.Mutex // held from the closed check through a callback
	seq        uint64     // loop-owned
}

// NewManager returns a manager reading from source and running callbacks on
// loop.
func NewManager(source docstore.Source, loop *Loop, opts ...ManagerOption) (*Manager, error) {
	if source == nil || loop == nil {
		return nil, errors.New("source and loop required")
	}
	dec, err := NewDecoder()
	if err != nil {
		return nil, err
	}
	m := &Manager{
		source:      source,
		loop:        loop,
		decoder:     dec,
		logger:      slog.Default(),
		recorder:    observability.Nop{},
		collections: make(map[domain.Category]string, 3),
		subs:        make(map[*subscription]struct{}),
	}
	for _, c := range domain.Categories() {
		m.collections[c] = string(c)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Collection returns the store collection backing a category.
func (m *Manager) Collection(c domain.Category) string { return m.collections[c] }

// Loop returns the loop that owns subscription callbacks.
func (m *Manager) Loop() *Loop { return m.loop }

// Subscribe opens a live query on the category's collection. onUpdate runs on
// the loop once per store snapshot with the decoded and ordered records.
func (m *Manager) Subscribe(ctx context.Context, category domain.Category, onUpdate func(Update), opts ...SubscribeOption) (Unsubscribe, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("unknown category %q", category)
	}
	if onUpdate == nil {
		return nil, errors.New("onUpdate callback required")
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	m.mu.Unlock()

	sub := &subscription{category: category, collection: m.collections[category], onUpdate: onUpdate}
	for _, opt := range opts {
		opt(sub)
	}
	w, err := m.source.Watch(ctx, sub.collection)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", sub.collection, err)
	}
	sub.watch = w

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = w.Close()
		return nil, ErrManagerClosed
	}
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	m.logger.Info("subscription opened", "category", category, "collection", sub.collection, "driver", m.source.Driver())
	go m.pump(sub)
	return func() { m.release(sub) }, nil
}

func (m *Manager) pump(sub *subscription) {
	for snap := range sub.watch.Snapshots() {
		if sub.closed.Load() {
			continue
		}
		received := time.Now().UTC()
		if err := m.loop.Post(func(ctx context.Context) { m.apply(ctx, sub, snap, received) }); err != nil {
			m.logger.Warn("dropping snapshot", "category", sub.category, "error", err)
			return
		}
	}
	err := sub.watch.Err()
	if err == nil || sub.closed.Load() {
		return
	}
	_ = m.loop.Post(func(context.Context) { m.fail(sub, err) })
}

func (m *Manager) apply(ctx context.Context, sub *subscription, snap docstore.Snapshot, received time.Time) {
	if sub.closed.Load() {
		return
	}
	start := time.Now()
	records, rejected := m.decoder.Decode(sub.category, snap.Documents)
	for _, r := range rejected {
		m.logger.Warn("document rejected", "category", r.Category, "document", r.DocumentID, "reason", r.Reason)
	}
	ordered := Sort(sub.category, records)
	m.recorder.Rejected(string(sub.category), len(rejected))
	m.recorder.Records(string(sub.category), len(ordered))

	delivered := m.invoke(sub, func() {
		sub.seq++
		sub.onUpdate(Update{
			Category:   sub.category,
			Records:    ordered,
			Rejected:   rejected,
			Seq:        sub.seq,
			ReceivedAt: received,
		})
	})
	if delivered {
		m.recorder.Observe(ctx, "snapshot."+string(sub.category), true, time.Since(start))
	}
}

// invoke runs fn unless sub has been released. A release racing from another
// goroutine either happens first or waits for fn to return.
func (m *Manager) invoke(sub *subscription, fn func()) bool {
	sub.deliver.Lock()
	defer sub.deliver.Unlock()
	if sub.closed.Load() {
		return false
	}
	prev := m.delivering.Swap(sub)
	defer m.delivering.Store(prev)
	fn()
	return true
}

func (m *Manager) fail(sub *subscription, err error) {
	m.invoke(sub, func() {
		m.detach(sub)
		m.logger.Error("subscription failed", "category", sub.category, "collection", sub.collection, "error", err)
		m.recorder.Observe(context.Background(), "snapshot."+string(sub.category), false, 0)
		if sub.onError != nil {
			sub.onError(sub.category, err)
		}
	})
}

func (m *Manager) release(sub *subscription) {
	m.detach(sub)
	// A callback of sub calling its own Unsubscribe already holds deliver.
	if m.delivering.Load() == sub {
		return
	}
	sub.deliver.Lock()
	//nolint:staticcheck // empty critical section waits out an in-flight callback
	sub.deliver.Unlock()
}

func (m *Manager) detach(sub *subscription) {
	sub.once.Do(func() {
		sub.closed.Store(true)
		_ = sub.watch.Close()
		m.mu.Lock()
		delete(m.subs, sub)
		m.mu.Unlock()
	})
}

// Active returns the number of open subscriptions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Close releases every subscription and rejects new ones.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	subs := make([]*subscription, 0, len(m.subs))
	for s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()
	for _, s := range subs {
		m.release(s)
	}
}
