// Package memory implements an in-process document store with live queries.
// It stands in for a remote store in tests and demos.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"yuleboard/internal/docstore/core"
)

type collection struct {
	order []string
	docs  map[string]map[string]any
}

// Store keeps collections in memory and pushes a full snapshot to every
// watcher of a collection after each change. Documents are delivered in
// insertion order; replacing a document keeps its position.
type Store struct {
	mu          sync.Mutex
	collections map[string]*collection
	watchers    map[string]map[*core.Feed]struct{}
	closed      bool
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		collections: make(map[string]*collection),
		watchers:    make(map[string]map[*core.Feed]struct{}),
	}
}

// Driver returns the store driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Watch opens a live query and immediately emits the current documents.
func (s *Store) Watch(_ context.Context, name string) (core.Watch, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("collection name required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, core.ErrClosed
	}
	var feed *core.Feed
	feed = core.NewFeed(func() { s.unwatch(name, feed) })
	if s.watchers[name] == nil {
		s.watchers[name] = make(map[*core.Feed]struct{})
	}
	s.watchers[name][feed] = struct{}{}
	feed.Publish(s.snapshotLocked(name))
	return feed, nil
}

// Put inserts or replaces a document and notifies watchers.
func (s *Store) Put(name, id string, fields map[string]any) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("document id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrClosed
	}
	coll, ok := s.collections[name]
	if !ok {
		coll = &collection{docs: make(map[string]map[string]any)}
		s.collections[name] = coll
	}
	if _, exists := coll.docs[id]; !exists {
		coll.order = append(coll.order, id)
	}
	coll.docs[id] = core.CloneFields(fields)
	s.notifyLocked(name)
	return nil
}

// Delete removes a document, reporting whether it existed.
func (s *Store) Delete(name, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, core.ErrClosed
	}
	coll, ok := s.collections[name]
	if !ok {
		return false, nil
	}
	if _, exists := coll.docs[id]; !exists {
		return false, nil
	}
	delete(coll.docs, id)
	for i, key := range coll.order {
		if key == id {
			coll.order = append(coll.order[:i], coll.order[i+1:]...)
			break
		}
	}
	s.notifyLocked(name)
	return true, nil
}

// Watchers returns the number of open watches on a collection.
func (s *Store) Watchers(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers[name])
}

// Fail terminates every open watch on one collection with err, as a remote
// store does when a single live query is revoked. Other collections keep
// streaming and the collection can be watched again.
func (s *Store) Fail(name string, err error) int {
	if err == nil {
		err = core.ErrClosed
	}
	s.mu.Lock()
	set := s.watchers[name]
	delete(s.watchers, name)
	s.mu.Unlock()
	for f := range set {
		f.Fail(err)
	}
	return len(set)
}

// Close fails every open watch and rejects further use.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var feeds []*core.Feed
	for _, set := range s.watchers {
		for f := range set {
			feeds = append(feeds, f)
		}
	}
	s.watchers = make(map[string]map[*core.Feed]struct{})
	s.mu.Unlock()
	for _, f := range feeds {
		f.Fail(core.ErrClosed)
	}
	return nil
}

func (s *Store) unwatch(name string, feed *core.Feed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.watchers[name]; ok {
		delete(set, feed)
		if len(set) == 0 {
			delete(s.watchers, name)
		}
	}
}

func (s *Store) notifyLocked(name string) {
	set := s.watchers[name]
	if len(set) == 0 {
		return
	}
	snap := s.snapshotLocked(name)
	for f := range set {
		f.Publish(snap)
	}
}

func (s *Store) snapshotLocked(name string) core.Snapshot {
	snap := core.Snapshot{Collection: name, ReadAt: time.Now().UTC()}
	coll, ok := s.collections[name]
	if !ok {
		snap.Documents = []core.Document{}
		return snap
	}
	snap.Documents = make([]core.Document, 0, len(coll.order))
	for _, id := range coll.order {
		snap.Documents = append(snap.Documents, core.Document{ID: id, Fields: core.CloneFields(coll.docs[id])})
	}
	return snap
}
