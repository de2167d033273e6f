// Package jsonfile implements a document store over a directory of JSON files,
// one file per collection, with live queries driven by fsnotify.
//
// Layout:
//
//	dir/
//	  gifts.json        # {"<id>": {"name": ..., "priority": ...}, ...}
//	  food.json
//	  decorations.json
package jsonfile

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"yuleboard/internal/docstore/core"
)

// Store watches per-collection JSON files. Documents are delivered in
// ascending id order.
type Store struct {
	dir string

	mu      sync.Mutex
	feeds   map[*core.Feed]struct{}
	closed  bool
	wg      sync.WaitGroup
	onError func(error)
}

// New returns a store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		dir = "./data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir, feeds: make(map[*core.Feed]struct{})}, nil
}

// OnReadError registers a hook for files that exist but cannot be parsed.
// Such reads are skipped; the next change event retries.
func (s *Store) OnReadError(fn func(error)) { s.onError = fn }

// Driver returns the store driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverJSON }

// Dir returns the watched directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) collectionPath(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Watch emits the current documents of the collection and then a snapshot
// after every change of its file.
func (s *Store) Watch(ctx context.Context, name string) (core.Watch, error) {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("invalid collection name %q", name)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, core.ErrClosed
	}
	s.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", s.dir, err)
	}

	path := s.collectionPath(name)
	snap, digest, err := s.load(name, path)
	if err != nil {
		_ = watcher.Close()
		return nil, err
	}

	var feed *core.Feed
	feed = core.NewFeed(func() {
		_ = watcher.Close()
		s.mu.Lock()
		delete(s.feeds, feed)
		s.mu.Unlock()
	})
	s.mu.Lock()
	s.feeds[feed] = struct{}{}
	s.mu.Unlock()
	feed.Publish(snap)

	s.wg.Add(1)
	go s.run(ctx, feed, watcher, name, path, digest)
	return feed, nil
}

func (s *Store) run(ctx context.Context, feed *core.Feed, watcher *fsnotify.Watcher, name, path string, digest [32]byte) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			feed.Fail(ctx.Err())
			return
		case <-feed.Done():
			return
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			feed.Fail(fmt.Errorf("watch %s: %w", path, err))
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			snap, next, err := s.load(name, path)
			if err != nil {
				if s.onError != nil {
					s.onError(err)
				}
				continue
			}
			if next == digest {
				continue
			}
			digest = next
			feed.Publish(snap)
		}
	}
}

// load reads a collection file. A missing file is an empty collection.
func (s *Store) load(name, path string) (core.Snapshot, [32]byte, error) {
	snap := core.Snapshot{Collection: name, Documents: []core.Document{}, ReadAt: time.Now().UTC()}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return snap, sha256.Sum256(nil), nil
	}
	if err != nil {
		return core.Snapshot{}, [32]byte{}, err
	}
	digest := sha256.Sum256(data)
	if len(bytes.TrimSpace(data)) == 0 {
		return snap, digest, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return core.Snapshot{}, [32]byte{}, fmt.Errorf("parse %s: %w", path, err)
	}
	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fields, ok := decodeFields(raw[id])
		if !ok {
			// Non-object entries keep their id so the decoder can report them.
			fields = map[string]any{}
		}
		snap.Documents = append(snap.Documents, core.Document{ID: id, Fields: fields})
	}
	return snap, digest, nil
}

func decodeFields(raw json.RawMessage) (map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return nil, false
	}
	return fields, true
}

// Close stops every watch and waits for their goroutines.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	feeds := make([]*core.Feed, 0, len(s.feeds))
	for f := range s.feeds {
		feeds = append(feeds, f)
	}
	s.mu.Unlock()
	for _, f := range feeds {
		f.Fail(core.ErrClosed)
	}
	s.wg.Wait()
	return nil
}
