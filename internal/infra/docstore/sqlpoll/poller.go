// Package sqlpoll turns a SQL table of JSON documents into live queries by
// polling on a jittered interval and emitting a snapshot whenever the content
// of a collection changes.
package sqlpoll

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"yuleboard/internal/docstore/core"
)

// Options tunes polling.
type Options struct {
	Interval    time.Duration // default 2s
	Jitter      float64       // ratio 0.0-1.0, default 0.2
	MaxFailures int           // consecutive query failures before the watch fails, default 5
	OnError     func(collection string, err error)
}

// Poller runs one polling goroutine per watch.
type Poller struct {
	db    *sql.DB
	query string
	opts  Options

	mu     sync.Mutex
	feeds  map[*core.Feed]struct{}
	closed bool
	wg     sync.WaitGroup
	rng    *rand.Rand
}

// New returns a poller. query must select (key, data) rows of one collection,
// ordered in delivery order, with the collection name as its only parameter.
func New(db *sql.DB, query string, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	opts.Jitter = clampJitterRatio(opts.Jitter)
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 5
	}
	return &Poller{
		db:    db,
		query: query,
		opts:  opts,
		feeds: make(map[*core.Feed]struct{}),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Watch reads the collection once, emits it, and keeps polling until the
// watch is closed, ctx ends, or MaxFailures consecutive reads fail.
func (p *Poller) Watch(ctx context.Context, collection string) (core.Watch, error) {
	if strings.TrimSpace(collection) == "" {
		return nil, fmt.Errorf("collection name required")
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, core.ErrClosed
	}
	p.mu.Unlock()

	snap, digest, err := p.read(ctx, collection)
	if err != nil {
		return nil, err
	}
	var feed *core.Feed
	feed = core.NewFeed(func() {
		p.mu.Lock()
		delete(p.feeds, feed)
		p.mu.Unlock()
	})
	p.mu.Lock()
	p.feeds[feed] = struct{}{}
	p.mu.Unlock()
	feed.Publish(snap)

	p.wg.Add(1)
	go p.loop(ctx, feed, collection, digest)
	return feed, nil
}

func (p *Poller) loop(ctx context.Context, feed *core.Feed, collection string, digest [32]byte) {
	defer p.wg.Done()
	timer := time.NewTimer(p.nextDelay())
	defer timer.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			feed.Fail(ctx.Err())
			return
		case <-feed.Done():
			return
		case <-timer.C:
			snap, next, err := p.read(ctx, collection)
			if err != nil {
				failures++
				if p.opts.OnError != nil {
					p.opts.OnError(collection, err)
				}
				if failures >= p.opts.MaxFailures {
					feed.Fail(fmt.Errorf("poll %s: %w", collection, err))
					return
				}
			} else {
				failures = 0
				if next != digest {
					digest = next
					feed.Publish(snap)
				}
			}
			timer.Reset(p.nextDelay())
		}
	}
}

func (p *Poller) read(ctx context.Context, collection string) (core.Snapshot, [32]byte, error) {
	rows, err := p.db.QueryContext(ctx, p.query, collection)
	if err != nil {
		return core.Snapshot{}, [32]byte{}, fmt.Errorf("select %s: %w", collection, err)
	}
	defer func() { _ = rows.Close() }()
	h := sha256.New()
	snap := core.Snapshot{Collection: collection, Documents: []core.Document{}}
	for rows.Next() {
		var key string
		var data []byte
		if err := rows.Scan(&key, &data); err != nil {
			return core.Snapshot{}, [32]byte{}, fmt.Errorf("scan %s: %w", collection, err)
		}
		h.Write([]byte(key))
		h.Write([]byte{0})
		h.Write(data)
		h.Write([]byte{0})
		snap.Documents = append(snap.Documents, core.Document{ID: key, Fields: decodeFields(data)})
	}
	if err := rows.Err(); err != nil {
		return core.Snapshot{}, [32]byte{}, err
	}
	snap.ReadAt = time.Now().UTC()
	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	return snap, digest, nil
}

// decodeFields parses a stored payload. Unparseable payloads become an empty
// field map so the decoder can report the document instead of losing it.
func decodeFields(data []byte) map[string]any {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return map[string]any{}
	}
	return fields
}

func (p *Poller) nextDelay() time.Duration {
	p.mu.Lock()
	sample := p.rng.Float64()
	p.mu.Unlock()
	return jitteredIntervalWithSample(p.opts.Interval, p.opts.Jitter, sample)
}

// Close stops every watch and waits for the polling goroutines.
func (p *Poller) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	feeds := make([]*core.Feed, 0, len(p.feeds))
	for f := range p.feeds {
		feeds = append(feeds, f)
	}
	p.mu.Unlock()
	for _, f := range feeds {
		f.Fail(core.ErrClosed)
	}
	p.wg.Wait()
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
