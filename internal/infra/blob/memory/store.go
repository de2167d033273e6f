// Package memory keeps artifacts in process memory. It backs tests and the
// single-shot CLI export when no durable store is configured.
package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"yuleboard/internal/blob/core"
)

type artifact struct {
	info    core.Info
	payload []byte
}

// Store implements core.Store over a map guarded by a mutex.
type Store struct {
	mu        sync.RWMutex
	artifacts map[string]artifact
	now       func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{artifacts: make(map[string]artifact), now: func() time.Time { return time.Now().UTC() }}
}

// Driver returns the blob driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Put buffers r completely before taking the lock; a failing reader stores
// nothing.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if err := core.ValidateKey(key); err != nil {
		return core.Info{}, err
	}
	if err := ctx.Err(); err != nil {
		return core.Info{}, err
	}
	payload, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, fmt.Errorf("read %s: %w", key, err)
	}
	sum := sha256.Sum256(payload)
	info := core.Info{
		Key:          key,
		Size:         int64(len(payload)),
		ContentType:  opts.ContentType,
		ETag:         hex.EncodeToString(sum[:16]),
		Metadata:     core.CloneMetadata(opts.Metadata),
		LastModified: s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.artifacts[key]; taken {
		return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrExists)
	}
	s.artifacts[key] = artifact{info: info, payload: payload}
	return detach(info), nil
}

func (s *Store) lookup(key string) (artifact, error) {
	s.mu.RLock()
	a, ok := s.artifacts[key]
	s.mu.RUnlock()
	if !ok {
		return artifact{}, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	return a, nil
}

// Get returns the artifact's info and a reader over its bytes. Stored
// payloads are never mutated, so readers share them.
func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	a, err := s.lookup(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	return detach(a.info), io.NopCloser(bytes.NewReader(a.payload)), nil
}

// Head returns the artifact's info.
func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	a, err := s.lookup(key)
	if err != nil {
		return core.Info{}, err
	}
	return detach(a.info), nil
}

// Delete reports whether key existed.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.artifacts[key]
	delete(s.artifacts, key)
	return ok, nil
}

// List returns every artifact under prefix in key order.
func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	s.mu.RLock()
	out := make([]core.Info, 0, len(s.artifacts))
	for key, a := range s.artifacts {
		if strings.HasPrefix(key, prefix) {
			out = append(out, detach(a.info))
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b core.Info) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

// PresignURL always fails: memory artifacts have no URL.
func (s *Store) PresignURL(context.Context, string, core.SignedURLOptions) (string, error) {
	return "", core.ErrUnsupported
}

func detach(info core.Info) core.Info {
	info.Metadata = core.CloneMetadata(info.Metadata)
	return info
}
