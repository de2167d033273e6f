// Package core defines the artifact storage abstraction implemented by the
// infra blob backends.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"strings"
	"time"
)

// Driver identifies a concrete blob storage backend implementation.
type Driver string

const (
	// DriverFilesystem represents the local filesystem implementation.
	DriverFilesystem Driver = "fs" // local filesystem (default, dev)
	// DriverS3 represents an S3 / MinIO compatible implementation.
	DriverS3 Driver = "s3" // S3 / MinIO compatible
	// DriverMemory represents an in-memory implementation typically used in tests.
	DriverMemory Driver = "memory" // in-memory (tests)
)

// Metadata keys written with every export artifact.
const (
	MetaFilename = "filename"
	MetaCategory = "category"
	MetaFormat   = "format"
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string            // MIME type, optional
	Metadata    map[string]string // User metadata (small, flat key-value)
}

// SignedURLOptions holds options for generating a pre-signed URL.
type SignedURLOptions struct {
	Method   string        // only GET is supported
	Expiry   time.Duration // default 15m
	Filename string        // sets an attachment Content-Disposition when non-empty
}

// Info describes a stored blob.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	URL          string            `json:"url,omitempty"`
}

// Filename returns the download name recorded for the blob, falling back to
// the last key segment.
func (i Info) Filename() string {
	if name := i.Metadata[MetaFilename]; name != "" {
		return name
	}
	for n := len(i.Key) - 1; n >= 0; n-- {
		if i.Key[n] == '/' {
			return i.Key[n+1:]
		}
	}
	return i.Key
}

// Store is a create-only object store. Put never overwrites and a failed Put
// leaves nothing behind.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)
	Driver() Driver
}

var (
	// ErrUnsupported is returned when an optional capability is not available.
	ErrUnsupported = errors.New("blobstore: unsupported operation")
	// ErrNotFound is returned for keys that do not exist.
	ErrNotFound = errors.New("blobstore: not found")
	// ErrExists is returned by Put for keys that already exist.
	ErrExists = errors.New("blobstore: already exists")
)

// ErrInvalidKey is returned for keys no backend accepts.
var ErrInvalidKey = errors.New("blobstore: invalid key")

// ValidateKey applies the key rules shared by every driver: artifact keys are
// relative slash-separated paths like "<export id>/<file name>" without empty,
// "." or ".." segments.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// CloneMetadata copies a metadata map.
func CloneMetadata(in map[string]string) map[string]string { return maps.Clone(in) }
