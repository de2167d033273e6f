// Package blob re-exports core blob abstractions for stable imports and wraps
// the infra-backed artifact stores.
package blob

import (
	"yuleboard/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// SignedURLOptions configures URL pre-signing.
	SignedURLOptions = core.SignedURLOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory

	// MetaFilename is the metadata key holding the download name.
	MetaFilename = core.MetaFilename
	// MetaCategory is the metadata key holding the exported category.
	MetaCategory = core.MetaCategory
	// MetaFormat is the metadata key holding the artifact format.
	MetaFormat = core.MetaFormat
)

var (
	// ErrUnsupported indicates an operation isn't supported by a driver.
	ErrUnsupported = core.ErrUnsupported
	// ErrNotFound indicates a missing key.
	ErrNotFound = core.ErrNotFound
	// ErrExists indicates a Put on an existing key.
	ErrExists = core.ErrExists
	// ErrInvalidKey indicates a key no driver accepts.
	ErrInvalidKey = core.ErrInvalidKey
)
