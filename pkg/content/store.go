// Package content defines the data-plane store used by the daosfs backends
// for regular-file bytes.
//
// Node metadata (attributes, directory structure, durable keys) lives in the
// node store; the bytes of each regular file live here, keyed by an opaque
// ID derived from the node's key. Separating the two lets the metadata
// backend (memory, BadgerDB) and the data backend (memory, S3) be chosen
// independently per deployment.
package content

import (
	"context"
	"errors"
)

// ID names one object in the store. The daosfs backends derive it from the
// node key, so it is stable across renames and remounts.
type ID string

// Store is the content store contract.
//
// Implementations must be safe for concurrent use by multiple goroutines.
// All operations respect context cancellation where the backend allows it.
type Store interface {
	// WriteAt writes data at the given byte offset, extending the object
	// (zero-filled) when the offset is beyond the current size. Writing to
	// an ID that does not exist yet creates it.
	WriteAt(ctx context.Context, id ID, data []byte, offset int64) error

	// ReadAt reads up to len(buf) bytes at offset, returning the byte
	// count. Reading at or past the end of the object returns 0, nil.
	// Reading an ID that does not exist returns ErrNotFound.
	ReadAt(ctx context.Context, id ID, buf []byte, offset int64) (int, error)

	// Size returns the current object size. ErrNotFound if absent.
	Size(ctx context.Context, id ID) (int64, error)

	// Truncate sets the object size, extending with zeros or discarding
	// the tail. Truncating an absent ID to a non-zero size creates it.
	Truncate(ctx context.Context, id ID, size int64) error

	// Delete removes the object. Deleting an absent ID is a no-op.
	Delete(ctx context.Context, id ID) error

	// Flush forces buffered data for the object to stable storage.
	// Backends that write through (S3, memory) return nil immediately.
	Flush(ctx context.Context, id ID) error
}

// Sentinel errors shared by all implementations. Backends wrap these with
// context; callers test with errors.Is.
var (
	// ErrNotFound indicates the requested object does not exist.
	ErrNotFound = errors.New("content not found")

	// ErrInvalidOffset indicates a negative or otherwise unusable offset.
	ErrInvalidOffset = errors.New("invalid offset")
)
