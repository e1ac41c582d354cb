package blobstore

import (
	"context"
	"errors"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction for accessing immutable index blobs (chunk files,
// codec, IVF, manifests). Names are slash-separated paths relative to the
// store root. Implementations must be safe for concurrent use.
type Store interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)
	// Create opens a new blob for streaming writes. The blob becomes visible
	// to Open only after a successful Close.
	Create(ctx context.Context, name string) (WritableBlob, error)
	// Put writes a complete blob atomically.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names of blobs whose name starts with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// Exists reports whether a blob exists without opening it.
	Exists(ctx context.Context, name string) (bool, error)
}

// Blob is a read-only handle to an immutable blob.
type Blob interface {
	// ReadAt reads len(p) bytes at offset off. It returns io.EOF when fewer
	// than len(p) bytes remain past off.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	// ReadRange returns a reader over [off, off+length), clamped to the blob
	// size. Offsets at or past the end return io.EOF.
	ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error)
	// Size returns the size of the blob in bytes.
	Size() int64

	io.Closer
}

// WritableBlob is a write-once handle. Close publishes the blob; until then
// it is invisible to readers.
type WritableBlob interface {
	io.Writer
	// Sync flushes buffered data to durable storage where the backend
	// supports it.
	Sync() error

	io.Closer
}

// Mappable is an optional interface for Blobs that expose their contents
// zero-copy. The slice is valid until the Blob is closed.
type Mappable interface {
	// Bytes returns the underlying byte slice.
	Bytes() ([]byte, error)
}

// ReadAll reads an entire blob into memory. The returned slice is owned by
// the caller.
func ReadAll(ctx context.Context, store Store, name string) ([]byte, error) {
	b, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	data := make([]byte, b.Size())
	if len(data) == 0 {
		return data, nil
	}

	if _, err := b.ReadAt(ctx, data, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	return data, nil
}
