// Package blobstore provides storage abstraction for immutable index files.
//
// Store is the interface for reading and writing data blobs (chunk files,
// codec, IVF, manifests). Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: Local filesystem with mmap reads and atomic renames
//   - MemoryStore: In-memory store for tests
//   - CachingStore: Block-level read cache layered over any Store
//   - s3.Store: Amazon S3 with range reads and parallel uploads
//   - minio.Store: MinIO and other S3-compatible object stores
//
// # Custom Implementations
//
// Implement the Store interface to support custom storage backends:
//
//	type Store interface {
//	    Open(ctx, name) (Blob, error)            // Open for reading
//	    Create(ctx, name) (WritableBlob, error)  // Create for streaming writes
//	    Put(ctx, name, data) error               // Atomic write
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	    Exists(ctx, name) (bool, error)
//	}
//
// For cloud backends, ReadRange and ReadAt should map to ranged GETs so
// searches touch only the byte ranges of the documents they score.
package blobstore
