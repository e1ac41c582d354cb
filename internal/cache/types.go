// Package cache provides a byte-oriented LRU used to cache blocks of remote
// index files (chunk codes and residuals) close to the searcher.
package cache

import "context"

// Key identifies one block of one blob. Blocks are fixed-size slices of the
// underlying file; Block is the block index, not a byte offset.
type Key struct {
	Path  string
	Block uint64
}

// BlockCache is a cache for immutable blocks.
// Returned slices must be treated as read-only.
type BlockCache interface {
	// Get returns a cached block. ok=false if missing.
	Get(ctx context.Context, key Key) (b []byte, ok bool)
	// Set caches a block. The caller must treat b as immutable afterwards.
	Set(ctx context.Context, key Key, b []byte)
	// Invalidate removes entries matching the predicate.
	Invalidate(predicate func(key Key) bool)
	// Stats returns hit/miss counters.
	Stats() (hits, misses int64)
}
