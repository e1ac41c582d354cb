package blobstore

import (
	"context"
	"errors"
	"io"

	"github.com/hupe1980/maxsim/internal/cache"
	"golang.org/x/sync/errgroup"
)

// CachingStore wraps a Store and adds block-level read caching. It is meant
// for remote backends (S3, MinIO) where repeated candidate lookups would
// otherwise re-fetch the same code and residual ranges.
type CachingStore struct {
	inner     Store
	cache     cache.BlockCache
	blockSize int64
}

// NewCachingStore creates a new CachingStore.
// blockSize defaults to 64KB if <= 0.
func NewCachingStore(inner Store, blockCache cache.BlockCache, blockSize int64) *CachingStore {
	if blockSize <= 0 {
		blockSize = 64 * 1024
	}

	return &CachingStore{
		inner:     inner,
		cache:     blockCache,
		blockSize: blockSize,
	}
}

func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}

	return &CachingBlob{
		inner:     b,
		cache:     s.cache,
		name:      name,
		blockSize: s.blockSize,
	}, nil
}

// Create passes through. Blobs are immutable once published, so writes never
// need to invalidate blocks of an open generation.
func (s *CachingStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	return s.inner.Create(ctx, name)
}

func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	// Overwrites are only expected for the manifest CURRENT pointer. Drop any
	// stale blocks for this name.
	s.cache.Invalidate(func(key cache.Key) bool {
		return key.Path == name
	})

	return s.inner.Put(ctx, name, data)
}

func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.cache.Invalidate(func(key cache.Key) bool {
		return key.Path == name
	})

	return s.inner.Delete(ctx, name)
}

func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

func (s *CachingStore) Exists(ctx context.Context, name string) (bool, error) {
	return s.inner.Exists(ctx, name)
}

// CachingBlob wraps a Blob and serves reads from the block cache.
type CachingBlob struct {
	inner     Blob
	cache     cache.BlockCache
	name      string
	blockSize int64
}

func (b *CachingBlob) Close() error {
	return b.inner.Close()
}

func (b *CachingBlob) Size() int64 {
	return b.inner.Size()
}

func (b *CachingBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if off >= b.Size() {
		return 0, io.EOF
	}

	startBlock := off / b.blockSize
	endBlock := (off + int64(len(p)) - 1) / b.blockSize

	// Fetch contiguous runs of missing blocks in single backend requests.
	if err := b.fillCache(ctx, startBlock, endBlock); err != nil {
		return 0, err
	}

	totalRead := 0

	for blk := startBlock; blk <= endBlock; blk++ {
		blkStart := blk * b.blockSize

		// Intersection of [blkStart, blkStart+blockSize) and [off, off+len(p))
		intersectStart := max(blkStart, off)
		intersectEnd := min(blkStart+b.blockSize, off+int64(len(p)))

		if intersectEnd <= intersectStart {
			continue
		}

		copySize := int(intersectEnd - intersectStart)
		dstOffset := intersectStart - off

		blockData, err := b.fetchBlock(ctx, blk)
		if err != nil {
			return totalRead, err
		}

		srcOffset := intersectStart - blkStart

		// The last block of a file may be short.
		if srcOffset >= int64(len(blockData)) {
			break
		}

		if srcOffset+int64(copySize) > int64(len(blockData)) {
			copySize = len(blockData) - int(srcOffset)
		}

		if copySize > 0 {
			n := copy(p[dstOffset:dstOffset+int64(copySize)], blockData[srcOffset:])
			totalRead += n
		}
	}

	if totalRead < len(p) {
		return totalRead, io.EOF
	}

	return totalRead, nil
}

// fillCache loads the blocks in [startBlock, endBlock] that are missing from
// the cache, coalescing contiguous missing runs into single backend reads.
func (b *CachingBlob) fillCache(ctx context.Context, startBlock, endBlock int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	type run struct {
		start, count int64
	}

	var missingRuns []run

	runStart := int64(-1)
	runCount := int64(0)

	for blk := startBlock; blk <= endBlock; blk++ {
		key := cache.Key{Path: b.name, Block: uint64(blk)}

		if _, ok := b.cache.Get(ctx, key); !ok {
			if runStart == -1 {
				runStart = blk
				runCount = 1
			} else {
				runCount++
			}
		} else if runStart != -1 {
			missingRuns = append(missingRuns, run{runStart, runCount})
			runStart = -1
			runCount = 0
		}
	}

	if runStart != -1 {
		missingRuns = append(missingRuns, run{runStart, runCount})
	}

	g, gctx := errgroup.WithContext(ctx)
	// Bounded to avoid FD exhaustion and backend rate limits.
	g.SetLimit(16)

	for _, r := range missingRuns {
		g.Go(func() error {
			byteStart := r.start * b.blockSize
			byteSize := r.count * b.blockSize

			fileSize := b.Size()
			if byteStart >= fileSize {
				return nil
			}

			if byteStart+byteSize > fileSize {
				byteSize = fileSize - byteStart
			}

			buf := make([]byte, byteSize)

			n, err := b.inner.ReadAt(gctx, buf, byteStart)
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}

			if n == 0 {
				return nil
			}

			validData := buf[:n]

			for i := int64(0); i < r.count; i++ {
				offsetInRun := i * b.blockSize
				if offsetInRun >= int64(len(validData)) {
					break
				}

				endInRun := offsetInRun + b.blockSize
				if endInRun > int64(len(validData)) {
					endInRun = int64(len(validData))
				}

				// Copy so the cache entry does not pin the run buffer.
				blockCopy := make([]byte, endInRun-offsetInRun)
				copy(blockCopy, validData[offsetInRun:endInRun])

				b.cache.Set(gctx, cache.Key{Path: b.name, Block: uint64(r.start + i)}, blockCopy)
			}

			return nil
		})
	}

	return g.Wait()
}

func (b *CachingBlob) fetchBlock(ctx context.Context, blkIdx int64) ([]byte, error) {
	key := cache.Key{Path: b.name, Block: uint64(blkIdx)}

	if data, ok := b.cache.Get(ctx, key); ok {
		return data, nil
	}

	// Missed after fillCache, e.g. the entry was evicted or the cache
	// declined it. Read through.
	buf := make([]byte, b.blockSize)

	n, err := b.inner.ReadAt(ctx, buf, blkIdx*b.blockSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	validData := buf[:n]
	if n > 0 {
		b.cache.Set(ctx, key, validData)
	}

	return validData, nil
}

// ReadRange serves ranged reads through the block cache via ReadAt.
func (b *CachingBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if off >= b.Size() {
		return nil, io.EOF
	}

	limit := off + length
	if limit > b.Size() {
		limit = b.Size()
	}

	return io.NopCloser(&contextSectionReader{blob: b, ctx: ctx, off: off, limit: limit}), nil
}

// contextSectionReader adapts CachingBlob.ReadAt to io.Reader.
type contextSectionReader struct {
	blob  *CachingBlob
	ctx   context.Context
	off   int64
	limit int64
}

func (r *contextSectionReader) Read(p []byte) (n int, err error) {
	if r.off >= r.limit {
		return 0, io.EOF
	}

	if remaining := r.limit - r.off; int64(len(p)) > remaining {
		p = p[:remaining]
	}

	n, err = r.blob.ReadAt(r.ctx, p, r.off)
	r.off += int64(n)

	return
}
