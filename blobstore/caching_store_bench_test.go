package blobstore

import (
	"context"
	"io"
	"testing"

	"github.com/hupe1980/maxsim/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCountingStore struct {
	readCount int
}

func (m *mockCountingStore) Open(context.Context, string) (Blob, error) {
	return &mockCountingBlob{store: m, size: 1024 * 1024}, nil
}

func (m *mockCountingStore) Create(context.Context, string) (WritableBlob, error) {
	return nil, nil
}

func (m *mockCountingStore) Put(context.Context, string, []byte) error { return nil }
func (m *mockCountingStore) Delete(context.Context, string) error      { return nil }

func (m *mockCountingStore) List(context.Context, string) ([]string, error) {
	return nil, nil
}

func (m *mockCountingStore) Exists(context.Context, string) (bool, error) {
	return true, nil
}

type mockCountingBlob struct {
	store *mockCountingStore
	size  int64
}

func (b *mockCountingBlob) ReadAt(_ context.Context, p []byte, _ int64) (int, error) {
	b.store.readCount++

	for i := range p {
		p[i] = 0
	}

	return len(p), nil
}

func (b *mockCountingBlob) ReadRange(context.Context, int64, int64) (io.ReadCloser, error) {
	return nil, nil
}

func (b *mockCountingBlob) Size() int64  { return b.size }
func (b *mockCountingBlob) Close() error { return nil }

func TestCachingStore_CoalescesMissingRuns(t *testing.T) {
	inner := &mockCountingStore{}
	store := NewCachingStore(inner, cache.NewLRU(1024*1024, nil), 1024)

	ctx := context.Background()

	blob, err := store.Open(ctx, "test")
	require.NoError(t, err)

	// A cold read spanning 10 blocks is one contiguous missing run and must
	// hit the backend exactly once.
	buf := make([]byte, 10*1024)
	_, err = blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.readCount)

	// Warm read: no backend traffic.
	_, err = blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.readCount)
}

func BenchmarkCachingStore_WarmReadAt(b *testing.B) {
	inner := &mockCountingStore{}
	store := NewCachingStore(inner, cache.NewLRU(64*1024*1024, nil), 64*1024)

	ctx := context.Background()

	blob, _ := store.Open(ctx, "bench")
	buf := make([]byte, 4096)

	// Warm the cache
	if _, err := blob.ReadAt(ctx, buf, 0); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for b.Loop() {
		if _, err := blob.ReadAt(ctx, buf, 0); err != nil {
			b.Fatal(err)
		}
	}
}
