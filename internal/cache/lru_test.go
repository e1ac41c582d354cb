package cache

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUGetSet(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(1024, nil)

	key := Key{Path: "chunks/0.residuals", Block: 3}

	_, ok := c.Get(ctx, key)
	require.False(t, ok)

	c.Set(ctx, key, []byte("abc"))

	got, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), got)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestLRUEviction(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(30, nil)

	for i := 0; i < 4; i++ {
		c.Set(ctx, Key{Path: "f", Block: uint64(i)}, make([]byte, 10))
	}

	// Capacity holds three 10-byte blocks; block 0 was coldest.
	_, ok := c.Get(ctx, Key{Path: "f", Block: 0})
	assert.False(t, ok)

	for i := 1; i < 4; i++ {
		_, ok := c.Get(ctx, Key{Path: "f", Block: uint64(i)})
		assert.True(t, ok, "block %d", i)
	}

	assert.Equal(t, 3, c.Len())
	assert.Equal(t, int64(30), c.Size())
}

func TestLRURecency(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(20, nil)

	c.Set(ctx, Key{Path: "f", Block: 0}, make([]byte, 10))
	c.Set(ctx, Key{Path: "f", Block: 1}, make([]byte, 10))

	// Touch block 0 so block 1 becomes the eviction victim.
	_, ok := c.Get(ctx, Key{Path: "f", Block: 0})
	require.True(t, ok)

	c.Set(ctx, Key{Path: "f", Block: 2}, make([]byte, 10))

	_, ok = c.Get(ctx, Key{Path: "f", Block: 1})
	assert.False(t, ok)
	_, ok = c.Get(ctx, Key{Path: "f", Block: 0})
	assert.True(t, ok)
}

func TestLRUOversizedEntry(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(10, nil)

	c.Set(ctx, Key{Path: "f", Block: 0}, make([]byte, 11))

	_, ok := c.Get(ctx, Key{Path: "f", Block: 0})
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestLRUInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(1024, nil)

	for i := 0; i < 3; i++ {
		c.Set(ctx, Key{Path: "a", Block: uint64(i)}, []byte{1})
		c.Set(ctx, Key{Path: "b", Block: uint64(i)}, []byte{2})
	}

	c.Invalidate(func(key Key) bool { return key.Path == "a" })

	for i := 0; i < 3; i++ {
		_, ok := c.Get(ctx, Key{Path: "a", Block: uint64(i)})
		assert.False(t, ok, fmt.Sprintf("a/%d must be gone", i))

		_, ok = c.Get(ctx, Key{Path: "b", Block: uint64(i)})
		assert.True(t, ok, fmt.Sprintf("b/%d must survive", i))
	}
}
