package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/maxsim/resource"
)

// LRU implements BlockCache with byte-size accounting.
// If a resource.Controller is provided, cached bytes are charged against its
// memory budget; entries the budget rejects are simply not cached.
type LRU struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[Key]*list.Element
	evictList *list.List
	rc        *resource.Controller

	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	key   Key
	value []byte
}

// NewLRU creates an LRU cache with the given capacity in bytes.
func NewLRU(capacity int64, rc *resource.Controller) *LRU {
	return &LRU{
		capacity:  capacity,
		items:     make(map[Key]*list.Element),
		evictList: list.New(),
		rc:        rc,
	}
}

// Get returns a cached block.
func (c *LRU) Get(_ context.Context, key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(ent)
		return ent.Value.(*entry).value, true
	}

	c.misses.Add(1)

	return nil, false
}

// Set caches a block, evicting from the cold end until it fits.
func (c *LRU) Set(_ context.Context, key Key, b []byte) {
	itemSize := int64(len(b))
	if itemSize > c.capacity {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		// Blocks are immutable; a re-set only refreshes recency.
		c.evictList.MoveToFront(ent)
		return
	}

	for c.size+itemSize > c.capacity {
		tail := c.evictList.Back()
		if tail == nil {
			break
		}
		c.removeElement(tail)
	}

	if c.rc != nil && !c.rc.TryAcquireMemory(itemSize) {
		return
	}

	ent := &entry{key: key, value: b}
	c.items[key] = c.evictList.PushFront(ent)
	c.size += itemSize
}

// Invalidate removes entries matching the predicate.
func (c *LRU) Invalidate(predicate func(key Key) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, elem := range c.items {
		if predicate(key) {
			c.removeElement(elem)
		}
	}
}

// Stats returns hit/miss counters.
func (c *LRU) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of cached blocks.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.items)
}

// Size returns the cached byte total.
func (c *LRU) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.size
}

func (c *LRU) removeElement(elem *list.Element) {
	ent := elem.Value.(*entry)

	c.evictList.Remove(elem)
	delete(c.items, ent.key)
	c.size -= int64(len(ent.value))

	if c.rc != nil {
		c.rc.ReleaseMemory(int64(len(ent.value)))
	}
}
