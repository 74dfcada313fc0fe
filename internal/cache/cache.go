// Package cache is an in-memory LRU blob cache bounded by total byte
// count rather than entry count. It is purely in-memory, guarded by a
// single mutex, and must never perform I/O.
//
// hashicorp/golang-lru/v2/simplelru only bounds by entry count, so this
// wraps it with a byte-accounting layer that adjusts the byte counter at
// every call site that removes an entry; simplelru's eviction callback
// is not used.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"
)

// Stats is a point-in-time snapshot of cache occupancy.
type Stats struct {
	Entries    int
	UsedBytes  int64
	MaxBytes   int64
}

// Cache is a byte-bounded, recency-ordered cache of CID -> ciphertext.
type Cache struct {
	mu        sync.Mutex
	maxBytes  int64
	usedBytes int64
	lru       *lru.LRU[string, []byte]
}

// New creates a cache bounded by maxBytes. maxBytes == 0 disables all
// inserts (and Get always misses).
func New(maxBytes int64) *Cache {
	c := &Cache{maxBytes: maxBytes}
	// simplelru requires size > 0; the entry-count bound is effectively
	// unused (byte accounting below does the real eviction), so give it a
	// large nominal capacity and pass no onEvict — usedBytes is tracked
	// explicitly around every call that can remove an entry, since
	// simplelru invokes onEvict on explicit Remove/Purge too and a
	// callback here would double-count alongside that bookkeeping.
	inner, _ := lru.NewLRU[string, []byte](1<<31-1, nil)
	c.lru = inner
	return c
}

// Get looks up key and promotes it to most-recently-used on a hit.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxBytes == 0 {
		return nil, false
	}
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true
}

// Set inserts key with the given bytes, evicting least-recently-used
// entries until the cache fits. Items larger than 10% of capacity are
// refused outright.
func (c *Cache) Set(key string, value []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxBytes == 0 {
		return false
	}
	size := int64(len(value))
	if size > c.maxBytes/10 {
		return false
	}

	if old, ok := c.lru.Peek(key); ok {
		c.usedBytes -= int64(len(old))
		c.lru.Remove(key)
	}

	for c.usedBytes+size > c.maxBytes {
		_, v, ok := c.lru.RemoveOldest()
		if !ok {
			break
		}
		c.usedBytes -= int64(len(v))
	}

	cp := make([]byte, len(value))
	copy(cp, value)
	c.lru.Add(key, cp)
	c.usedBytes += size
	return true
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.lru.Peek(key); ok {
		c.usedBytes -= int64(len(v))
		c.lru.Remove(key)
	}
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.usedBytes = 0
}

// Stats returns a snapshot of current occupancy.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   c.lru.Len(),
		UsedBytes: c.usedBytes,
		MaxBytes:  c.maxBytes,
	}
}
