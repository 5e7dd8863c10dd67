package index

import (
	"sync"
)

// Cache holds the most recent full Index for one record store. It is loaded
// from the Store on first use. Invalidate it after any sync that wrote to the
// database and after any record file changes; Get then reports a miss until
// the next Set.
type Cache struct {
	store *Store

	mu     sync.Mutex
	idx    *Index
	loaded bool
	stale  bool
}

// NewCache creates a cache backed by store. A nil store starts empty.
func NewCache(store *Store) *Cache {
	return &Cache{store: store}
}

// Get returns the cached Index, or nil on a miss.
func (c *Cache) Get() (*Index, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stale {
		return nil, nil
	}
	if c.loaded || c.store == nil {
		return c.idx, nil
	}

	idx, err := c.store.Load()
	if err != nil {
		return nil, err
	}
	c.idx = idx
	c.loaded = true
	return idx, nil
}

// Set replaces the cached Index and clears any invalidation.
func (c *Cache) Set(idx *Index) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idx = idx
	c.loaded = true
	c.stale = false
}

// Invalidate marks the cached Index as out of date.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stale = true
}
