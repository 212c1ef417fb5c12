package discovery

import "sync"

// Cache is the set of meter IDs announced in this run. It only grows.
type Cache struct {
	mu    sync.RWMutex
	ids   map[string]struct{}
	order []string
}

// NewCache returns a cache seeded with ids.
func NewCache(ids ...string) *Cache {
	c := &Cache{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		c.Add(id)
	}
	return c
}

// Add inserts id and reports whether it was new.
func (c *Cache) Add(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ids[id]; ok {
		return false
	}
	c.ids[id] = struct{}{}
	c.order = append(c.order, id)
	return true
}

// Has reports whether id has been announced.
func (c *Cache) Has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.ids[id]
	return ok
}

// Len returns the number of known IDs.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}

// IDs returns known IDs in the order they were added.
func (c *Cache) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}
