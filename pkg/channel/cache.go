package channel

import (
	"sort"
	"sync"
)

// cache maps channel names to open handles. It holds no lifecycle logic; the
// registry keeps it in step with the reference-count table.
type cache struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

func newCache() *cache {
	return &cache{handles: make(map[string]*Handle)}
}

func (c *cache) get(name string) (*Handle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handles[name]
	return h, ok
}

func (c *cache) put(name string, h *Handle) {
	c.mu.Lock()
	c.handles[name] = h
	c.mu.Unlock()
}

func (c *cache) remove(name string) {
	c.mu.Lock()
	delete(c.handles, name)
	c.mu.Unlock()
}

func (c *cache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handles)
}

// names returns the cached names in sorted order.
func (c *cache) names() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.handles))
	for name := range c.handles {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)
	return names
}
