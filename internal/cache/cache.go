package cache

import "sync"

// Cycle is the per-evaluation-cycle memo store, a two-level mapping of
// key -> group -> value. Engines use it opportunistically to memoize
// sub-evaluations within one cycle; the hook owns it and resets it at
// every cycle boundary. There is no eviction.
type Cycle struct {
	mu   sync.RWMutex
	data map[string]map[string]any
}

// New creates an empty cycle cache.
func New() *Cycle {
	return &Cycle{data: make(map[string]map[string]any)}
}

// Get returns the value stored under (key, group), or false when absent.
func (c *Cycle) Get(key, group string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	groups, ok := c.data[key]
	if !ok {
		return nil, false
	}
	val, ok := groups[group]
	return val, ok
}

// Set stores a value under (key, group), allocating the intermediate
// level lazily.
func (c *Cycle) Set(key, group string, val any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	groups, ok := c.data[key]
	if !ok {
		groups = make(map[string]any)
		c.data[key] = groups
	}
	groups[group] = val
}

// Reset discards all entries. Called at the start of each cycle.
func (c *Cycle) Reset() {
	c.mu.Lock()
	c.data = make(map[string]map[string]any)
	c.mu.Unlock()
}

// Len returns the number of stored values across all keys and groups.
func (c *Cycle) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, groups := range c.data {
		n += len(groups)
	}
	return n
}
