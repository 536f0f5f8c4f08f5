package cache

import (
	"sort"
	"sync"
)

// MapCache is an unbounded cache without expiry. Entries stay until deleted.
type MapCache[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

var _ Cache[int] = (*MapCache[int])(nil)

func NewMapCache[T any]() *MapCache[T] {
	return &MapCache[T]{items: make(map[string]T)}
}

func (c *MapCache[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *MapCache[T]) Set(key string, data T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = data
}

// GetOrSet returns the value stored under key, storing data first when the
// key is absent. loaded reports whether the value was already there.
func (c *MapCache[T]) GetOrSet(key string, data T) (v T, loaded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.items[key]; ok {
		return v, true
	}
	c.items[key] = data
	return data, false
}

func (c *MapCache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

func (c *MapCache[T]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]T)
}

// Keys returns the stored keys in sorted order.
func (c *MapCache[T]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *MapCache[T]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
