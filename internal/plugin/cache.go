package plugin

import "sync"

// Cache memoizes one instance per config fingerprint. Creation happens
// under the lock so concurrent workers never build duplicates.
type Cache[T any] struct {
	mu        sync.Mutex
	instances map[string]T
}

// NewCache returns an empty cache.
func NewCache[T any]() *Cache[T] {
	return &Cache[T]{instances: make(map[string]T)}
}

// Get returns the instance for fp, building it with create on first use.
// Failed creations are not cached.
func (c *Cache[T]) Get(fp string, create func() (T, error)) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if inst, ok := c.instances[fp]; ok {
		return inst, nil
	}
	inst, err := create()
	if err != nil {
		var zero T
		return zero, err
	}
	c.instances[fp] = inst
	return inst, nil
}

// Len returns the number of cached instances.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.instances)
}
