package cache

import "sync"

// Cache is a thread-safe LRU cache with a hard entry limit.
//
// Values that leave the cache, whether evicted, deleted or cleared, are
// handed to the eviction callback exactly once. Backends use it to destroy
// native objects such as bind groups.
//
// Cache must not be copied after creation (has mutex).
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*lruNode[K, V]
	order   lruList[K, V]
	limit   int
	onEvict func(K, V)

	hits, misses, evictions uint64
}

// New creates a cache holding at most limit entries. A limit of 0 means
// unlimited. onEvict may be nil.
func New[K comparable, V any](limit int, onEvict func(K, V)) *Cache[K, V] {
	return &Cache[K, V]{
		entries: make(map[K]*lruNode[K, V]),
		limit:   limit,
		onEvict: onEvict,
	}
}

// Get returns the value for key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.entries[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	c.order.moveToFront(n)
	return n.value, true
}

// GetOrCreate returns the cached value or stores the result of create.
// create runs under the cache lock and must not call back into the cache.
// An error from create is returned and nothing is stored.
func (c *Cache[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	c.mu.Lock()
	if n, ok := c.entries[key]; ok {
		c.hits++
		c.order.moveToFront(n)
		c.mu.Unlock()
		return n.value, nil
	}
	c.misses++

	v, err := create()
	if err != nil {
		c.mu.Unlock()
		return v, err
	}
	n := &lruNode[K, V]{key: key, value: v}
	c.entries[key] = n
	c.order.pushFront(n)
	evicted := c.trimLocked()
	c.mu.Unlock()

	c.release(evicted)
	return v, nil
}

// DeleteFunc removes every entry for which pred returns true and reports
// how many were removed.
func (c *Cache[K, V]) DeleteFunc(pred func(K, V) bool) int {
	c.mu.Lock()
	var removed []*lruNode[K, V]
	for k, n := range c.entries {
		if pred(k, n.value) {
			delete(c.entries, k)
			c.order.unlink(n)
			removed = append(removed, n)
		}
	}
	c.mu.Unlock()

	c.release(removed)
	return len(removed)
}

// Clear removes all entries.
func (c *Cache[K, V]) Clear() {
	c.DeleteFunc(func(K, V) bool { return true })
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Len:       len(c.entries),
		Capacity:  c.limit,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// trimLocked unlinks least recently used entries beyond the limit.
// Caller must hold c.mu.
func (c *Cache[K, V]) trimLocked() []*lruNode[K, V] {
	if c.limit <= 0 {
		return nil
	}
	var out []*lruNode[K, V]
	for len(c.entries) > c.limit {
		n := c.order.back()
		c.order.unlink(n)
		delete(c.entries, n.key)
		c.evictions++
		out = append(out, n)
	}
	return out
}

// release runs the eviction callback outside the lock.
func (c *Cache[K, V]) release(nodes []*lruNode[K, V]) {
	if c.onEvict == nil {
		return
	}
	for _, n := range nodes {
		c.onEvict(n.key, n.value)
	}
}

// Stats contains cache statistics.
type Stats struct {
	// Len is the current number of entries.
	Len int
	// Capacity is the entry limit, 0 when unlimited.
	Capacity int
	// Hits is the number of successful lookups.
	Hits uint64
	// Misses is the number of lookups that found nothing.
	Misses uint64
	// Evictions is the number of entries dropped by the limit.
	Evictions uint64
}
