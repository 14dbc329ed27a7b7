// Package cache is a small in-process TTL cache, used for the in-memory
// level of the base-map cache and for DNS lookups.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	val V
	exp time.Time
}

type Cache[K comparable, V any] struct {
	mu   sync.RWMutex
	data map[K]entry[V]
	ttl  time.Duration
}

func New[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{data: make(map[K]entry[V]), ttl: ttl}
}

func (c *Cache[K, V]) Get(k K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.data[k]
	if !ok || time.Now().After(e.exp) {
		var zero V
		return zero, false
	}
	return e.val, true
}

// Set stores v under the cache's default TTL.
func (c *Cache[K, V]) Set(k K, v V) {
	c.SetUntil(k, v, time.Now().Add(c.ttl))
}

func (c *Cache[K, V]) SetUntil(k K, v V, exp time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[k] = entry[V]{val: v, exp: exp}
}

func (c *Cache[K, V]) Delete(k K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, k)
}

// Sweep drops expired entries. Intended for a periodic janitor; Get
// already treats expired entries as absent.
func (c *Cache[K, V]) Sweep() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.data {
		if now.After(e.exp) {
			delete(c.data, k)
			removed++
		}
	}
	return removed
}
