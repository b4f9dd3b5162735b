// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package cache provides a small LRU cache for values that own external
// resources (compiled GPU programs, texture views). Unlike a plain map,
// eviction is observable: the cache invokes a release hook for every entry
// it drops, so GPU objects are destroyed instead of leaked.
package cache

import (
	"container/list"
	"sync"
)

// DefaultCapacity is used when a cache is created with capacity <= 0.
const DefaultCapacity = 64

// ReleaseFunc is called for every entry removed from the cache, whether by
// LRU eviction, explicit Remove, or Clear. It runs while the cache lock is
// held; it must not call back into the cache.
type ReleaseFunc[K comparable, V any] func(key K, value V)

// LRU is a least-recently-used cache with a release hook.
//
// LRU is safe for concurrent use. The engine that owns it is
// single-threaded, but the draw and tick cadences are driven externally and
// a host may call them from different goroutines over the program's life.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	release  ReleaseFunc[K, V]
	entries  map[K]*list.Element
	order    *list.List // front = most recently used

	hits   uint64
	misses uint64
}

type lruEntry[K comparable, V any] struct {
	key   K
	value V
}

// New creates an LRU cache holding at most capacity entries.
// release may be nil if entries own no external resources.
func New[K comparable, V any](capacity int, release ReleaseFunc[K, V]) *LRU[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &LRU[K, V]{
		capacity: capacity,
		release:  release,
		entries:  make(map[K]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached value for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return el.Value.(*lruEntry[K, V]).value, true
}

// Put stores value under key, evicting the oldest entry if the cache is
// full. Storing under an existing key releases the previous value first.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*lruEntry[K, V])
		if c.release != nil {
			c.release(key, entry.value)
		}
		entry.value = value
		c.order.MoveToFront(el)
		return
	}

	for c.order.Len() >= c.capacity {
		c.evictOldest()
	}

	c.entries[key] = c.order.PushFront(&lruEntry[K, V]{key: key, value: value})
}

// GetOrCreate returns the cached value for key, or invokes create and
// caches its result. A create error is returned as-is and nothing is cached.
func (c *LRU[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := create()
	if err != nil {
		var zero V
		return zero, err
	}
	c.Put(key, v)
	return v, nil
}

// Remove drops the entry for key, releasing its value.
// Removing an absent key is a no-op.
func (c *LRU[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return
	}
	c.removeElement(el)
}

// Clear releases and drops every entry.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.order.Len() > 0 {
		c.evictOldest()
	}
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Capacity returns the maximum number of entries.
func (c *LRU[K, V]) Capacity() int { return c.capacity }

// Stats returns cumulative hit and miss counts.
func (c *LRU[K, V]) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// evictOldest removes the least recently used entry. Caller holds c.mu.
func (c *LRU[K, V]) evictOldest() {
	el := c.order.Back()
	if el == nil {
		return
	}
	c.removeElement(el)
}

// removeElement unlinks el and releases its value. Caller holds c.mu.
func (c *LRU[K, V]) removeElement(el *list.Element) {
	entry := el.Value.(*lruEntry[K, V])
	c.order.Remove(el)
	delete(c.entries, entry.key)
	if c.release != nil {
		c.release(entry.key, entry.value)
	}
}
