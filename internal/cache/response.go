// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

// Package cache provides the in-process LRU response cache for hotmap
// reads. Entries are keyed by the normalized query string and
// invalidated wholesale whenever a pipeline build lands.
package cache

import (
	"sync"
	"time"

	"github.com/eklind/artgrid/internal/metrics"
)

// entry is one cached response body in the doubly-linked LRU list.
type entry struct {
	key       string
	body      []byte
	prev      *entry
	next      *entry
	expiresAt time.Time
}

// ResponseCache is a thread-safe LRU cache with TTL for rendered
// response bodies. All operations are O(1): a hashmap gives lookups and
// a sentinel doubly-linked list gives recency ordering, head.next being
// the most recently used.
type ResponseCache struct {
	mu sync.Mutex

	capacity int
	ttl      time.Duration

	items map[string]*entry
	head  *entry
	tail  *entry
}

// New creates a response cache. Non-positive capacity or TTL fall back
// to 256 entries and 5 minutes.
func New(capacity int, ttl time.Duration) *ResponseCache {
	if capacity <= 0 {
		capacity = 256
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	c := &ResponseCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*entry, capacity),
		head:     &entry{},
		tail:     &entry{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Get returns the cached body for key, or (nil, false) when absent or
// expired. Hits move the entry to the front.
func (c *ResponseCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		metrics.HotmapCacheMisses.Inc()
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.remove(e)
		metrics.HotmapCacheMisses.Inc()
		return nil, false
	}

	c.moveToFront(e)
	metrics.HotmapCacheHits.Inc()
	return e.body, true
}

// Set stores body under key, evicting the least recently used entries
// when over capacity. The body is not copied; callers must not mutate
// it afterwards.
func (c *ResponseCache) Set(key string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(c.ttl)
	if e, ok := c.items[key]; ok {
		e.body = body
		e.expiresAt = expiresAt
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, body: body, expiresAt: expiresAt}
	c.addToFront(e)
	c.items[key] = e

	for len(c.items) > c.capacity {
		c.remove(c.tail.prev)
	}
}

// Invalidate drops every entry. Called after pipeline builds and admin
// clears so readers never see stale hotmaps.
func (c *ResponseCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*entry, c.capacity)
	c.head.next = c.tail
	c.tail.prev = c.head
}

// Len returns the number of live entries, counting expired ones not yet
// lazily removed.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// List maintenance, lock held.

func (c *ResponseCache) addToFront(e *entry) {
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
}

func (c *ResponseCache) moveToFront(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	c.addToFront(e)
}

func (c *ResponseCache) remove(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	delete(c.items, e.key)
}
