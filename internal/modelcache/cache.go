// Package modelcache holds fitted forecast models between runs.
package modelcache

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Defaults used when the cache is built with non-positive settings.
const (
	DefaultTTL        = 6 * time.Hour
	DefaultMaxEntries = 64
)

// Entry is a cached value with its insertion time and lifetime.
type Entry[V any] struct {
	Key       string
	Value     V
	CreatedAt time.Time
	TTL       time.Duration
}

// Expired reports whether the entry's lifetime has elapsed at now.
func (e Entry[V]) Expired(now time.Time) bool {
	return !now.Before(e.CreatedAt.Add(e.TTL))
}

// Key builds the cache key of a station forecast at a horizon.
func Key(station string, horizon int) string {
	return fmt.Sprintf("%s|%d", station, horizon)
}

// Cache is a thread-safe TTL cache bounded to maxEntries. When full, the
// oldest entry by insertion time is evicted. Reads do not refresh entries.
type Cache[V any] struct {
	ttl        time.Duration
	maxEntries int
	clock      clockwork.Clock

	mu      sync.RWMutex
	entries map[string]*node[V]
	head    *node[V] // newest
	tail    *node[V] // oldest
}

type node[V any] struct {
	entry Entry[V]
	prev  *node[V]
	next  *node[V]
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	clock clockwork.Clock
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// New creates an empty cache.
func New[V any](ttl time.Duration, maxEntries int, opts ...Option) *Cache[V] {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache[V]{
		ttl:        ttl,
		maxEntries: maxEntries,
		clock:      o.clock,
		entries:    make(map[string]*node[V]),
	}
}

// Get returns the value stored under key if it has not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n, ok := c.entries[key]
	if !ok || n.entry.Expired(c.clock.Now()) {
		var zero V
		return zero, false
	}
	return n.entry.Value, true
}

// Lookup is Get returning the whole entry.
func (c *Cache[V]) Lookup(key string) (Entry[V], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n, ok := c.entries[key]
	if !ok || n.entry.Expired(c.clock.Now()) {
		return Entry[V]{}, false
	}
	return n.entry, true
}

// Put inserts or replaces the value under key with a fresh lifetime.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := Entry[V]{Key: key, Value: value, CreatedAt: c.clock.Now(), TTL: c.ttl}
	if n, ok := c.entries[key]; ok {
		n.entry = e
		c.remove(n)
		c.addToFront(n)
		return
	}

	n := &node[V]{entry: e}
	c.entries[key] = n
	c.addToFront(n)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

// Delete removes key. It is a no-op for missing keys.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.remove(n)
	}
}

// Len returns the number of stored entries, expired ones included until the
// next Sweep.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep drops expired entries and returns how many were removed.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for n := c.tail; n != nil; {
		prev := n.prev
		if n.entry.Expired(now) {
			delete(c.entries, n.entry.Key)
			c.remove(n)
			removed++
		}
		n = prev
	}
	return removed
}

func (c *Cache[V]) addToFront(n *node[V]) {
	n.next = c.head
	n.prev = nil
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *Cache[V]) remove(n *node[V]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

func (c *Cache[V]) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.entry.Key)
	c.remove(c.tail)
}
