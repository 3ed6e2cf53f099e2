package modelcache

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_GetPut(t *testing.T) {
	c, _ := newTestCache(time.Hour, 3)

	c.Put("a", 1)
	c.Put("b", 2)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestCache_Expiry(t *testing.T) {
	c, clock := newTestCache(time.Hour, 3)
	c.Put("a", 1)

	clock.Advance(59 * time.Minute)
	_, ok := c.Get("a")
	assert.True(t, ok)

	clock.Advance(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry should expire exactly at its TTL")
	assert.Equal(t, 1, c.Len(), "expired entries stay until swept")

	assert.Equal(t, 1, c.Sweep())
	assert.Zero(t, c.Len())
}

func TestCache_ReplaceRefreshesLifetime(t *testing.T) {
	c, clock := newTestCache(time.Hour, 3)
	c.Put("a", 1)

	clock.Advance(45 * time.Minute)
	c.Put("a", 2)
	clock.Advance(30 * time.Minute)

	e, ok := c.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, 2, e.Value)
	assert.Equal(t, clock.Now().Add(-30*time.Minute), e.CreatedAt)
	assert.Equal(t, time.Hour, e.TTL)
	assert.Equal(t, 1, c.Len())
}

func TestCache_EvictsOldestWhenFull(t *testing.T) {
	c, clock := newTestCache(time.Hour, 2)

	c.Put("a", 1)
	clock.Advance(time.Second)
	c.Put("b", 2)
	clock.Advance(time.Second)

	// Reads do not protect an entry from eviction.
	c.Get("a")
	c.Put("c", 3)

	_, ok := c.Get("a")
	assert.False(t, ok, "a was inserted first and should have been evicted")
	_, ok = c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestCache_ReplacedEntryBecomesNewest(t *testing.T) {
	c, _ := newTestCache(time.Hour, 2)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("a", 10)
	c.Put("c", 3)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 10, v)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestCache_Delete(t *testing.T) {
	c, _ := newTestCache(time.Hour, 2)
	c.Put("a", 1)
	c.Delete("a")
	c.Delete("missing")

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestCache_SweepKeepsLiveEntries(t *testing.T) {
	c, clock := newTestCache(time.Hour, 4)
	c.Put("old", 1)
	clock.Advance(40 * time.Minute)
	c.Put("new", 2)
	clock.Advance(30 * time.Minute)

	assert.Equal(t, 1, c.Sweep())
	_, ok := c.Get("new")
	assert.True(t, ok)
}

func TestCache_Defaults(t *testing.T) {
	c := New[string](0, 0)
	assert.Equal(t, DefaultTTL, c.ttl)
	assert.Equal(t, DefaultMaxEntries, c.maxEntries)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(time.Hour, 8)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := Key("Haifa", i%4)
			c.Put(key, i)
			c.Get(key)
			c.Len()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 4, c.Len())
}

func TestKey(t *testing.T) {
	assert.Equal(t, "Haifa|24", Key("Haifa", 24))
	assert.NotEqual(t, Key("Haifa", 24), Key("Haifa", 48))
}

// --- helpers ---

func newTestCache(ttl time.Duration, size int) (*Cache[int], *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 11, 6, 0, 0, 0, 0, time.UTC))
	return New[int](ttl, size, WithClock(clock)), clock
}
