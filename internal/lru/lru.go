// Package lru implements a bounded key-to-value cache with LRU eviction,
// an optional per-entry maximum-idle-time sweep, an optional
// insertion-age-based sweep, and a deletion callback invoked for every
// entry removed by capacity, expiration, age, explicit removal, or
// RemoveAll.
//
// The eviction-hook idiom follows the wrapped-groupcache/lru pattern
// (an OnEvicted callback fired from inside the cache's own lock); this
// package is hand-rolled on top of container/list instead of reusing
// golang.org/x/groupcache/lru because that library exposes no way to
// walk entries LRU-first for the idle/age sweeps this cache needs — its
// public API is Add/Get/Remove/RemoveOldest only.
package lru

import (
	"container/list"
	"time"
)

// OnEvicted is invoked once per entry removed from the cache. It runs
// with the cache's internal lock held by the caller of the mutating
// method that triggered the eviction — implementations must not call
// back into the cache from within this callback.
type OnEvicted func(key string, value any)

type entry struct {
	key        string
	value      any
	insertedAt time.Time
	accessedAt time.Time
}

// Cache is a bounded, LRU-ordered map. It is not safe for concurrent
// use; callers (checkcache, reportcache) own their own mutex around it.
type Cache struct {
	MaxEntries         int
	MaxIdle            time.Duration // 0 disables idle-based expiration
	AgeBasedEviction   time.Duration // 0 disables age-based eviction
	OnEvicted          OnEvicted
	now                func() time.Time

	ll    *list.List
	items map[string]*list.Element
}

// New creates a Cache with the given capacity. A non-positive maxEntries
// means "unbounded" (only idle/age sweeps and explicit removal evict).
func New(maxEntries int) *Cache {
	return &Cache{
		MaxEntries: maxEntries,
		now:        time.Now,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
	}
}

// Len reports the number of entries currently cached.
func (c *Cache) Len() int { return c.ll.Len() }

// Get returns the value for key, promoting it to most-recently-used and
// refreshing its idle clock. The second return is false on a miss.
func (c *Cache) Get(key string) (any, bool) {
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	e := el.Value.(*entry)
	e.accessedAt = c.now()
	return e.value, true
}

// Peek returns the value for key without promoting it or refreshing its
// idle clock.
func (c *Cache) Peek(key string) (any, bool) {
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	return el.Value.(*entry).value, true
}

// Insert adds or replaces the value for key, promoting it to
// most-recently-used. If the insertion pushes the cache over capacity,
// the least-recently-used entry is evicted and OnEvicted is invoked for
// it before Insert returns.
func (c *Cache) Insert(key string, value any) {
	now := c.now()
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		e := el.Value.(*entry)
		e.value = value
		e.accessedAt = now
		return
	}

	el := c.ll.PushFront(&entry{key: key, value: value, insertedAt: now, accessedAt: now})
	c.items[key] = el

	if c.MaxEntries > 0 && c.ll.Len() > c.MaxEntries {
		c.removeOldest()
	}
}

// Remove deletes key from the cache, invoking OnEvicted if it was
// present.
func (c *Cache) Remove(key string) {
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// RemoveAll evicts every entry, invoking OnEvicted for each one in
// LRU-to-MRU order.
func (c *Cache) RemoveAll() {
	for {
		back := c.ll.Back()
		if back == nil {
			return
		}
		c.removeElement(back)
	}
}

// RemoveExpiredEntries sweeps entries LRU-first, evicting any entry
// whose idle time (time since last access) has reached MaxIdle, or whose
// age (time since insertion) has reached AgeBasedEviction. Either check
// is skipped when its window is zero. Idle time and insertion age can
// diverge (the report cache never refreshes insertedAt on merge), so
// the sweep walks every entry rather than stopping at the first one
// that is still live.
func (c *Cache) RemoveExpiredEntries() {
	now := c.now()
	var toRemove []*list.Element
	for el := c.ll.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		expired := false
		if c.MaxIdle > 0 && now.Sub(e.accessedAt) >= c.MaxIdle {
			expired = true
		}
		if c.AgeBasedEviction > 0 && now.Sub(e.insertedAt) >= c.AgeBasedEviction {
			expired = true
		}
		if expired {
			toRemove = append(toRemove, el)
		}
	}
	for _, el := range toRemove {
		c.removeElement(el)
	}
}

func (c *Cache) removeOldest() {
	if el := c.ll.Back(); el != nil {
		c.removeElement(el)
	}
}

func (c *Cache) removeElement(el *list.Element) {
	c.ll.Remove(el)
	e := el.Value.(*entry)
	delete(c.items, e.key)
	if c.OnEvicted != nil {
		c.OnEvicted(e.key, e.value)
	}
}

// SetClock overrides the cache's time source; used by tests to simulate
// idle/age windows elapsing without sleeping.
func (c *Cache) SetClock(now func() time.Time) { c.now = now }
