// Package cache implements the optional per-pool result cache of §4.3:
// a bounded mapping from a derived or explicit key to (value, expiry,
// weight), with LRU or weight-bounded eviction. A bloom filter guards
// the common miss-heavy case with a negative pre-check before the real
// map is probed.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

// Policy selects the eviction strategy used when the cache is full.
type Policy string

const (
	// PolicyLRU evicts the least recently used entry on overflow.
	PolicyLRU Policy = "lru"
	// PolicyWeight evicts entries (oldest-inserted first; Get does not
	// reorder them) until the sum of weights fits within Capacity.
	PolicyWeight Policy = "weight"
)

type entry struct {
	key     string
	value   any
	expiry  time.Time
	weight  int
	element *list.Element
}

// Config configures one pool's result cache, mirroring the
// pool__cache_* meta-fields of §4.3.
type Config struct {
	Capacity    int
	Policy      Policy
	DefaultTTL  time.Duration
	EvictPeriod time.Duration
}

// Cache is the per-pool result cache. It is safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	cfg        Config
	entries    map[string]*entry
	order      *list.List // front = most-recently-used
	totalWeight int
	bloom      *bloom.BloomFilter
	lastEvict  time.Time
}

// New builds a Cache from cfg. A zero Capacity means "no cache" and
// callers should not construct one in that case; New still works for
// completeness (capacity 0 just never stores anything).
func New(cfg Config) *Cache {
	if cfg.Policy == "" {
		cfg.Policy = PolicyLRU
	}
	capacity := cfg.Capacity
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		cfg:     cfg,
		entries: make(map[string]*entry, capacity),
		order:   list.New(),
		bloom:   bloom.NewWithEstimates(uint(capacity*4+16), 0.01),
	}
}

// Get returns the cached value for key, or (nil, false) on miss or
// expiry. A bloom-filter negative hit short-circuits before the map
// lookup, matching the "cache miss is the common path" assumption.
func (c *Cache) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.bloom.TestString(key) {
		return nil, false
	}
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiry.IsZero() && time.Now().After(e.expiry) {
		c.removeLocked(e)
		return nil, false
	}
	if c.cfg.Policy == PolicyLRU {
		c.order.MoveToFront(e.element)
	}
	return e.value, true
}

// Put inserts or replaces the value for key. ttl of zero uses the
// configured DefaultTTL; weight of zero defaults to 1.
func (c *Cache) Put(key string, value any, ttl time.Duration, weight int) {
	if c == nil || c.cfg.Capacity < 1 {
		return
	}
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	if weight < 1 {
		weight = 1
	}
	var expiry time.Time
	if ttl > 0 {
		expiry = time.Now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.removeLocked(old)
	}

	e := &entry{key: key, value: value, expiry: expiry, weight: weight}
	e.element = c.order.PushFront(e)
	c.entries[key] = e
	c.totalWeight += weight
	c.bloom.AddString(key)

	c.evictToFitLocked()
}

func (c *Cache) removeLocked(e *entry) {
	delete(c.entries, e.key)
	c.order.Remove(e.element)
	c.totalWeight -= e.weight
}

// evictToFitLocked drops oldest-used entries until the cache satisfies
// its policy's capacity bound. Must be called with mu held.
func (c *Cache) evictToFitLocked() {
	switch c.cfg.Policy {
	case PolicyWeight:
		for c.totalWeight > c.cfg.Capacity && c.order.Len() > 0 {
			back := c.order.Back()
			c.removeLocked(back.Value.(*entry))
		}
	default: // PolicyLRU: capacity counts entries, not weight
		for c.order.Len() > c.cfg.Capacity {
			back := c.order.Back()
			c.removeLocked(back.Value.(*entry))
		}
	}
}

// EvictExpired performs one bounded eviction sweep, invoked by the
// manager's periodic sweeper no more often than EvictPeriod.
func (c *Cache) EvictExpired(now time.Time) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.EvictPeriod > 0 && !c.lastEvict.IsZero() && now.Sub(c.lastEvict) < c.cfg.EvictPeriod {
		return
	}
	c.lastEvict = now
	for e := c.order.Front(); e != nil; {
		next := e.Next()
		ent := e.Value.(*entry)
		if !ent.expiry.IsZero() && now.After(ent.expiry) {
			c.removeLocked(ent)
		}
		e = next
	}
}

// Len reports the number of live entries, for tests/metrics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
