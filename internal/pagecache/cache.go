package pagecache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"folio/internal/render"
)

// Cache is an LRU store of rendered pages keyed by render.PageKey.
type Cache struct {
	mu      sync.Mutex
	entries map[render.PageKey]*entry
	lru     *list.List // front = most recent
	size    int64
	budget  int64
	onEvict func(render.PageKey)

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type entry struct {
	key      render.PageKey
	resp     *render.Response
	size     int64
	element  *list.Element
	lastUsed time.Time
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries   int
	Bytes     int64
	Budget    int64
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// HitRate returns hits over lookups, or zero before the first lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Option customizes a Cache.
type Option func(*Cache)

// WithEvictHook registers a callback invoked, outside the lock, with each key
// removed to make room or by SetBudget. Invalidations do not fire the hook.
func WithEvictHook(fn func(render.PageKey)) Option {
	return func(c *Cache) {
		c.onEvict = fn
	}
}

// New creates a cache with the given byte budget.
func New(budget int64, opts ...Option) *Cache {
	if budget < 0 {
		budget = 0
	}
	c := &Cache{
		entries: make(map[render.PageKey]*entry),
		lru:     list.New(),
		budget:  budget,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached response for key and marks it most recently used.
func (c *Cache) Get(key render.PageKey) (*render.Response, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	c.lru.MoveToFront(e.element)
	e.lastUsed = time.Now()
	resp := e.resp
	c.mu.Unlock()

	c.hits.Add(1)
	return resp, true
}

// Peek returns the cached response for key without touching recency or the
// hit counters.
func (c *Cache) Peek(key render.PageKey) (*render.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.resp, true
}

// Contains reports whether key is resident without touching recency.
func (c *Cache) Contains(key render.PageKey) bool {
	c.mu.Lock()
	_, ok := c.entries[key]
	c.mu.Unlock()
	return ok
}

// Insert stores resp under key, replacing any previous entry, and evicts the
// least recently used entries until the budget holds.
func (c *Cache) Insert(key render.PageKey, resp *render.Response) {
	if resp == nil {
		return
	}
	size := resp.Footprint
	if size <= 0 {
		size = resp.EstimateFootprint()
	}

	c.mu.Lock()
	if existing, ok := c.entries[key]; ok {
		c.removeLocked(existing)
	}
	evicted := c.evictLocked(c.budget-size, 0)
	e := &entry{key: key, resp: resp, size: size, lastUsed: time.Now()}
	e.element = c.lru.PushFront(e)
	c.entries[key] = e
	c.size += size
	c.mu.Unlock()

	c.notify(evicted)
}

// Invalidate drops every entry of a document.
func (c *Cache) Invalidate(doc render.DocumentID) int {
	return c.invalidateWhere(func(k render.PageKey) bool { return k.Document == doc })
}

// InvalidatePage drops every zoom and rotation of one page.
func (c *Cache) InvalidatePage(doc render.DocumentID, page int) int {
	return c.invalidateWhere(func(k render.PageKey) bool { return k.Document == doc && k.Page == page })
}

func (c *Cache) invalidateWhere(match func(render.PageKey) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, e := range c.entries {
		if match(key) {
			c.removeLocked(e)
			removed++
		}
	}
	return removed
}

// SetBudget changes the byte budget and evicts immediately if needed.
func (c *Cache) SetBudget(budget int64) {
	if budget < 0 {
		budget = 0
	}
	c.mu.Lock()
	c.budget = budget
	// The most recent entry stays even when it alone is over budget.
	evicted := c.evictLocked(budget, 1)
	c.mu.Unlock()
	c.notify(evicted)
}

// CurrentBytes returns the summed footprint of resident entries.
func (c *Cache) CurrentBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Budget returns the configured byte budget.
func (c *Cache) Budget() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.budget
}

// Len returns the number of resident entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns resident keys from most to least recently used.
func (c *Cache) Keys() []render.PageKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]render.PageKey, 0, c.lru.Len())
	for el := c.lru.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry).key)
	}
	return keys
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	entries, size, budget := len(c.entries), c.size, c.budget
	c.mu.Unlock()
	return Stats{
		Entries:   entries,
		Bytes:     size,
		Budget:    budget,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// evictLocked removes entries from the back of the list until size is at or
// below target or only keep entries remain.
func (c *Cache) evictLocked(target int64, keep int) []render.PageKey {
	var evicted []render.PageKey
	for c.size > target && c.lru.Len() > keep {
		back := c.lru.Back()
		if back == nil {
			break
		}
		e := back.Value.(*entry)
		c.removeLocked(e)
		c.evictions.Add(1)
		evicted = append(evicted, e.key)
	}
	return evicted
}

func (c *Cache) removeLocked(e *entry) {
	c.lru.Remove(e.element)
	delete(c.entries, e.key)
	c.size -= e.size
}

func (c *Cache) notify(keys []render.PageKey) {
	if c.onEvict == nil {
		return
	}
	for _, key := range keys {
		c.onEvict(key)
	}
}
