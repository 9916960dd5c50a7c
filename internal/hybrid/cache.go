package hybrid

import (
	"container/list"
	"slices"
	"sync"
	"time"
)

const (
	DefaultQueryCacheSize   = 256
	DefaultQueryCacheMaxAge = 15 * time.Minute
)

type queryKey struct {
	model string
	query string
}

type queryEntry struct {
	key       queryKey
	embedding []float32
	at        time.Time
}

// QueryCache holds recent query embeddings keyed by model id and raw query
// text. Entries expire after maxAge; when full the oldest entry is evicted.
type QueryCache struct {
	mu       sync.Mutex
	capacity int
	maxAge   time.Duration
	now      func() time.Time
	items    map[queryKey]*list.Element
	order    *list.List // oldest first

	hits, misses int64
}

// NewQueryCache creates a cache. Non-positive arguments select the defaults.
func NewQueryCache(capacity int, maxAge time.Duration, now func() time.Time) *QueryCache {
	if capacity <= 0 {
		capacity = DefaultQueryCacheSize
	}
	if maxAge <= 0 {
		maxAge = DefaultQueryCacheMaxAge
	}
	if now == nil {
		now = time.Now
	}
	return &QueryCache{
		capacity: capacity,
		maxAge:   maxAge,
		now:      now,
		items:    make(map[queryKey]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached embedding for (model, query) if it is younger than maxAge.
func (c *QueryCache) Get(model, query string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[queryKey{model, query}]
	if !ok {
		c.misses++
		return nil, false
	}
	e := el.Value.(*queryEntry)
	if c.now().Sub(e.at) >= c.maxAge {
		c.order.Remove(el)
		delete(c.items, e.key)
		c.misses++
		return nil, false
	}
	c.hits++
	return e.embedding, true
}

// Put stores an embedding, refreshing its timestamp.
func (c *QueryCache) Put(model, query string, embedding []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := queryKey{model, query}
	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
	c.items[key] = c.order.PushBack(&queryEntry{key: key, embedding: slices.Clone(embedding), at: c.now()})

	for c.order.Len() > c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*queryEntry).key)
	}
}

// Clear drops every entry.
func (c *QueryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[queryKey]*list.Element)
	c.order.Init()
}

// Len returns the number of entries, including expired ones not yet evicted.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns hit and miss counters.
func (c *QueryCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
