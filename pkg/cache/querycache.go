// Package cache provides the in-memory caching layers for MDLH queries:
// a TTL+LRU cache for query results and a tiered TTL cache for schema
// metadata. Both are pure in-memory structures and never perform I/O
// while holding their locks.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const (
	defaultQueryCacheSize = 1000
	defaultQueryCacheTTL  = 5 * time.Minute

	// queryPreviewLen bounds the query text retained per entry for debugging.
	queryPreviewLen = 100

	// cacheKeyLen is the number of hex characters kept from the digest.
	cacheKeyLen = 16
)

// QueryCacheConfig configures a QueryCache.
type QueryCacheConfig struct {
	MaxSize int
	TTL     time.Duration
}

// QueryCache is a TTL+LRU cache for query results keyed by a content hash
// of the query text and its parameters. Entries older than the TTL are
// treated as absent on read and removed lazily; capacity is enforced on
// insert by evicting least-recently-used entries. Safe for concurrent use.
type QueryCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration

	ll      *list.List // front = most recently used
	entries map[string]*list.Element

	hits   uint64
	misses uint64
}

type queryEntry struct {
	key      string
	rows     []map[string]any
	cachedAt time.Time
	preview  string
}

// NewQueryCache creates a query result cache.
func NewQueryCache(cfg QueryCacheConfig) *QueryCache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultQueryCacheSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultQueryCacheTTL
	}
	return &QueryCache{
		maxSize: cfg.MaxSize,
		ttl:     cfg.TTL,
		ll:      list.New(),
		entries: make(map[string]*list.Element),
	}
}

// Key derives the cache key for a query and its parameters: a truncated
// sha256 over the query text plus a deterministic serialization of the
// parameter map. Key collisions are accepted as a vanishingly unlikely
// risk of the hashing scheme.
func Key(query string, params map[string]any) string {
	data := query
	if len(params) > 0 {
		// json.Marshal emits map keys in sorted order.
		b, err := json.Marshal(params)
		if err != nil {
			b = []byte(fmt.Sprint(params))
		}
		data += string(b)
	}
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])[:cacheKeyLen]
}

// Get returns the cached rows for a query, or false on a miss. An entry
// older than the TTL counts as a miss and is removed. A hit marks the
// entry as most recently used.
func (c *QueryCache) Get(query string, params map[string]any) ([]map[string]any, bool) {
	key := Key(query, params)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	entry := elem.Value.(*queryEntry)
	if time.Since(entry.cachedAt) > c.ttl {
		c.removeElement(elem)
		c.misses++
		return nil, false
	}

	c.ll.MoveToFront(elem)
	c.hits++
	return entry.rows, true
}

// Set caches the rows for a query, evicting least-recently-used entries
// while the cache is at capacity.
func (c *QueryCache) Set(query string, params map[string]any, rows []map[string]any) {
	key := Key(query, params)
	preview := query
	if len(preview) > queryPreviewLen {
		preview = preview[:queryPreviewLen]
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*queryEntry)
		entry.rows = rows
		entry.cachedAt = time.Now()
		entry.preview = preview
		c.ll.MoveToFront(elem)
		return
	}

	for c.ll.Len() >= c.maxSize {
		if oldest := c.ll.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}

	elem := c.ll.PushFront(&queryEntry{
		key:      key,
		rows:     rows,
		cachedAt: time.Now(),
		preview:  preview,
	})
	c.entries[key] = elem
}

// Invalidate clears the entire cache and returns the number of entries
// removed.
func (c *QueryCache) Invalidate() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := len(c.entries)
	c.ll.Init()
	c.entries = make(map[string]*list.Element)
	return count
}

// InvalidateQuery removes the entry for a specific query and parameter
// set, returning 1 if an entry was removed and 0 otherwise.
func (c *QueryCache) InvalidateQuery(query string, params map[string]any) int {
	key := Key(query, params)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return 0
	}
	c.removeElement(elem)
	return 1
}

// QueryCacheStats is a point-in-time snapshot of cache counters.
type QueryCacheStats struct {
	Size       int     `json:"size"`
	MaxSize    int     `json:"maxsize"`
	TTLSeconds float64 `json:"ttl_seconds"`
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// Stats returns cache statistics.
func (c *QueryCache) Stats() QueryCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return QueryCacheStats{
		Size:       len(c.entries),
		MaxSize:    c.maxSize,
		TTLSeconds: c.ttl.Seconds(),
		Hits:       c.hits,
		Misses:     c.misses,
		HitRate:    rate,
	}
}

// removeElement drops an entry. Caller must hold the lock.
func (c *QueryCache) removeElement(elem *list.Element) {
	c.ll.Remove(elem)
	delete(c.entries, elem.Value.(*queryEntry).key)
}
