package searchopt

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/engramhq/engram/pkg/index"
	"github.com/engramhq/engram/pkg/memory"
)

const (
	// DefaultCacheSize is the LRU capacity.
	DefaultCacheSize = 128
	// DefaultCacheTTL is how long a cached result set stays fresh.
	DefaultCacheTTL = 5 * time.Minute
)

// Cache holds recent search result sets, keyed deterministically by query,
// expansion terms, filter set and re-rank tags. Eviction is
// least-recently-used at a fixed capacity; expiry is checked on read.
type Cache struct {
	lru *lru.LRU[string, []*memory.MemoryResult]
}

// NewCache creates a result cache.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		lru: lru.NewLRU[string, []*memory.MemoryResult](size, nil, ttl),
	}
}

// Key builds the deterministic cache key. The filter set stays in clear
// text so Invalidate can match on it; the query, expansion and tags
// collapse to a hash. Tags participate because they bias the cached
// ordering; their order does not matter.
func Key(query string, expansion []string, filters index.Filters, tags []string, limit int) string {
	h := xxhash.New()
	h.WriteString(query)
	for _, term := range expansion {
		h.WriteString("|")
		h.WriteString(term)
	}
	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)
	for _, tag := range sorted {
		h.WriteString("#")
		h.WriteString(tag)
	}
	return fmt.Sprintf("ns=%s;spec=%s;since=%d;until=%d;limit=%d;q=%x",
		filters.Namespace, filters.Spec,
		filters.Since.UnixMilli(), filters.Until.UnixMilli(),
		limit, h.Sum64())
}

// Get returns the cached result set for the key, if present and fresh.
func (c *Cache) Get(key string) ([]*memory.MemoryResult, bool) {
	return c.lru.Get(key)
}

// Set stores a result set.
func (c *Cache) Set(key string, results []*memory.MemoryResult) {
	c.lru.Add(key, results)
}

// Invalidate drops every entry whose key contains the pattern. An empty
// pattern drops everything. Captures invalidate with their namespace so
// stale result sets do not outlive a write.
func (c *Cache) Invalidate(pattern string) int {
	if pattern == "" {
		n := c.lru.Len()
		c.lru.Purge()
		return n
	}
	removed := 0
	for _, key := range c.lru.Keys() {
		if strings.Contains(key, pattern) {
			c.lru.Remove(key)
			removed++
		}
	}
	return removed
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	return c.lru.Len()
}
