// Package embedcache implements the Embedding Cache: a content-addressed,
// TTL-bounded store of text -> vector, built on the same in-memory cache
// library the teacher depends on (patrickmn/go-cache) rather than a
// hand-rolled map+ticker.
package embedcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache wraps go-cache with the embedding-specific key scheme and value
// shape (a copy of the float32 vector, never a reference into caller
// memory, so a cache hit can never be mutated out from under another
// reader).
type Cache struct {
	store *gocache.Cache
}

// New creates a Cache with the given TTL; expired entries are purged on a
// cleanup interval of ttl/2 (go-cache's own janitor), floored at one
// second.
func New(ttl time.Duration) *Cache {
	cleanup := ttl / 2
	if cleanup < time.Second {
		cleanup = time.Second
	}
	return &Cache{store: gocache.New(ttl, cleanup)}
}

// Key returns the cache key for a given text: hex(SHA-256(utf8(text))).
func Key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Get returns a copy of the cached vector, or (nil, false) on a miss. A
// cache-layer error is treated identically to a miss: the cache can never
// cause a correctness regression, only a recompute.
func (c *Cache) Get(text string) ([]float32, bool) {
	v, ok := c.store.Get(Key(text))
	if !ok {
		return nil, false
	}
	vec, ok := v.([]float32)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, true
}

// Set stores a copy of vec keyed by text's hash, with the cache's default
// TTL.
func (c *Cache) Set(text string, vec []float32) {
	cp := make([]float32, len(vec))
	copy(cp, vec)
	c.store.SetDefault(Key(text), cp)
}

// Delete removes the entry for text, if any.
func (c *Cache) Delete(text string) {
	c.store.Delete(Key(text))
}

// Clear drops entries by pattern: "" or "*" clears everything; any other
// pattern is matched as a substring of the hex SHA-256 keys, not of the
// original text, which the cache does not store. It is an administrative
// operation, not a hot-path one.
func (c *Cache) Clear(pattern string) {
	if pattern == "" || pattern == "*" {
		c.store.Flush()
		return
	}
	for k := range c.store.Items() {
		if strings.Contains(k, pattern) {
			c.store.Delete(k)
		}
	}
}

// ItemCount reports the number of live entries, mainly for diagnostics.
func (c *Cache) ItemCount() int {
	return c.store.ItemCount()
}
