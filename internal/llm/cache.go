package llm

import (
	"sync"
	"time"

	"github.com/Veraticus/mail-alfred/internal/model"
)

// defaultCacheTTL keeps results long enough to cover a few watch cycles.
const defaultCacheTTL = 15 * time.Minute

// cacheEntry represents a cached classification.
type cacheEntry struct {
	expiry time.Time
	result model.ClassifiedResult
}

// resultCache remembers validated classifications by message ID, so a
// message whose label write failed, or that was only classified in dry-run
// mode, is not sent to the model again on the next cycle.
type resultCache struct {
	now     func() time.Time
	entries map[string]cacheEntry
	ttl     time.Duration
	mu      sync.Mutex
}

// newResultCache creates a cache with the given TTL. Zero selects the
// default; a negative TTL disables caching.
func newResultCache(ttl time.Duration) *resultCache {
	if ttl == 0 {
		ttl = defaultCacheTTL
	}
	return &resultCache{
		now:     time.Now,
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

func (c *resultCache) enabled() bool {
	return c != nil && c.ttl > 0
}

// get returns an unexpired result for key.
func (c *resultCache) get(key string) (model.ClassifiedResult, bool) {
	if !c.enabled() || key == "" {
		return model.ClassifiedResult{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		return model.ClassifiedResult{}, false
	}
	if c.now().After(entry.expiry) {
		delete(c.entries, key)
		return model.ClassifiedResult{}, false
	}
	return entry.result, true
}

// set stores a result and sweeps expired entries.
func (c *resultCache) set(key string, result model.ClassifiedResult) {
	if !c.enabled() || key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, entry := range c.entries {
		if now.After(entry.expiry) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cacheEntry{result: result, expiry: now.Add(c.ttl)}
}

// size returns the number of entries in the cache.
func (c *resultCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
