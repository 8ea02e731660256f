// Package idempotency implements the transient Idempotency-Key cache used
// by the ingestion coordinator (C5): a second POST /v1/matches with the
// same key returns the first response instead of re-running record_match.
// Same sync.Mutex-guarded-map shape as memqueue/memstore — a process-local
// cache is sufficient because the (provider_id, external_ref) uniqueness
// constraint is the durable backstop per spec.md §4.3.
package idempotency

import (
	"sync"
	"time"
)

// Entry is a cached response for one idempotency key.
type Entry struct {
	StatusCode int
	Body       []byte
	StoredAt   time.Time
}

// Cache stores responses keyed by (organization_id, idempotency_key).
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry
	ttl     time.Duration
}

// New returns a cache that expires entries after ttl.
func New(ttl time.Duration) *Cache {
	return &Cache{entries: make(map[string]Entry), ttl: ttl}
}

func cacheKey(organizationID, idempotencyKey string) string {
	return organizationID + "|" + idempotencyKey
}

// Get returns the cached entry, if any and not expired.
func (c *Cache) Get(organizationID, idempotencyKey string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[cacheKey(organizationID, idempotencyKey)]
	if !ok {
		return Entry{}, false
	}
	if time.Since(e.StoredAt) > c.ttl {
		delete(c.entries, cacheKey(organizationID, idempotencyKey))
		return Entry{}, false
	}
	return e, true
}

// Put stores a response for later replay.
func (c *Cache) Put(organizationID, idempotencyKey string, statusCode int, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(organizationID, idempotencyKey)] = Entry{
		StatusCode: statusCode,
		Body:       body,
		StoredAt:   time.Now(),
	}
}

// Sweep removes expired entries and returns how many it removed. No loop
// in this repository calls it; Get drops an expired entry on lookup.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if time.Since(e.StoredAt) > c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}
