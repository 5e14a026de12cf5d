package gateway

import (
	"sync"
	"time"
)

// DefaultDedupeTTL is how long a delivered message id is remembered.
const DefaultDedupeTTL = 10 * time.Minute

// dedupeCache remembers recently seen message ids so platforms that
// redeliver webhooks do not spawn duplicate tasks.
type dedupeCache struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func newDedupeCache(ttl time.Duration) *dedupeCache {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &dedupeCache{
		ttl:  ttl,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
}

// Seen records the key and reports whether it was already present and
// unexpired. An empty key is never deduplicated.
func (c *dedupeCache) Seen(key string) bool {
	if key == "" {
		return false
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, ok := c.seen[key]; ok && now.Before(expiry) {
		return true
	}
	c.seen[key] = now.Add(c.ttl)
	c.prune(now)
	return false
}

// prune drops expired entries. Called under the lock on every insert;
// cheap because expired entries are deleted as they are walked.
func (c *dedupeCache) prune(now time.Time) {
	if len(c.seen) < 1024 {
		return
	}
	for key, expiry := range c.seen {
		if now.After(expiry) {
			delete(c.seen, key)
		}
	}
}
