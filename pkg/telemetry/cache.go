package telemetry

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// listCache absorbs polling load on the no-time-filter run listing. Entries
// expire after a short TTL; expired entries are evicted lazily on read.
type listCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]listCacheEntry
}

type listCacheEntry struct {
	runs    []RunSummary
	expires time.Time
}

func newListCache(ttl time.Duration) *listCache {
	if ttl <= 0 {
		ttl = cacheTTLDefault
	}
	return &listCache{
		ttl:     ttl,
		entries: make(map[string]listCacheEntry),
	}
}

// key is stable across equivalent queries; time-filtered queries are never
// cached so From/To do not participate
func (c *listCache) key(q ListQuery) string {
	return strings.Join([]string{q.AgentID, q.RoomID, q.Status, fmt.Sprint(q.Limit)}, "|")
}

func (c *listCache) get(q ListQuery) ([]RunSummary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[c.key(q)]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		delete(c.entries, c.key(q))
		return nil, false
	}
	return entry.runs, true
}

func (c *listCache) put(q ListQuery, runs []RunSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[c.key(q)] = listCacheEntry{
		runs:    runs,
		expires: time.Now().Add(c.ttl),
	}
}
