package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/leolimacr/advisor-core/internal/types"
)

// MemoryCache is an in-process ResponseCache. Expired entries are evicted
// lazily on lookup; when a new key would exceed maxEntries the whole map is
// replaced under the write lock.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	logger     *logrus.Logger

	hits   atomic.Int64
	misses atomic.Int64
	clears atomic.Int64
}

var _ ResponseCache = (*MemoryCache)(nil)

// NewMemoryCache creates an in-memory cache
func NewMemoryCache(ttl time.Duration, maxEntries int, logger *logrus.Logger) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 500
	}
	return &MemoryCache{
		entries:    make(map[string]*Entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		logger:     logger,
	}
}

// Get returns a live entry for key
func (c *MemoryCache) Get(_ context.Context, key string) (*Entry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	if entry.Expired(c.now(), c.ttl) {
		c.mu.Lock()
		// Re-check: a concurrent Set may have refreshed the key
		if current, ok := c.entries[key]; ok && current.Expired(c.now(), c.ttl) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	copied := *entry
	return &copied, true
}

// Set stores resp under key
func (c *MemoryCache) Set(_ context.Context, key string, resp types.RouterResponse) error {
	resp.Attempts = nil
	entry := &Entry{Response: resp, CreatedAt: c.now()}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		dropped := len(c.entries)
		c.entries = make(map[string]*Entry, c.maxEntries)
		c.clears.Add(1)
		c.logger.WithField("dropped", dropped).Info("Response cache full, cleared")
	}
	c.entries[key] = entry
	return nil
}

// Purge removes expired entries
func (c *MemoryCache) Purge(_ context.Context) (int, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if entry.Expired(now, c.ttl) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Stats returns cache counters
func (c *MemoryCache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()

	return Stats{
		Entries: n,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Clears:  c.clears.Load(),
	}
}
