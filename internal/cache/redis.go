package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/leolimacr/advisor-core/internal/types"
)

// RedisCache is a ResponseCache shared between service replicas. Entries are
// JSON values with a Redis TTL; an index set tracks live keys so the entry cap
// can be enforced.
type RedisCache struct {
	rdb        redis.UniversalClient
	prefix     string
	ttl        time.Duration
	maxEntries int
	logger     *logrus.Logger

	hits   atomic.Int64
	misses atomic.Int64
	clears atomic.Int64
}

var _ ResponseCache = (*RedisCache)(nil)

// NewRedisCache creates a Redis-backed cache. prefix namespaces every key.
func NewRedisCache(rdb redis.UniversalClient, prefix string, ttl time.Duration, maxEntries int, logger *logrus.Logger) *RedisCache {
	if prefix == "" {
		prefix = "advisor"
	}
	if maxEntries <= 0 {
		maxEntries = 500
	}
	return &RedisCache{
		rdb:        rdb,
		prefix:     prefix,
		ttl:        ttl,
		maxEntries: maxEntries,
		logger:     logger,
	}
}

func (c *RedisCache) entryKey(key string) string { return c.prefix + ":cache:" + key }
func (c *RedisCache) indexKey() string           { return c.prefix + ":cache:index" }

// Get returns a live entry for key. Redis errors count as a miss.
func (c *RedisCache) Get(ctx context.Context, key string) (*Entry, bool) {
	raw, err := c.rdb.Get(ctx, c.entryKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).Warn("Redis cache lookup failed")
		}
		c.misses.Add(1)
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.WithError(err).Warn("Dropping undecodable cache entry")
		c.rdb.Del(ctx, c.entryKey(key))
		c.misses.Add(1)
		return nil, false
	}
	if entry.Expired(time.Now(), c.ttl) {
		c.rdb.Del(ctx, c.entryKey(key))
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return &entry, true
}

// redisWriteRetries bounds optimistic retries when another writer touches
// the index between WATCH and EXEC.
const redisWriteRetries = 16

// Set stores resp under key. The capacity check runs under WATCH on the index
// so at capacity every indexed entry is deleted in the same transaction as the
// insert, even with concurrent writers.
func (c *RedisCache) Set(ctx context.Context, key string, resp types.RouterResponse) error {
	resp.Attempts = nil
	payload, err := json.Marshal(Entry{Response: resp, CreatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	full := c.entryKey(key)
	for attempt := 0; attempt < redisWriteRetries; attempt++ {
		var stale []string
		err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
			found, err := c.staleAtCapacity(ctx, tx, full)
			if err != nil {
				return err
			}
			stale = found
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if len(stale) > 0 {
					pipe.Del(ctx, stale...)
					pipe.Del(ctx, c.indexKey())
				}
				pipe.Set(ctx, full, payload, c.ttl)
				pipe.SAdd(ctx, c.indexKey(), full)
				return nil
			})
			return err
		}, c.indexKey())

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("cache write failed: %w", err)
		}
		if len(stale) > 0 {
			c.clears.Add(1)
			c.logger.WithField("dropped", len(stale)).Info("Response cache full, cleared")
		}
		return nil
	}
	return fmt.Errorf("cache write failed: index contended after %d attempts", redisWriteRetries)
}

// staleAtCapacity returns every indexed key when inserting full would push
// the index past maxEntries, and nil otherwise.
func (c *RedisCache) staleAtCapacity(ctx context.Context, tx *redis.Tx, full string) ([]string, error) {
	exists, err := tx.SIsMember(ctx, c.indexKey(), full).Result()
	if err != nil {
		return nil, fmt.Errorf("cache index lookup failed: %w", err)
	}
	if exists {
		return nil, nil
	}
	size, err := tx.SCard(ctx, c.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("cache index size failed: %w", err)
	}
	if int(size) < c.maxEntries {
		return nil, nil
	}
	stale, err := tx.SMembers(ctx, c.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("cache index read failed: %w", err)
	}
	return stale, nil
}

// Purge drops index members whose entries Redis already expired
func (c *RedisCache) Purge(ctx context.Context) (int, error) {
	members, err := c.rdb.SMembers(ctx, c.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("cache index read failed: %w", err)
	}

	removed := 0
	for _, member := range members {
		n, err := c.rdb.Exists(ctx, member).Result()
		if err != nil {
			return removed, fmt.Errorf("cache exists check failed: %w", err)
		}
		if n == 0 {
			if err := c.rdb.SRem(ctx, c.indexKey(), member).Err(); err != nil {
				return removed, fmt.Errorf("cache index prune failed: %w", err)
			}
			removed++
		}
	}
	return removed, nil
}

// Stats returns cache counters. Entries is the index size.
func (c *RedisCache) Stats() Stats {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	n, _ := c.rdb.SCard(ctx, c.indexKey()).Result()
	return Stats{
		Entries: int(n),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Clears:  c.clears.Load(),
	}
}
