package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// UsageCounter tracks structured-search calls within the current month
type UsageCounter interface {
	Current(ctx context.Context) (int64, error)
	Increment(ctx context.Context) (int64, error)
	Reset(ctx context.Context) error
}

func monthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// MemoryUsageCounter is a process-local counter that rolls over with the month
type MemoryUsageCounter struct {
	mu    sync.Mutex
	month string
	count int64
	now   func() time.Time
}

var _ UsageCounter = (*MemoryUsageCounter)(nil)

// NewMemoryUsageCounter creates an in-memory counter
func NewMemoryUsageCounter() *MemoryUsageCounter {
	return &MemoryUsageCounter{now: time.Now}
}

func (c *MemoryUsageCounter) roll() {
	if m := monthKey(c.now()); m != c.month {
		c.month = m
		c.count = 0
	}
}

// Current returns this month's count
func (c *MemoryUsageCounter) Current(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roll()
	return c.count, nil
}

// Increment adds one call and returns the new count
func (c *MemoryUsageCounter) Increment(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roll()
	c.count++
	return c.count, nil
}

// Reset zeroes the count
func (c *MemoryUsageCounter) Reset(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count = 0
	return nil
}

// RedisUsageCounter shares the monthly count between replicas.
// Keys are month-scoped and expire after 35 days.
type RedisUsageCounter struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ UsageCounter = (*RedisUsageCounter)(nil)

const usageKeyTTL = 35 * 24 * time.Hour

// NewRedisUsageCounter creates a Redis-backed counter
func NewRedisUsageCounter(rdb redis.UniversalClient, prefix string) *RedisUsageCounter {
	if prefix == "" {
		prefix = "advisor"
	}
	return &RedisUsageCounter{rdb: rdb, prefix: prefix, now: time.Now}
}

func (c *RedisUsageCounter) key() string {
	return c.prefix + ":search:usage:" + monthKey(c.now())
}

// Current returns this month's count
func (c *RedisUsageCounter) Current(ctx context.Context) (int64, error) {
	n, err := c.rdb.Get(ctx, c.key()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("usage counter read failed: %w", err)
	}
	return n, nil
}

// Increment adds one call and returns the new count
func (c *RedisUsageCounter) Increment(ctx context.Context) (int64, error) {
	key := c.key()
	var incr *redis.IntCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, usageKeyTTL)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("usage counter increment failed: %w", err)
	}
	return incr.Val(), nil
}

// Reset deletes this month's key
func (c *RedisUsageCounter) Reset(ctx context.Context) error {
	if err := c.rdb.Del(ctx, c.key()).Err(); err != nil {
		return fmt.Errorf("usage counter reset failed: %w", err)
	}
	return nil
}
