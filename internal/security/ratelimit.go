package security

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimiter defines the interface for rate limiting
type RateLimiter interface {
	Allow(ctx context.Context, key string) (*RateLimitResult, error)
	Reset(ctx context.Context, key string) error
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

// InMemoryRateLimiter is a per-key token bucket. Tokens refill continuously
// at RequestsPerMinute and cap at BurstSize.
type InMemoryRateLimiter struct {
	config *RateLimitConfig
	logger *logrus.Logger
	now    func() time.Time

	buckets map[string]*tokenBucket
	mutex   sync.Mutex

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

type tokenBucket struct {
	tokens   float64
	lastSeen time.Time
}

var _ RateLimiter = (*InMemoryRateLimiter)(nil)

// NewInMemoryRateLimiter creates a new in-memory rate limiter
func NewInMemoryRateLimiter(config *RateLimitConfig, logger *logrus.Logger) *InMemoryRateLimiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 30
	}
	if config.BurstSize <= 0 {
		config.BurstSize = config.RequestsPerMinute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}

	rl := &InMemoryRateLimiter{
		config:      config,
		logger:      logger,
		now:         time.Now,
		buckets:     make(map[string]*tokenBucket),
		stopCleanup: make(chan struct{}),
	}

	if config.Enabled {
		go rl.cleanupLoop()
	}
	return rl
}

func (rl *InMemoryRateLimiter) ratePerSecond() float64 {
	return float64(rl.config.RequestsPerMinute) / 60
}

// Allow takes one token from key's bucket
func (rl *InMemoryRateLimiter) Allow(_ context.Context, key string) (*RateLimitResult, error) {
	result := &RateLimitResult{Allowed: true, Limit: rl.config.BurstSize, Remaining: rl.config.BurstSize}
	if !rl.config.Enabled {
		return result, nil
	}

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = &tokenBucket{tokens: float64(rl.config.BurstSize), lastSeen: now}
		rl.buckets[key] = bucket
	}

	if elapsed := now.Sub(bucket.lastSeen).Seconds(); elapsed > 0 {
		bucket.tokens = math.Min(float64(rl.config.BurstSize), bucket.tokens+elapsed*rl.ratePerSecond())
	}
	bucket.lastSeen = now

	if bucket.tokens >= 1 {
		bucket.tokens--
		result.Remaining = int(bucket.tokens)
		return result, nil
	}

	missing := 1 - bucket.tokens
	retryAfter := time.Duration(missing / rl.ratePerSecond() * float64(time.Second))

	rl.logger.WithFields(logrus.Fields{
		"key":         key,
		"retry_after": retryAfter,
	}).Warn("Rate limit exceeded")

	result.Allowed = false
	result.Remaining = 0
	result.RetryAfter = retryAfter
	return result, nil
}

// Reset drops the bucket for key
func (rl *InMemoryRateLimiter) Reset(_ context.Context, key string) error {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	delete(rl.buckets, key)
	return nil
}

func (rl *InMemoryRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup removes buckets that have refilled completely, they hold no state
func (rl *InMemoryRateLimiter) cleanup() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	full := time.Duration(float64(rl.config.BurstSize) / rl.ratePerSecond() * float64(time.Second))
	cutoff := rl.now().Add(-full)

	removed := 0
	for key, bucket := range rl.buckets {
		if bucket.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
			removed++
		}
	}

	if removed > 0 {
		rl.logger.WithField("removed_buckets", removed).Debug("Rate limit cleanup completed")
	}
	return removed
}

// Stop stops the cleanup goroutine
func (rl *InMemoryRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

// RateLimitMiddleware rejects requests whose key has no tokens left
func RateLimitMiddleware(rateLimiter RateLimiter, keyExtractor func(*http.Request) string, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyExtractor(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := rateLimiter.Allow(r.Context(), key)
			if err != nil {
				// Limiter errors fail open.
				logger.WithError(err).Warn("Rate limiter failed, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

			if !result.Allowed {
				seconds := int(math.Ceil(result.RetryAfter.Seconds()))
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				WriteError(w, http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// UserKeyExtractor keys requests by authenticated user, falling back to the
// client address for anonymous calls.
func UserKeyExtractor(r *http.Request) string {
	if identity, ok := IdentityFrom(r.Context()); ok {
		return "user:" + identity.UserID
	}
	return "ip:" + ClientIP(r)
}
