package security

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leolimacr/advisor-core/internal/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, rpm, burst int) (*InMemoryRateLimiter, *fakeClock) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	limiter := NewInMemoryRateLimiter(&RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: rpm,
		BurstSize:         burst,
	}, logger)
	t.Cleanup(limiter.Stop)

	clock := &fakeClock{now: time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)}
	limiter.now = clock.Now
	return limiter, clock
}

func TestInMemoryRateLimiter_Disabled(t *testing.T) {
	limiter := NewInMemoryRateLimiter(&RateLimitConfig{RequestsPerMinute: 1, BurstSize: 1}, logrus.New())
	defer limiter.Stop()

	for i := 0; i < 5; i++ {
		result, err := limiter.Allow(context.Background(), "user:a")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}
}

func TestInMemoryRateLimiter_BurstThenDeny(t *testing.T) {
	limiter, _ := newTestLimiter(t, 60, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Allow(ctx, "user:a")
		require.NoError(t, err)
		assert.True(t, result.Allowed, "request %d", i)
		assert.Equal(t, 2-i, result.Remaining)
	}

	result, err := limiter.Allow(ctx, "user:a")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
	assert.Equal(t, time.Second, result.RetryAfter)
}

func TestInMemoryRateLimiter_RefillsContinuously(t *testing.T) {
	limiter, clock := newTestLimiter(t, 60, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, _ := limiter.Allow(ctx, "user:a")
		require.True(t, result.Allowed)
	}

	// Frequent calls below one token must still accumulate.
	for i := 0; i < 4; i++ {
		clock.Advance(250 * time.Millisecond)
		result, _ := limiter.Allow(ctx, "user:a")
		if i < 3 {
			assert.False(t, result.Allowed, "call %d", i)
		} else {
			assert.True(t, result.Allowed, "call %d", i)
		}
	}
}

func TestInMemoryRateLimiter_KeysAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(t, 60, 1)
	ctx := context.Background()

	first, _ := limiter.Allow(ctx, "user:a")
	second, _ := limiter.Allow(ctx, "user:a")
	other, _ := limiter.Allow(ctx, "user:b")

	assert.True(t, first.Allowed)
	assert.False(t, second.Allowed)
	assert.True(t, other.Allowed)
}

func TestInMemoryRateLimiter_Reset(t *testing.T) {
	limiter, _ := newTestLimiter(t, 60, 1)
	ctx := context.Background()

	_, _ = limiter.Allow(ctx, "user:a")
	denied, _ := limiter.Allow(ctx, "user:a")
	require.False(t, denied.Allowed)

	require.NoError(t, limiter.Reset(ctx, "user:a"))
	allowed, _ := limiter.Allow(ctx, "user:a")
	assert.True(t, allowed.Allowed)
}

func TestInMemoryRateLimiter_Cleanup(t *testing.T) {
	limiter, clock := newTestLimiter(t, 60, 10)
	ctx := context.Background()

	_, _ = limiter.Allow(ctx, "user:old")
	clock.Advance(5 * time.Second)
	_, _ = limiter.Allow(ctx, "user:new")
	clock.Advance(6 * time.Second)

	assert.Equal(t, 1, limiter.cleanup())
	assert.Len(t, limiter.buckets, 1)
	assert.Contains(t, limiter.buckets, "user:new")
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter, _ := newTestLimiter(t, 60, 1)
	handler := RateLimitMiddleware(limiter, UserKeyExtractor, logrus.New())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	request := func(userID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/advise", nil)
		req = req.WithContext(WithIdentity(req.Context(), &Identity{UserID: userID, Method: AuthJWT}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := request("user-1")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))

	second := request("user-1")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))

	var body types.ErrorResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
	assert.Equal(t, "rate_limited", body.Error.Code)

	assert.Equal(t, http.StatusOK, request("user-2").Code)
}

func TestUserKeyExtractor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:4000"
	assert.Equal(t, "ip:10.1.2.3", UserKeyExtractor(req))

	req = req.WithContext(WithIdentity(req.Context(), &Identity{UserID: "u-9"}))
	assert.Equal(t, "user:u-9", UserKeyExtractor(req))
}
