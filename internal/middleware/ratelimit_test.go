package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimerfeng/Earnzy/internal/cache"
	"github.com/aimerfeng/Earnzy/internal/config"
	apierrors "github.com/aimerfeng/Earnzy/internal/errors"
)

type countingLimiter struct {
	mu    sync.Mutex
	limit int
	seen  map[string]int
	err   error
}

func (l *countingLimiter) Allow(_ context.Context, key string) (*RateLimitResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.seen == nil {
		l.seen = make(map[string]int)
	}
	if l.seen[key] >= l.limit {
		return &RateLimitResult{Limit: l.limit, RetryAfter: 30 * time.Second}, nil
	}
	l.seen[key]++
	return &RateLimitResult{Allowed: true, Limit: l.limit, Remaining: int64(l.limit - l.seen[key])}, nil
}

func newLimitedRouter(limiter Limiter, uid string) *gin.Engine {
	r := gin.New()
	r.Use(RequestID())
	if uid != "" {
		r.Use(func(c *gin.Context) { c.Set(ContextKeyUserID, uid) })
	}
	r.Use(RateLimit(limiter, "api"))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestRateLimit_ThrottlesPerCaller(t *testing.T) {
	limiter := &countingLimiter{limit: 2}
	alice := newLimitedRouter(limiter, "alice")
	bob := newLimitedRouter(limiter, "bob")

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		alice.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		require.Equal(t, http.StatusNoContent, w.Code)
	}

	w := httptest.NewRecorder()
	alice.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, apierrors.ErrTooManyRequests, decodeError(t, w.Body).Error.Code)

	w = httptest.NewRecorder()
	bob.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, limiter.seen["api:bob"])
}

func TestRateLimit_AnonymousKeyedByIP(t *testing.T) {
	limiter := &countingLimiter{limit: 5}
	r := newLimitedRouter(limiter, "")

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "203.0.113.7:4000"
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, 1, limiter.seen["api:ip:203.0.113.7"])
}

func TestRateLimit_FailsOpen(t *testing.T) {
	r := newLimitedRouter(&countingLimiter{err: errors.New("redis down")}, "alice")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	newLimitedRouter(nil, "alice").ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestSlidingWindow_Redis(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, err := cache.New(ctx, url)
	if err != nil {
		t.Skip("Test redis not available")
	}
	defer r.Close()

	limiter := NewSlidingWindow(r, config.RateLimitConfig{Requests: 3, Window: time.Minute})
	key := "test:" + uuid.NewString()
	defer limiter.Reset(context.Background(), key)

	for i := 0; i < 3; i++ {
		res, err := limiter.Allow(ctx, key)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(2-i), res.Remaining)
	}

	res, err := limiter.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, 50*time.Second)

	require.NoError(t, limiter.Reset(ctx, key))
	res, err = limiter.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
