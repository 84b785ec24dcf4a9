package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/aimerfeng/Earnzy/internal/cache"
	"github.com/aimerfeng/Earnzy/internal/config"
	apierrors "github.com/aimerfeng/Earnzy/internal/errors"
)

// RateLimitResult is the outcome of one limiter check
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	Limit      int
	RetryAfter time.Duration
}

// Limiter decides whether a caller may make another request
type Limiter interface {
	Allow(ctx context.Context, key string) (*RateLimitResult, error)
}

// SlidingWindow counts requests per key in a Redis sorted set scored by
// arrival time
type SlidingWindow struct {
	redis  *cache.Redis
	limit  int
	window time.Duration
	prefix string
}

// NewSlidingWindow creates a limiter allowing cfg.Requests per cfg.Window
func NewSlidingWindow(r *cache.Redis, cfg config.RateLimitConfig) *SlidingWindow {
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindow{redis: r, limit: cfg.Requests, window: window, prefix: "earnzy:ratelimit:"}
}

// Allow records a request for key unless the window is already full.
// Redis failures fail open.
func (s *SlidingWindow) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	now := time.Now()
	redisKey := s.prefix + key

	pipe := s.redis.Client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(now.Add(-s.window).UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return &RateLimitResult{Allowed: true, Remaining: int64(s.limit), Limit: s.limit}, err
	}

	count := countCmd.Val()
	if count >= int64(s.limit) {
		result := &RateLimitResult{Limit: s.limit, RetryAfter: s.window}
		oldest, err := s.redis.Client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
		if err == nil && len(oldest) > 0 {
			result.RetryAfter = time.Unix(0, int64(oldest[0].Score)).Add(s.window).Sub(now)
			if result.RetryAfter < time.Second {
				result.RetryAfter = time.Second
			}
		}
		return result, nil
	}

	pipe = s.redis.Client.TxPipeline()
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d-%d", now.UnixNano(), count),
	})
	pipe.Expire(ctx, redisKey, 2*s.window)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to record rate limit entry")
	}

	return &RateLimitResult{
		Allowed:   true,
		Remaining: int64(s.limit) - count - 1,
		Limit:     s.limit,
	}, nil
}

// Reset clears the window for key
func (s *SlidingWindow) Reset(ctx context.Context, key string) error {
	return s.redis.Client.Del(ctx, s.prefix+key).Err()
}

// RateLimit throttles requests per authenticated caller, or per client IP
// before authentication. A nil limiter disables throttling.
func RateLimit(limiter Limiter, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		caller := GetUserIDFromContext(c)
		if caller == "" {
			caller = "ip:" + c.ClientIP()
		}

		result, err := limiter.Allow(c.Request.Context(), scope+":"+caller)
		if err != nil {
			log.Error().Err(err).Str("scope", scope).Msg("Rate limiter unavailable, allowing request")
		}
		if result == nil {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))

		if !result.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Round(time.Second).Seconds())))
			respondWithError(c, apierrors.ErrTooManyRequestsError)
			c.Abort()
			return
		}

		c.Next()
	}
}
