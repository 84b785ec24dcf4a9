package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrQueueEmpty is returned when a blocking pop times out
var ErrQueueEmpty = errors.New("queue empty")

// Redis wraps the shared Redis client used for cross-replica coordination
type Redis struct {
	Client *redis.Client
}

// New connects to Redis using a redis:// URL
func New(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info().Str("addr", opts.Addr).Msg("Redis connection established")

	return &Redis{Client: client}, nil
}

// Close closes the client
func (r *Redis) Close() error {
	return r.Client.Close()
}

// Health checks if Redis is reachable
func (r *Redis) Health(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

// Only the holder's token may release a lock.
const luaReleaseLock = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// AcquireLock takes a lease on key for ttl. It returns false when another
// holder owns the lease.
func (r *Redis) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := r.Client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// ReleaseLock drops the lease if token still owns it
func (r *Redis) ReleaseLock(ctx context.Context, key, token string) error {
	if err := r.Client.Eval(ctx, luaReleaseLock, []string{key}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

// Push appends a job payload to a list queue
func (r *Redis) Push(ctx context.Context, queue string, payload []byte) error {
	return r.Client.LPush(ctx, queue, payload).Err()
}

// Pop blocks up to timeout for the oldest job on a list queue
func (r *Redis) Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	res, err := r.Client.BRPop(ctx, timeout, queue).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrQueueEmpty
		}
		return nil, err
	}
	// BRPOP replies with [key, value]
	return []byte(res[1]), nil
}

// Len returns the number of queued jobs
func (r *Redis) Len(ctx context.Context, queue string) (int64, error) {
	return r.Client.LLen(ctx, queue).Result()
}
