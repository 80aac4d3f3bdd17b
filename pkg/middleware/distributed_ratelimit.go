package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// fixedWindowScript increments the window counter and starts the window
// expiry on the first hit only, so steady traffic cannot keep a window open
var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {count, ttl}
`)

// DistributedRateLimiter implements fixed-window rate limiting in Redis so
// limits are shared across instances. A window admits RequestsPerWindow +
// BurstSize requests.
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
	now    func() time.Time
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}

	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
		now:    time.Now,
	}
}

func (rl *DistributedRateLimiter) redisKey(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

// Allow counts one request against key's current window. Redis failures
// are returned as errors; the middleware decides whether to fail open.
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	limit := rl.config.capacity()
	res, err := fixedWindowScript.Run(ctx, rl.redis, []string{rl.redisKey(key)}, rl.config.WindowDuration.Milliseconds()).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis error: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("redis error: unexpected script reply %v", res)
	}
	count, _ := res[0].(int64)
	ttlMs, _ := res[1].(int64)

	ttl := rl.config.WindowDuration
	if ttlMs > 0 {
		ttl = time.Duration(ttlMs) * time.Millisecond
	}

	d := Decision{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: max(limit-int(count), 0),
		Reset:     rl.now().Add(ttl),
	}
	if !d.Allowed {
		d.RetryAfter = ttl
	}
	return d, nil
}

// Remaining returns the number of remaining requests in the window
func (rl *DistributedRateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	count, err := rl.redis.Get(ctx, rl.redisKey(key)).Int()
	if err == redis.Nil {
		return rl.config.capacity(), nil
	} else if err != nil {
		return 0, err
	}
	return max(rl.config.capacity()-count, 0), nil
}

// Reset clears the rate limit for a key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.redisKey(key)).Err()
}

// HealthCheck verifies Redis connectivity for rate limiting
func (rl *DistributedRateLimiter) HealthCheck(ctx context.Context) error {
	return rl.redis.Ping(ctx).Err()
}
