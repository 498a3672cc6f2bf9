package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// slidingWindowScript checks the weighted count of the previous and current
// fixed windows and increments the current one only when under the limit,
// so concurrent callers across instances never race past it.
//
// KEYS[1] current window, KEYS[2] previous window
// ARGV[1] limit, ARGV[2] previous window weight, ARGV[3] key TTL (ms)
var slidingWindowScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local previous = tonumber(redis.call("GET", KEYS[2]) or "0")
local limit = tonumber(ARGV[1])
local weight = tonumber(ARGV[2])
if previous * weight + current >= limit then
  return {0, current, previous}
end
current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[3])
end
return {1, current, previous}
`)

// RedisSlidingWindow implements a sliding window limiter in Redis so the
// limit is shared across gate instances.
type RedisSlidingWindow struct {
	slidingWindow
	redis  *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisSlidingWindow creates a new Redis-backed sliding window limiter
func NewRedisSlidingWindow(redisClient *redis.Client, config RateLimitConfig, prefix string, opts ...Option) *RedisSlidingWindow {
	config = config.normalized()
	o := applyOptions(opts)
	if prefix == "" {
		prefix = "ratelimit"
	}

	return &RedisSlidingWindow{
		slidingWindow: slidingWindow{limit: config.RequestsPerWindow, window: config.WindowDuration},
		redis:         redisClient,
		prefix:        prefix,
		now:           o.now,
	}
}

// Allow checks and consumes one request for key. On a Redis error the
// returned decision is zero and the caller decides whether to fail open.
func (rl *RedisSlidingWindow) Allow(ctx context.Context, key string) (Decision, error) {
	index, weight, reset := rl.bounds(rl.now())

	keys := []string{rl.windowKey(key, index), rl.windowKey(key, index-1)}
	ttl := (2 * rl.window).Milliseconds()

	res, err := slidingWindowScript.Run(ctx, rl.redis, keys,
		rl.limit,
		strconv.FormatFloat(weight, 'f', 6, 64),
		ttl,
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("redis error: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return Decision{}, fmt.Errorf("unexpected rate limit script reply: %v", res)
	}
	allowed, _ := vals[0].(int64)
	current, _ := vals[1].(int64)
	previous, _ := vals[2].(int64)

	return rl.decide(allowed == 1, int(current), int(previous), weight, reset), nil
}

// Reset clears the rate limit for a key (for testing or admin purposes)
func (rl *RedisSlidingWindow) Reset(ctx context.Context, key string) error {
	index, _, _ := rl.bounds(rl.now())
	return rl.redis.Del(ctx, rl.windowKey(key, index), rl.windowKey(key, index-1)).Err()
}

// HealthCheck verifies Redis connectivity for rate limiting
func (rl *RedisSlidingWindow) HealthCheck(ctx context.Context) error {
	return rl.redis.Ping(ctx).Err()
}

func (rl *RedisSlidingWindow) windowKey(key string, index int64) string {
	return fmt.Sprintf("%s:%s:%d", rl.prefix, key, index)
}
