package security

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisSlidingWindowScript runs the sliding window atomically in Redis.
// A sorted set per bucket holds call timestamps (microseconds) as scores.
// KEYS[1] = bucket key
// ARGV[1] = window start (microseconds)
// ARGV[2] = now (microseconds)
// ARGV[3] = limit
// ARGV[4] = window (seconds, for key expiry)
var redisSlidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local window_start = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local window_sec = tonumber(ARGV[4])

redis.call("ZREMRANGEBYSCORE", key, "-inf", window_start)

local count = redis.call("ZCARD", key)
if count >= limit then
    local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
    return {0, 0, tonumber(oldest[2])}
end

redis.call("ZADD", key, now, now)
redis.call("EXPIRE", key, window_sec * 2)
return {1, limit - count - 1, 0}
`)

// RedisLimiterStore implements LimiterStore on Redis for multi-instance
// deployments.
type RedisLimiterStore struct {
	client *redis.Client
}

func NewRedisLimiterStore(addr, password string, db int) *RedisLimiterStore {
	return &RedisLimiterStore{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// NewRedisLimiterStoreFromClient wraps an existing client.
func NewRedisLimiterStoreFromClient(client *redis.Client) *RedisLimiterStore {
	return &RedisLimiterStore{client: client}
}

func (s *RedisLimiterStore) Check(ctx context.Context, bucket string, limit int, window time.Duration, now time.Time) (RateResult, error) {
	key := "limiter:" + bucket
	nowMicro := now.UnixMicro()
	windowStart := now.Add(-window).UnixMicro()

	res, err := redisSlidingWindowScript.Run(ctx, s.client, []string{key},
		windowStart, nowMicro, limit, int(window.Seconds())).Result()
	if err != nil {
		return RateResult{}, fmt.Errorf("security: redis limiter: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return RateResult{}, fmt.Errorf("security: redis limiter returned malformed reply")
	}
	allowed, _ := vals[0].(int64)
	remaining, _ := vals[1].(int64)
	oldestMicro, _ := vals[2].(int64)

	out := RateResult{Allowed: allowed == 1, Remaining: int(remaining)}
	if !out.Allowed {
		oldest := time.UnixMicro(oldestMicro)
		retry := oldest.Add(window).Sub(now)
		if retry < 0 {
			retry = 0
		}
		out.RetryAfter = retry
	}
	return out, nil
}

// Close releases the underlying client.
func (s *RedisLimiterStore) Close() error { return s.client.Close() }
