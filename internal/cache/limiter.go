package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindow keeps one sorted-set entry per admitted call, scored by its
// time in milliseconds. A call is admitted while fewer than limit entries
// fall inside the window.
var slidingWindow = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
	if redis.call('ZCARD', key) >= limit then
		return 0
	end

	local seq = redis.call('INCR', key .. ':seq')
	redis.call('ZADD', key, now, now .. ':' .. seq)
	local ttl = math.ceil(window_ms / 1000)
	redis.call('EXPIRE', key, ttl)
	redis.call('EXPIRE', key .. ':seq', ttl)
	return 1
`)

// Allow records a call under key and reports whether it fits within limit
// calls per window. Every replica sharing the Redis sees the same count.
func (c *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	keys := []string{c.prefix + "ratelimit:" + key}
	admitted, err := slidingWindow.Run(ctx, c.client, keys,
		now.UnixMilli(), now.Add(-window).UnixMilli(), limit, window.Milliseconds()).Int64()
	if err != nil {
		atomic.AddUint64(&c.stats.Errors, 1)
		return false, fmt.Errorf("rate limit script error: %w", err)
	}
	return admitted == 1, nil
}
