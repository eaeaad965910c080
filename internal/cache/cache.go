// Package cache memoizes derived counters (unread counts) in Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counters stores integer values under string keys.
// A miss is reported as ok=false with a nil error.
type Counters interface {
	Get(ctx context.Context, key string) (value int, ok bool, err error)
	Set(ctx context.Context, key string, value int) error
	Delete(ctx context.Context, keys ...string) error
	DeletePattern(ctx context.Context, pattern string) error
}

// Stats tracks cache statistics.
type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Sets    uint64 `json:"sets"`
	Deletes uint64 `json:"deletes"`
	Errors  uint64 `json:"errors"`
}

// Redis implements Counters on top of a go-redis client.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	stats  Stats
}

// NewRedis creates a Redis-backed counter cache.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Dial connects to addr and verifies the connection with a ping.
func Dial(ctx context.Context, addr, prefix string, ttl time.Duration) (*Redis, error) {
	c := NewRedis(redis.NewClient(&redis.Options{Addr: addr}), prefix, ttl)
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return c, nil
}

// Get returns the cached counter for key.
func (c *Redis) Get(ctx context.Context, key string) (int, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			atomic.AddUint64(&c.stats.Misses, 1)
			return 0, false, nil
		}
		atomic.AddUint64(&c.stats.Errors, 1)
		return 0, false, fmt.Errorf("cache get error: %w", err)
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		atomic.AddUint64(&c.stats.Errors, 1)
		return 0, false, fmt.Errorf("cache decode error: %w", err)
	}

	atomic.AddUint64(&c.stats.Hits, 1)
	return value, true, nil
}

// Set stores value under key with the configured TTL.
func (c *Redis) Set(ctx context.Context, key string, value int) error {
	if err := c.client.Set(ctx, c.prefix+key, value, c.ttl).Err(); err != nil {
		atomic.AddUint64(&c.stats.Errors, 1)
		return fmt.Errorf("cache set error: %w", err)
	}
	atomic.AddUint64(&c.stats.Sets, 1)
	return nil
}

// Delete removes the given keys.
func (c *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		atomic.AddUint64(&c.stats.Errors, 1)
		return fmt.Errorf("cache delete error: %w", err)
	}
	atomic.AddUint64(&c.stats.Deletes, uint64(len(keys)))
	return nil
}

// DeletePattern removes all keys matching a glob pattern, using SCAN.
func (c *Redis) DeletePattern(ctx context.Context, pattern string) error {
	var cursor uint64
	var deleted int

	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+pattern, 100).Result()
		if err != nil {
			atomic.AddUint64(&c.stats.Errors, 1)
			return fmt.Errorf("cache scan error: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				atomic.AddUint64(&c.stats.Errors, 1)
				return fmt.Errorf("cache delete error: %w", err)
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	atomic.AddUint64(&c.stats.Deletes, uint64(deleted))
	return nil
}

// Snapshot returns a copy of the current statistics.
func (c *Redis) Snapshot() Stats {
	return Stats{
		Hits:    atomic.LoadUint64(&c.stats.Hits),
		Misses:  atomic.LoadUint64(&c.stats.Misses),
		Sets:    atomic.LoadUint64(&c.stats.Sets),
		Deletes: atomic.LoadUint64(&c.stats.Deletes),
		Errors:  atomic.LoadUint64(&c.stats.Errors),
	}
}

// Ping checks if the Redis connection is healthy.
func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (c *Redis) Close() error {
	return c.client.Close()
}

// Nop is a Counters that never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) (int, bool, error) { return 0, false, nil }
func (Nop) Set(context.Context, string, int) error { return nil }
func (Nop) Delete(context.Context, ...string) error { return nil }
func (Nop) DeletePattern(context.Context, string) error { return nil }

var (
	_ Counters = (*Redis)(nil)
	_ Counters = Nop{}
)
