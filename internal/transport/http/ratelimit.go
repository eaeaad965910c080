package http

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// SharedLimiter counts actions under a key across every connection and
// replica, for example cache.Redis.
type SharedLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// rateLimiter admits limit actions per minute. With a shared limiter the
// budget belongs to the user; otherwise, or while the shared store fails,
// a fixed window local to the connection applies. It is owned by a single read loop.
type rateLimiter struct {
	limit   int
	window  time.Duration
	start   time.Time
	counter int
	now     func() time.Time

	shared SharedLimiter
	key    string
	log    *zerolog.Logger
}

func newRateLimiter(limit int) *rateLimiter {
	return &rateLimiter{limit: limit, window: time.Minute, now: time.Now}
}

// withShared routes checks to shared under key.
func (r *rateLimiter) withShared(shared SharedLimiter, key string, logger *zerolog.Logger) *rateLimiter {
	r.shared = shared
	r.key = key
	r.log = logger
	return r
}

func (r *rateLimiter) allow(ctx context.Context) bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	if r.shared != nil {
		ok, err := r.shared.Allow(ctx, r.key, r.limit, r.window)
		if err == nil {
			return ok
		}
		r.log.Warn().Err(err).Str("key", r.key).Msg("shared rate limit failed, using local window")
	}
	return r.allowLocal()
}

func (r *rateLimiter) allowLocal() bool {
	now := r.now()
	if now.Sub(r.start) >= r.window {
		r.start = now
		r.counter = 0
	}
	r.counter++
	return r.counter <= r.limit
}
