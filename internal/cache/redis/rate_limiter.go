package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// RateLimiter implements domain.RateLimiter with fixed windows: each window
// gets its own counter key that expires with the window.
type RateLimiter struct {
	c   *Client
	rdb *redis.Client
	now func() time.Time
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{c: c, rdb: c.Underlying(), now: time.Now}
}

func (rl *RateLimiter) rateLimitKey(key string, bucket int64) string {
	return rl.c.Key("ratelimit", key, strconv.FormatInt(bucket, 10))
}

// Allow counts a request for key and reports whether it is within limit for
// the current window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if window < time.Millisecond {
		return false, fmt.Errorf("redis: rate limit %s: window must be at least 1ms", key)
	}
	bucket := rl.now().UnixMilli() / window.Milliseconds()
	k := rl.rateLimitKey(key, bucket)

	var incr *redis.IntCmd
	_, err := rl.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.PExpire(ctx, k, window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}
	return incr.Val() <= int64(limit), nil
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
