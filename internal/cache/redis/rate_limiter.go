package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/gflexbot/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

const (
	minWaitPoll = 20 * time.Millisecond
	maxWaitPoll = time.Second
)

// RateLimiter implements domain.RateLimiter with a sliding window kept in a
// sorted set and updated by one Lua script.
type RateLimiter struct {
	rdb           *redis.Client
	slidingWindow *redis.Script
	now           func() time.Time
}

// NewRateLimiter creates a RateLimiter backed by c.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:           c.Underlying(),
		slidingWindow: redis.NewScript(slidingWindowLua),
		now:           time.Now,
	}
}

func rateLimitKey(key string) string {
	return "ratelimit:" + key
}

// Allow admits and counts one request when fewer than limit were admitted
// within the trailing window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	allowed, _, err := rl.try(ctx, key, limit, window)
	return allowed, err
}

// Wait blocks until a request for key is admitted or ctx ends. The poll
// interval follows the retry hint returned by the script.
func (rl *RateLimiter) Wait(ctx context.Context, key string, limit int, window time.Duration) error {
	for {
		allowed, retry, err := rl.try(ctx, key, limit, window)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(clampPoll(retry))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

func (rl *RateLimiter) try(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	result, err := rl.slidingWindow.Run(
		ctx,
		rl.rdb,
		[]string{rateLimitKey(key)},
		rl.now().UnixMicro(),
		window.Microseconds(),
		limit,
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(result) < 2 {
		return false, 0, fmt.Errorf("redis: rate limit %s: unexpected result length %d", key, len(result))
	}
	return result[0] == 1, time.Duration(result[1]) * time.Microsecond, nil
}

func clampPoll(d time.Duration) time.Duration {
	if d < minWaitPoll {
		return minWaitPoll
	}
	if d > maxWaitPoll {
		return maxWaitPoll
	}
	return d
}

// Throttle binds a limiter to one key so a session can wait on it.
type Throttle struct {
	limiter domain.RateLimiter
	key     string
	limit   int
	window  time.Duration
}

// PerMinute returns a Throttle admitting limit submissions per minute for key.
func PerMinute(limiter domain.RateLimiter, key string, limit int) *Throttle {
	return &Throttle{limiter: limiter, key: key, limit: limit, window: time.Minute}
}

// Wait blocks until the next submission is admitted.
func (t *Throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx, t.key, t.limit, t.window)
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
