package pendingauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter bounds code-guess attempts per pubkey using Redis
// INCR+EXPIRE, scoped to the enrollment-code-guessing surface rather than
// login attempts.
type RateLimiter struct {
	redis      *redis.Client
	maxAttempt int
	window     time.Duration
}

func NewRateLimiter(rdb *redis.Client, maxAttempt int, window time.Duration) *RateLimiter {
	return &RateLimiter{redis: rdb, maxAttempt: maxAttempt, window: window}
}

type RateLimitResult struct {
	Allowed   bool
	Remaining int
	RetryAt   time.Time
}

func (rl *RateLimiter) Check(ctx context.Context, pubkey string) (*RateLimitResult, error) {
	key := "strata:pendingauth_ratelimit:" + pubkey

	count, err := rl.redis.Get(ctx, key).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("pendingauth: checking rate limit: %w", err)
	}
	if count >= rl.maxAttempt {
		ttl, err := rl.redis.TTL(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("pendingauth: getting ttl: %w", err)
		}
		return &RateLimitResult{Allowed: false, RetryAt: time.Now().Add(ttl)}, nil
	}
	return &RateLimitResult{Allowed: true, Remaining: rl.maxAttempt - count}, nil
}

func (rl *RateLimiter) Record(ctx context.Context, pubkey string) error {
	key := "strata:pendingauth_ratelimit:" + pubkey

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pendingauth: recording rate limit: %w", err)
	}
	if incr.Val() == 1 {
		rl.redis.Expire(ctx, key, rl.window)
	}
	return nil
}

func (rl *RateLimiter) Reset(ctx context.Context, pubkey string) error {
	return rl.redis.Del(ctx, "strata:pendingauth_ratelimit:"+pubkey).Err()
}
