package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements the fixed-window counter on a shared Redis
// instance so multiple service replicas see one table. The window lives as
// the key's TTL: the first increment sets it, later increments only read it.
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter creates a new RedisLimiter
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// Check records an attempt for key and decides whether it is allowed.
func (l *RedisLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit incr: %w", err)
	}

	if count == 1 {
		if err := l.client.PExpire(ctx, key, window).Err(); err != nil {
			return Decision{}, fmt.Errorf("rate limit expire: %w", err)
		}
		return Decision{Allowed: true, ResetAt: time.Now().Add(window)}, nil
	}

	ttl, err := l.client.PTTL(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit ttl: %w", err)
	}
	if ttl < 0 {
		// Expire was lost (e.g. crash between INCR and PEXPIRE); repair so the
		// key cannot count forever.
		if err := l.client.PExpire(ctx, key, window).Err(); err != nil {
			return Decision{}, fmt.Errorf("rate limit expire repair: %w", err)
		}
		ttl = window
	}

	return Decision{
		Allowed: count <= int64(limit),
		ResetAt: time.Now().Add(ttl),
	}, nil
}
