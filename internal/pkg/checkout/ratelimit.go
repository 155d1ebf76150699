package checkout

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter gates checkout initiation per caller key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type redisRateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// NewRedisRateLimiter builds a fixed-window limiter: the first request in a
// window creates the counter with an expiry, later requests increment it.
func NewRedisRateLimiter(client *redis.Client, limit int64, window time.Duration) RateLimiter {
	return &redisRateLimiter{client: client, limit: limit, window: window}
}

func (l *redisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		// Cache trouble must not block checkout.
		return true, err
	}
	if n == 1 {
		l.client.Expire(ctx, key, l.window)
	}
	return n <= l.limit, nil
}
