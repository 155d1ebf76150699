package cache

import (
	"context"
	"log"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DanielKirsch/CourseHive/internal/pkg/env"
)

var (
	client *redis.Client
	ctx    = context.Background()
)

// SetupCache connects to the Redis-compatible cache server. A failed ping is
// logged but not fatal; callers degrade per feature.
func SetupCache() {
	addr := net.JoinHostPort(
		env.GetEnv("CACHE_HOST", "localhost"),
		env.GetEnv("CACHE_PORT", "6379"),
	)
	client = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       0,
	})

	if pong, err := client.Ping(ctx).Result(); err != nil {
		log.Printf("Warning: cache at %s not reachable: %v", addr, err)
	} else {
		log.Printf("Cache connected (%s): %s", addr, pong)
	}
}

// GetClient returns the shared Redis client, connecting lazily.
func GetClient() *redis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

// Set stores a value under key with the given expiration.
func Set(key string, value interface{}, expiration time.Duration) error {
	return GetClient().Set(ctx, key, value, expiration).Err()
}

// Get reads the string value stored under key.
func Get(key string) (string, error) {
	return GetClient().Get(ctx, key).Result()
}
