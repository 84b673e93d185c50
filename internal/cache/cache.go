package cache

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a non-authoritative read cache. It is never allowed to break a
// request: every redis failure is logged and treated as a miss or no-op, and
// a Cache built without a redis URL behaves as a permanent miss.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects a cache client. An empty URL yields a disabled cache; a bad
// URL is reported but still yields a disabled cache rather than an error.
func New(redisURL string, ttl time.Duration) *Cache {
	if redisURL == "" {
		return &Cache{ttl: ttl}
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Println("⚠️ invalid REDIS_URL, cache disabled:", err)
		return &Cache{ttl: ttl}
	}

	return &Cache{client: redis.NewClient(opts), ttl: ttl}
}

// Get returns the cached value and whether it was present. Any failure,
// including a down redis, is a miss.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	if c == nil || c.client == nil {
		return "", false
	}

	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		log.Println("⚠️ cache get failed, treating as miss:", err)
		return "", false
	}
	return val, true
}

// Set stores a value with the configured TTL. Failures are swallowed.
func (c *Cache) Set(ctx context.Context, key, value string) {
	if c == nil || c.client == nil {
		return
	}

	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		log.Println("⚠️ cache set failed:", err)
	}
}

// Delete invalidates a key. Failures are swallowed.
func (c *Cache) Delete(ctx context.Context, key string) {
	if c == nil || c.client == nil {
		return
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		log.Println("⚠️ cache delete failed:", err)
	}
}

// Close releases the redis client if one was configured.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
