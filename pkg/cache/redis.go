package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "graphengine:cache:"

// RedisCache is a Cache backed by Redis key expiry.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) makeKey(key string) string {
	return redisPrefix + key
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Entry, bool, error) {
	data, err := c.client.Get(ctx, c.makeKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to GET cache key %s: %w", key, err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("failed to decode cache entry %s: %w", key, err)
	}
	return &entry, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", key, err)
	}
	if err := c.client.Set(ctx, c.makeKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to SET cache key %s: %w", key, err)
	}
	return nil
}
