package blobstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is an optional ExistenceCache backed by Redis, mirroring the
// teacher's storage_manager.go pattern of optimistically constructing a
// secondary backend and tolerating its absence: a Store works identically
// whether or not a RedisCache is attached, since Exists falls back to
// scanning the blob's shard directory on a cache miss or error.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps an existing redis.Client. Pass ttl 0 for keys that
// never expire (appropriate since blobs are write-once and content-hashed).
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Has(key string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := c.client.Exists(ctx, redisKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisCache) Mark(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.client.Set(ctx, redisKey(key), "1", c.ttl).Err()
}

func redisKey(hash string) string {
	return "blob:exists:" + hash
}
