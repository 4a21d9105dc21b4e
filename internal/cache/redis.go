package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quarrylabs/quarry/config"
	"github.com/quarrylabs/quarry/internal/core"
)

// RedisCache implements Cache on a shared Redis client.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache builds a cache on a fresh Redis connection.
func NewRedisCache(cfg config.RedisConfig) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisCache{client: rdb}
}

// NewRedisCacheWithClient wraps an existing client, shared with the task queue.
func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func resultKey(key string) string { return "cache:result:" + key }
func docTagKey(docID string) string { return "cache:doc:" + docID }

// Get returns the cached payload if present and unexpired.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, resultKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: cache get: %v", core.ErrStoreUnavailable, err)
	}
	return val, true, nil
}

// Set stores the payload and tags it with contributing documents. Tag sets
// expire alongside the longest-lived entry they reference.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration, documentIDs []string) error {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, resultKey(key), value, ttl)
	for _, docID := range documentIDs {
		tag := docTagKey(docID)
		pipe.SAdd(ctx, tag, resultKey(key))
		pipe.Expire(ctx, tag, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: cache set: %v", core.ErrStoreUnavailable, err)
	}
	return nil
}

// InvalidateDocument drops every entry tagged with documentID.
func (c *RedisCache) InvalidateDocument(ctx context.Context, documentID string) error {
	tag := docTagKey(documentID)
	keys, err := c.client.SMembers(ctx, tag).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("%w: cache invalidate: %v", core.ErrStoreUnavailable, err)
	}
	keys = append(keys, tag)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: cache invalidate: %v", core.ErrStoreUnavailable, err)
	}
	return nil
}
