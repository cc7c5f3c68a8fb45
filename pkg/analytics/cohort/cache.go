package cohort

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores evaluated cohorts by key.
type Cache interface {
	Get(ctx context.Context, key string) (*Cohort, bool, error)
	Set(ctx context.Context, key string, c *Cohort, ttl time.Duration) error
}

type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "reporting:"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Cohort, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	result := New()
	if err := json.Unmarshal(data, result); err != nil {
		return nil, false, err
	}
	return result, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, cohort *Cohort, ttl time.Duration) error {
	data, err := json.Marshal(cohort)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, data, ttl).Err()
}
