package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sanumxxx/melsu-portal-sub000/internal/models"
)

var ErrMiss = errors.New("cache miss")

const (
	treeKey       = "melsu:access:departments"
	generationKey = treeKey + ":generation"
)

// RedisTreeCache keeps the flat department list that tree snapshots are built
// from. Lists are stored under the generation that was current when the
// reader started; Invalidate bumps the generation, so a list loaded before a
// write can only land under a key nobody reads any more. Entries expire after
// ttl as a backstop.
type RedisTreeCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisTreeCache(redisURL string, ttl time.Duration) (*RedisTreeCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisTreeCacheFromClient(client, ttl), nil
}

func NewRedisTreeCacheFromClient(client *redis.Client, ttl time.Duration) *RedisTreeCache {
	return &RedisTreeCache{client: client, ttl: ttl}
}

// Generation returns the current tree generation, zero before the first
// invalidation.
func (c *RedisTreeCache) Generation(ctx context.Context) (int64, error) {
	generation, err := c.client.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get department tree generation: %w", err)
	}
	return generation, nil
}

func (c *RedisTreeCache) Load(ctx context.Context, generation int64) ([]models.Department, error) {
	raw, err := c.client.Get(ctx, dataKey(generation)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get department tree: %w", err)
	}

	var departments []models.Department
	if err := json.Unmarshal(raw, &departments); err != nil {
		return nil, fmt.Errorf("decode department tree: %w", err)
	}
	return departments, nil
}

func (c *RedisTreeCache) Store(ctx context.Context, generation int64, departments []models.Department) error {
	raw, err := json.Marshal(departments)
	if err != nil {
		return fmt.Errorf("encode department tree: %w", err)
	}
	return c.client.Set(ctx, dataKey(generation), raw, c.ttl).Err()
}

func (c *RedisTreeCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, generationKey).Err()
}

func (c *RedisTreeCache) Close() error {
	return c.client.Close()
}

func dataKey(generation int64) string {
	return fmt.Sprintf("%s:%d", treeKey, generation)
}
