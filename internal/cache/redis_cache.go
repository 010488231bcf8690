package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/imbasito/spos-sub001/internal/domain"
)

const versionKey = "catalog:version"

type RedisProductCache struct {
	client *redis.Client
}

func NewRedisProductCache(addr string, password string, db int) *RedisProductCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisProductCache{client: client}
}

func (c *RedisProductCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisProductCache) Close() error {
	return c.client.Close()
}

func pageKey(version int64, page int) string {
	return fmt.Sprintf("catalog:v%d:page:%d", version, page)
}

func (c *RedisProductCache) GetPage(ctx context.Context, version int64, page int) ([]domain.Product, bool, error) {
	val, err := c.client.Get(ctx, pageKey(version, page)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var products []domain.Product
	if err := json.Unmarshal([]byte(val), &products); err != nil {
		return nil, false, err
	}
	return products, true, nil
}

func (c *RedisProductCache) SetPage(ctx context.Context, version int64, page int, products []domain.Product, ttl time.Duration) error {
	payload, err := json.Marshal(products)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, pageKey(version, page), payload, ttl).Err()
}

func (c *RedisProductCache) Version(ctx context.Context) (int64, error) {
	val, err := c.client.Get(ctx, versionKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func (c *RedisProductCache) BumpVersion(ctx context.Context) (int64, error) {
	return c.client.Incr(ctx, versionKey).Result()
}
