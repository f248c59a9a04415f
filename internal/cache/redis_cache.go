package cache

import (
	"context"
	"encoding/json"
	"slices"

	redis "github.com/redis/go-redis/v9"

	"larispos/terminal/internal/domain"
)

// RedisProductCache keeps the product cache in redis so that several
// terminal processes on one till share a single view of confirmed stock.
// Products live in one hash keyed by SKU.
type RedisProductCache struct {
	client *redis.Client
	key    string
}

func NewRedisProductCache(addr string, password string, db int) *RedisProductCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisProductCache{client: client, key: "larispos:products"}
}

func (c *RedisProductCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisProductCache) Close() error {
	return c.client.Close()
}

func (c *RedisProductCache) Get(ctx context.Context, sku string) (*domain.Product, bool, error) {
	val, err := c.client.HGet(ctx, c.key, sku).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var p domain.Product
	if err := json.Unmarshal([]byte(val), &p); err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

func (c *RedisProductCache) Put(ctx context.Context, p domain.Product) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.client.HSet(ctx, c.key, p.SKU, payload).Err()
}

func (c *RedisProductCache) List(ctx context.Context) ([]domain.Product, error) {
	values, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, err
	}

	result := make([]domain.Product, 0, len(values))
	for _, raw := range values {
		var p domain.Product
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	slices.SortFunc(result, func(a, b domain.Product) int {
		switch {
		case a.SKU < b.SKU:
			return -1
		case a.SKU > b.SKU:
			return 1
		}
		return 0
	})
	return result, nil
}

func (c *RedisProductCache) ApplyStock(ctx context.Context, sku string, stockQty int64, batches []domain.Batch) error {
	p, ok, err := c.Get(ctx, sku)
	if err != nil || !ok {
		return err
	}
	p.StockQty = stockQty
	if batches != nil {
		p.Batches = slices.Clone(batches)
	}
	return c.Put(ctx, *p)
}
