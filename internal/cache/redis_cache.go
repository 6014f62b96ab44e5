package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"bakeledger/backend/internal/domain"
)

type RedisForecastCache struct {
	client *redis.Client
}

func NewRedisForecastCache(addr string, password string, db int) *RedisForecastCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisForecastCache{client: client}
}

func (c *RedisForecastCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisForecastCache) Close() error {
	return c.client.Close()
}

func (c *RedisForecastCache) Get(ctx context.Context, key string) (*domain.DemandForecast, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var forecast domain.DemandForecast
	if err := json.Unmarshal([]byte(val), &forecast); err != nil {
		return nil, false, err
	}
	return &forecast, true, nil
}

func (c *RedisForecastCache) Set(ctx context.Context, key string, value *domain.DemandForecast, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}
