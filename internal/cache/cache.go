package cache

import (
	"context"
	"time"

	"bakeledger/backend/internal/domain"
)

type ForecastCache interface {
	Get(ctx context.Context, key string) (*domain.DemandForecast, bool, error)
	Set(ctx context.Context, key string, value *domain.DemandForecast, ttl time.Duration) error
}

type NoopForecastCache struct{}

func (NoopForecastCache) Get(_ context.Context, _ string) (*domain.DemandForecast, bool, error) {
	return nil, false, nil
}

func (NoopForecastCache) Set(_ context.Context, _ string, _ *domain.DemandForecast, _ time.Duration) error {
	return nil
}
