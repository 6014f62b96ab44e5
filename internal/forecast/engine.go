// Package forecast produces advisory demand forecasts. Forecasts inform
// restocking decisions only; the checkout path never waits on them and never
// fails because of them. Every error in here degrades to an explicit
// "unavailable" result.
package forecast

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"bakeledger/backend/internal/cache"
	"bakeledger/backend/internal/domain"
)

// Analyst is the external collaborator that turns sales history into a
// forecast. Implementations must validate whatever they receive; the rest
// of the system never trusts a forecast for correctness.
type Analyst interface {
	Analyze(ctx context.Context, input Input) (*domain.DemandForecast, error)
}

// Input is the read-only data handed to an analyst: current stock, batch
// expiries, and recent sales for one product.
type Input struct {
	Product      domain.Product
	TotalStock   int
	Batches      []domain.Batch
	RecentOrders []domain.SalesOrder
	WindowDays   int
}

type Engine struct {
	analyst  Analyst
	cache    cache.ForecastCache
	cacheTTL time.Duration
}

func NewEngine(analyst Analyst, cacheStore cache.ForecastCache, cacheTTL time.Duration) *Engine {
	if analyst == nil {
		analyst = HeuristicAnalyst{}
	}
	if cacheStore == nil {
		cacheStore = cache.NoopForecastCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}

	return &Engine{
		analyst:  analyst,
		cache:    cacheStore,
		cacheTTL: cacheTTL,
	}
}

// Forecast never returns an error. Analyst failures, malformed responses
// and cache trouble all collapse into the unavailable variant.
func (e *Engine) Forecast(ctx context.Context, input Input) domain.ForecastResult {
	cacheKey := buildCacheKey(input)
	if cached, ok, err := e.cache.Get(ctx, cacheKey); err == nil && ok {
		return domain.ForecastResult{Available: true, Forecast: cached}
	}

	forecast, err := e.analyst.Analyze(ctx, input)
	if err != nil {
		log.Printf("[forecast] analyst failed for product %s: %v", input.Product.ID, err)
		return domain.ForecastResult{Available: false, Reason: "analysis unavailable"}
	}
	if err := validate(forecast); err != nil {
		log.Printf("[forecast] rejected analyst response for product %s: %v", input.Product.ID, err)
		return domain.ForecastResult{Available: false, Reason: "analysis unavailable"}
	}

	forecast.ProductID = input.Product.ID
	if forecast.GeneratedAt.IsZero() {
		forecast.GeneratedAt = time.Now().UTC()
	}
	_ = e.cache.Set(ctx, cacheKey, forecast, e.cacheTTL)
	return domain.ForecastResult{Available: true, Forecast: forecast}
}

func validate(forecast *domain.DemandForecast) error {
	if forecast == nil {
		return fmt.Errorf("nil forecast")
	}
	if forecast.PredictedDemand < 0 {
		return fmt.Errorf("negative predicted demand %d", forecast.PredictedDemand)
	}
	switch forecast.Recommendation {
	case domain.RecommendationUrgent, domain.RecommendationNormal, domain.RecommendationNone:
	default:
		return fmt.Errorf("unknown recommendation %q", forecast.Recommendation)
	}
	if strings.TrimSpace(forecast.Reasoning) == "" {
		return fmt.Errorf("empty reasoning")
	}
	return nil
}

func buildCacheKey(input Input) string {
	parts := make([]string, 0, len(input.Batches)+3)
	parts = append(parts, input.Product.ID)
	parts = append(parts, fmt.Sprintf("stock:%d", input.TotalStock))
	for _, b := range input.Batches {
		parts = append(parts, fmt.Sprintf("%s:%d:%s", b.ID, b.Quantity, b.ExpiryDate.Format("2006-01-02")))
	}
	parts = append(parts, fmt.Sprintf("orders:%d", len(input.RecentOrders)))

	hash := sha1.Sum([]byte(strings.Join(parts, "|")))
	return "bakeledger:forecast:" + hex.EncodeToString(hash[:])
}

// HeuristicAnalyst is the local fallback used when no remote analyst is
// configured. It projects the recent daily sales rate forward and flags
// stock that will not cover it.
type HeuristicAnalyst struct{}

func (HeuristicAnalyst) Analyze(_ context.Context, input Input) (*domain.DemandForecast, error) {
	windowDays := input.WindowDays
	if windowDays < 1 {
		windowDays = 14
	}

	sold := 0
	for _, order := range input.RecentOrders {
		for _, line := range order.Items {
			if line.ProductID == input.Product.ID {
				sold += line.Quantity
			}
		}
	}
	dailyRate := float64(sold) / float64(windowDays)
	predicted := int(math.Ceil(dailyRate * 7))

	expiringSoon := 0
	cutoff := time.Now().UTC().AddDate(0, 0, 7)
	for _, b := range input.Batches {
		if b.ExpiryDate.Before(cutoff) {
			expiringSoon += b.Quantity
		}
	}

	recommendation := domain.RecommendationNone
	reasoning := fmt.Sprintf("Sold %d %s over the last %d days; roughly %.1f per day. Stock on hand is %d.",
		sold, input.Product.Unit, windowDays, dailyRate, input.TotalStock)
	switch {
	case input.TotalStock < predicted || input.TotalStock-expiringSoon < predicted:
		recommendation = domain.RecommendationUrgent
		reasoning += fmt.Sprintf(" Projected weekly demand of %d exceeds usable stock (%d expiring within a week).", predicted, expiringSoon)
	case input.TotalStock < input.Product.MinStockLevel+predicted:
		recommendation = domain.RecommendationNormal
		reasoning += fmt.Sprintf(" Stock will dip below the minimum level of %d within the week.", input.Product.MinStockLevel)
	default:
		reasoning += " Current stock comfortably covers projected demand."
	}

	return &domain.DemandForecast{
		ProductID:       input.Product.ID,
		PredictedDemand: predicted,
		Recommendation:  recommendation,
		Reasoning:       reasoning,
		GeneratedAt:     time.Now().UTC(),
	}, nil
}
