package forecast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"bakeledger/backend/internal/domain"
)

// RemoteAnalyst calls an external analysis service over HTTP. The response
// is parsed strictly; anything malformed is an error and the engine turns
// it into an unavailable result.
type RemoteAnalyst struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewRemoteAnalyst(endpoint string, apiKey string) *RemoteAnalyst {
	return &RemoteAnalyst{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 8 * time.Second},
	}
}

type remoteRequest struct {
	ProductID       string  `json:"product_id"`
	ProductName     string  `json:"product_name"`
	Unit            string  `json:"unit"`
	MinStockLevel   int     `json:"min_stock_level"`
	TotalStock      int     `json:"total_stock"`
	WindowDays      int     `json:"window_days"`
	SoldQuantities  []int   `json:"sold_quantities"`
	BatchExpiries   []batch `json:"batches"`
	RequestedAtUnix int64   `json:"requested_at_unix"`
}

type batch struct {
	Quantity   int    `json:"quantity"`
	ExpiryDate string `json:"expiry_date"`
}

type remoteResponse struct {
	PredictedDemand       int    `json:"predicted_demand"`
	RestockRecommendation string `json:"restock_recommendation"`
	Reasoning             string `json:"reasoning"`
}

func (a *RemoteAnalyst) Analyze(ctx context.Context, input Input) (*domain.DemandForecast, error) {
	payload := remoteRequest{
		ProductID:       input.Product.ID,
		ProductName:     input.Product.Name,
		Unit:            input.Product.Unit,
		MinStockLevel:   input.Product.MinStockLevel,
		TotalStock:      input.TotalStock,
		WindowDays:      input.WindowDays,
		RequestedAtUnix: time.Now().Unix(),
	}
	for _, order := range input.RecentOrders {
		for _, line := range order.Items {
			if line.ProductID == input.Product.ID {
				payload.SoldQuantities = append(payload.SoldQuantities, line.Quantity)
			}
		}
	}
	for _, b := range input.Batches {
		payload.BatchExpiries = append(payload.BatchExpiries, batch{
			Quantity:   b.Quantity,
			ExpiryDate: b.ExpiryDate.Format("2006-01-02"),
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal analyst request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build analyst request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call analyst: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analyst returned status %d", resp.StatusCode)
	}

	var parsed remoteResponse
	decoder := json.NewDecoder(resp.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode analyst response: %w", err)
	}

	return &domain.DemandForecast{
		ProductID:       input.Product.ID,
		PredictedDemand: parsed.PredictedDemand,
		Recommendation:  parsed.RestockRecommendation,
		Reasoning:       parsed.Reasoning,
		GeneratedAt:     time.Now().UTC(),
	}, nil
}
