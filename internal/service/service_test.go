package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"bakeledger/backend/internal/cache"
	"bakeledger/backend/internal/domain"
	"bakeledger/backend/internal/forecast"
	"bakeledger/backend/internal/store"
	"bakeledger/backend/internal/store/memory"
)

func day(value string) time.Time {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return t
}

// newTestService builds a service over a memory store holding one product
// with two batches: 20 units at 120 cents expiring first, then 100 units at
// 130 cents.
func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	ctx := context.Background()

	products := []domain.Product{
		{ID: "prd-1", SKU: "ING-FLR-01", Name: "Tepung Terigu", Unit: "kg", SellingPriceCents: 250, MinStockLevel: 10, Active: true},
		{ID: "prd-2", SKU: "ING-BTR-01", Name: "Butter Tawar", Unit: "kg", SellingPriceCents: 9500, MinStockLevel: 5, Active: true},
	}
	for _, p := range products {
		if _, err := repo.CreateProduct(ctx, p); err != nil {
			t.Fatalf("seed product %s: %v", p.ID, err)
		}
	}

	batches := []domain.Batch{
		{ID: "bat-a", ProductID: "prd-1", BatchCode: "A", Quantity: 20, ExpiryDate: day("2023-11-01"), UnitCostCents: 120},
		{ID: "bat-b", ProductID: "prd-1", BatchCode: "B", Quantity: 100, ExpiryDate: day("2023-12-15"), UnitCostCents: 130},
		{ID: "bat-c", ProductID: "prd-2", BatchCode: "C", Quantity: 4, ExpiryDate: day("2023-12-01"), UnitCostCents: 7000},
	}
	for _, b := range batches {
		if _, err := repo.ReceiveBatch(ctx, b); err != nil {
			t.Fatalf("seed batch %s: %v", b.ID, err)
		}
	}

	engine := forecast.NewEngine(forecast.HeuristicAnalyst{}, cache.NoopForecastCache{}, 5*time.Second)
	return New(repo, engine, "main-store"), repo
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func totalStock(t *testing.T, repo *memory.Store, productID string) int {
	t.Helper()
	batches, err := repo.ListBatches(context.Background(), productID)
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	total := 0
	for _, b := range batches {
		total += b.Quantity
	}
	return total
}

func TestCompleteSaleAllocatesFEFOAndPostsBalancedEntries(t *testing.T) {
	svc, repo := newTestService(t)

	result, err := svc.CompleteSale(adminCtx(), domain.SaleRequest{
		Items: []domain.CartItem{{ProductID: "prd-1", Quantity: 25, UnitPriceCents: 250}},
	})
	if err != nil {
		t.Fatalf("complete sale failed: %v", err)
	}

	if result.Order.TotalAmountCents != 6250 {
		t.Fatalf("expected total amount 6250, got %d", result.Order.TotalAmountCents)
	}
	if result.Order.TotalCostCents != 3050 {
		t.Fatalf("expected total cost 3050, got %d", result.Order.TotalCostCents)
	}

	if len(result.Entries) != 2 {
		t.Fatalf("expected 2 journal entries, got %d", len(result.Entries))
	}
	if result.Entries[0].AmountCents != 6250 || result.Entries[0].CreditAccount != domain.AccountSalesRevenue {
		t.Fatalf("unexpected revenue entry: %+v", result.Entries[0])
	}
	if result.Entries[1].AmountCents != 3050 || result.Entries[1].DebitAccount != domain.AccountCOGS {
		t.Fatalf("unexpected cogs entry: %+v", result.Entries[1])
	}

	batches, err := repo.ListBatches(context.Background(), "prd-1")
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	if len(batches) != 1 || batches[0].ID != "bat-b" || batches[0].Quantity != 95 {
		t.Fatalf("expected only bat-b with 95 left, got %+v", batches)
	}
}

func TestCompleteSaleConservesStock(t *testing.T) {
	svc, repo := newTestService(t)
	before := totalStock(t, repo, "prd-1")

	_, err := svc.CompleteSale(adminCtx(), domain.SaleRequest{
		Items: []domain.CartItem{{ProductID: "prd-1", Quantity: 37}},
	})
	if err != nil {
		t.Fatalf("complete sale failed: %v", err)
	}

	after := totalStock(t, repo, "prd-1")
	if before-after != 37 {
		t.Fatalf("expected stock to drop by 37, dropped by %d", before-after)
	}
}

func TestCompleteSaleRejectsInsufficientStock(t *testing.T) {
	svc, repo := newTestService(t)
	before := totalStock(t, repo, "prd-1")

	_, err := svc.CompleteSale(adminCtx(), domain.SaleRequest{
		Items: []domain.CartItem{{ProductID: "prd-1", Quantity: 200}},
	})
	var short *domain.InsufficientStockError
	if !errors.As(err, &short) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if short.Requested != 200 || short.Available != 120 {
		t.Fatalf("unexpected shortage details: %+v", short)
	}

	if after := totalStock(t, repo, "prd-1"); after != before {
		t.Fatalf("rejected sale mutated stock: before %d after %d", before, after)
	}
	orders, err := repo.ListOrders(context.Background(), time.Time{}, time.Time{}, 10)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("rejected sale recorded an order")
	}
}

func TestCompleteSaleRejectsWholeCartWhenOneLineIsShort(t *testing.T) {
	svc, repo := newTestService(t)
	beforeFlour := totalStock(t, repo, "prd-1")
	beforeButter := totalStock(t, repo, "prd-2")

	_, err := svc.CompleteSale(adminCtx(), domain.SaleRequest{
		Items: []domain.CartItem{
			{ProductID: "prd-1", Quantity: 5},
			{ProductID: "prd-2", Quantity: 10}, // only 4 available
		},
	})
	var short *domain.InsufficientStockError
	if !errors.As(err, &short) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if short.ProductID != "prd-2" {
		t.Fatalf("expected shortage on prd-2, got %s", short.ProductID)
	}

	if totalStock(t, repo, "prd-1") != beforeFlour || totalStock(t, repo, "prd-2") != beforeButter {
		t.Fatalf("partially rejected cart mutated stock")
	}
	entries, err := repo.ListJournalEntries(context.Background(), time.Time{}, time.Time{}, 10)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("rejected sale posted journal entries")
	}
}

func TestCompleteSaleRejectsInvalidRequests(t *testing.T) {
	svc, _ := newTestService(t)

	cases := []domain.SaleRequest{
		{},
		{Items: []domain.CartItem{{ProductID: "prd-1", Quantity: 0}}},
		{Items: []domain.CartItem{{ProductID: "prd-1", Quantity: -3}}},
		{Items: []domain.CartItem{{ProductID: "prd-missing", Quantity: 1}}},
	}
	for i, req := range cases {
		if _, err := svc.CompleteSale(adminCtx(), req); !errors.Is(err, store.ErrInvalidRequest) {
			t.Fatalf("case %d: expected ErrInvalidRequest, got %v", i, err)
		}
	}
}

func TestCompleteSaleIdempotencyReturnsExistingOrder(t *testing.T) {
	svc, repo := newTestService(t)

	req := domain.SaleRequest{
		IdempotencyKey: "idem-1",
		Items:          []domain.CartItem{{ProductID: "prd-1", Quantity: 10}},
	}
	first, err := svc.CompleteSale(adminCtx(), req)
	if err != nil {
		t.Fatalf("first sale failed: %v", err)
	}
	if first.Duplicate {
		t.Fatalf("first sale flagged as duplicate")
	}

	before := totalStock(t, repo, "prd-1")
	second, err := svc.CompleteSale(adminCtx(), req)
	if err != nil {
		t.Fatalf("replayed sale failed: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("replayed sale not flagged as duplicate")
	}
	if second.Order.ID != first.Order.ID {
		t.Fatalf("replay returned a different order")
	}
	if len(second.Entries) != 2 {
		t.Fatalf("replay lost the journal entries")
	}
	if after := totalStock(t, repo, "prd-1"); after != before {
		t.Fatalf("replayed sale deducted stock again")
	}
}

func TestQuoteSaleIsIdempotentAndNonMutating(t *testing.T) {
	svc, repo := newTestService(t)
	before := totalStock(t, repo, "prd-1")

	req := domain.SaleRequest{Items: []domain.CartItem{{ProductID: "prd-1", Quantity: 25}}}
	first, err := svc.QuoteSale(adminCtx(), req)
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	second, err := svc.QuoteSale(adminCtx(), req)
	if err != nil {
		t.Fatalf("repeat quote failed: %v", err)
	}

	if first.TotalCostCents != second.TotalCostCents || first.TotalAmountCents != second.TotalAmountCents {
		t.Fatalf("repeated quote differed: %+v vs %+v", first, second)
	}
	if first.TotalCostCents != 3050 {
		t.Fatalf("expected quoted cost 3050, got %d", first.TotalCostCents)
	}
	if first.MarginCents != first.TotalAmountCents-first.TotalCostCents {
		t.Fatalf("margin does not match amount minus cost")
	}
	if after := totalStock(t, repo, "prd-1"); after != before {
		t.Fatalf("quote mutated stock")
	}
}

func TestCompleteSaleUsesCatalogPriceWhenCartOmitsIt(t *testing.T) {
	svc, _ := newTestService(t)

	result, err := svc.CompleteSale(adminCtx(), domain.SaleRequest{
		Items: []domain.CartItem{{ProductID: "prd-1", Quantity: 4}},
	})
	if err != nil {
		t.Fatalf("complete sale failed: %v", err)
	}
	if result.Order.TotalAmountCents != 4*250 {
		t.Fatalf("expected catalog-priced total %d, got %d", 4*250, result.Order.TotalAmountCents)
	}
}

func TestCompleteSaleBillsDuplicateLinesAtTheirOwnPrices(t *testing.T) {
	svc, repo := newTestService(t)

	result, err := svc.CompleteSale(adminCtx(), domain.SaleRequest{
		Items: []domain.CartItem{
			{ProductID: "prd-1", Quantity: 2, UnitPriceCents: 100},
			{ProductID: "prd-1", Quantity: 3, UnitPriceCents: 200},
		},
	})
	if err != nil {
		t.Fatalf("complete sale failed: %v", err)
	}

	if result.Order.TotalAmountCents != 2*100+3*200 {
		t.Fatalf("expected total %d over both lines, got %d", 2*100+3*200, result.Order.TotalAmountCents)
	}
	if len(result.Order.Items) != 2 {
		t.Fatalf("expected both cart lines on the order, got %+v", result.Order.Items)
	}
	if result.Order.Items[0].UnitPriceCents != 100 || result.Order.Items[1].UnitPriceCents != 200 {
		t.Fatalf("lines lost their prices: %+v", result.Order.Items)
	}
	// both lines drain the cheapest batch first
	if result.Order.TotalCostCents != 5*120 {
		t.Fatalf("expected cost %d, got %d", 5*120, result.Order.TotalCostCents)
	}
	if totalStock(t, repo, "prd-1") != 120-5 {
		t.Fatalf("expected 115 units left, got %d", totalStock(t, repo, "prd-1"))
	}
	if result.Entries[0].AmountCents != result.Order.TotalAmountCents {
		t.Fatalf("revenue entry %d does not match order total %d", result.Entries[0].AmountCents, result.Order.TotalAmountCents)
	}
}

func TestFinancialSummaryAggregatesJournal(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.CompleteSale(adminCtx(), domain.SaleRequest{
		Items: []domain.CartItem{{ProductID: "prd-1", Quantity: 25, UnitPriceCents: 250}},
	}); err != nil {
		t.Fatalf("complete sale failed: %v", err)
	}

	summary, err := svc.FinancialSummary(adminCtx(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if summary.RevenueCents != 6250 || summary.COGSCents != 3050 {
		t.Fatalf("unexpected summary figures: %+v", summary)
	}
	if summary.GrossProfitCents != 3200 {
		t.Fatalf("expected gross profit 3200, got %d", summary.GrossProfitCents)
	}
	if summary.OrderCount != 1 || summary.EntryCount != 2 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
}

func TestLowStockReportFlagsProductsBelowMinimum(t *testing.T) {
	svc, _ := newTestService(t)

	// prd-2 holds 4 against a minimum of 5
	low, err := svc.LowStockReport(adminCtx())
	if err != nil {
		t.Fatalf("low stock report failed: %v", err)
	}
	if len(low) != 1 || low[0].Product.ID != "prd-2" {
		t.Fatalf("expected only prd-2 to be low, got %+v", low)
	}
}

type failingAnalyst struct{}

func (failingAnalyst) Analyze(context.Context, forecast.Input) (*domain.DemandForecast, error) {
	return nil, fmt.Errorf("upstream timeout")
}

func TestForecastDemandDegradesToUnavailable(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	if _, err := repo.CreateProduct(ctx, domain.Product{ID: "prd-1", SKU: "ING-X", Name: "X", Unit: "kg", SellingPriceCents: 100, Active: true}); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	engine := forecast.NewEngine(failingAnalyst{}, cache.NoopForecastCache{}, 5*time.Second)
	svc := New(repo, engine, "main-store")

	result, err := svc.ForecastDemand(adminCtx(), "prd-1")
	if err != nil {
		t.Fatalf("a failing analyst must not surface an error: %v", err)
	}
	if result.Available {
		t.Fatalf("expected unavailable result, got %+v", result)
	}
	if result.Reason == "" {
		t.Fatalf("unavailable result missing reason")
	}
}

func TestForecastDemandReturnsAdvisoryResult(t *testing.T) {
	svc, _ := newTestService(t)

	result, err := svc.ForecastDemand(adminCtx(), "prd-1")
	if err != nil {
		t.Fatalf("forecast failed: %v", err)
	}
	if !result.Available || result.Forecast == nil {
		t.Fatalf("expected available forecast, got %+v", result)
	}
	switch result.Forecast.Recommendation {
	case domain.RecommendationUrgent, domain.RecommendationNormal, domain.RecommendationNone:
	default:
		t.Fatalf("unexpected recommendation %q", result.Forecast.Recommendation)
	}
}

func TestForecastDemandUnknownProduct(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.ForecastDemand(adminCtx(), "prd-missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReceiveBatchRequiresAdmin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})

	_, err := svc.ReceiveBatch(ctx, domain.BatchReceiveRequest{
		ProductID: "prd-1", BatchCode: "NEW", Quantity: 10, ExpiryDate: "2024-06-01", UnitCostCents: 100,
	})
	if err == nil {
		t.Fatalf("expected cashier batch receipt to be rejected")
	}
}

func TestReceiveBatchValidatesExpiry(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ReceiveBatch(adminCtx(), domain.BatchReceiveRequest{
		ProductID: "prd-1", BatchCode: "NEW", Quantity: 10, ExpiryDate: "soon", UnitCostCents: 100,
	})
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for bad expiry, got %v", err)
	}
}
