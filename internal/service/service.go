package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"bakeledger/backend/internal/allocation"
	"bakeledger/backend/internal/domain"
	"bakeledger/backend/internal/forecast"
	"bakeledger/backend/internal/ledger"
	"bakeledger/backend/internal/store"
	"bakeledger/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo           store.Repository
	forecaster     *forecast.Engine
	defaultStoreID string
}

func New(repo store.Repository, forecaster *forecast.Engine, defaultStoreID string) *Service {
	if defaultStoreID == "" {
		defaultStoreID = "main-store"
	}

	return &Service{
		repo:           repo,
		forecaster:     forecaster,
		defaultStoreID: defaultStoreID,
	}
}

// CompleteSale is the single entry point for checkout. It stages a FEFO
// allocation against a snapshot of the affected batches, builds the order
// and its journal pair, and commits everything through the repository in
// one atomic step. Any line that cannot be covered in full rejects the
// whole cart with no state change.
func (s *Service) CompleteSale(ctx context.Context, req domain.SaleRequest) (*domain.SaleResult, error) {
	lines, err := s.normalizeItems(req.Items)
	if err != nil {
		return nil, err
	}

	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		existing, err := s.repo.FindOrderByIdempotency(ctx, key)
		if err == nil && existing != nil {
			entries, err := s.repo.ListJournalEntriesByReference(ctx, existing.ID)
			if err != nil {
				return nil, err
			}
			return &domain.SaleResult{Order: *existing, Entries: entries, Duplicate: true}, nil
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	products, planLines, err := s.resolveLines(ctx, lines)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.repo.GetBatchesByProducts(ctx, uniqueProductIDs(planLines))
	if err != nil {
		return nil, err
	}

	plan, err := allocation.PlanSale(planLines, snapshot)
	if err != nil {
		return nil, err
	}

	order := s.buildOrder(ctx, req, products, planLines, plan)
	entries, err := ledger.PostSale(order)
	if err != nil {
		return nil, err
	}

	commit := store.SaleCommit{Order: order, Entries: entries}
	for _, alloc := range plan.Allocations {
		commit.Deductions = append(commit.Deductions, alloc.Takes...)
	}
	if err := s.repo.CommitSale(ctx, commit); err != nil {
		if errors.Is(err, store.ErrDuplicate) && order.IdempotencyKey != "" {
			// lost a race on the idempotency key; return the winner
			existing, lookupErr := s.repo.FindOrderByIdempotency(ctx, order.IdempotencyKey)
			if lookupErr == nil && existing != nil {
				dupEntries, entriesErr := s.repo.ListJournalEntriesByReference(ctx, existing.ID)
				if entriesErr != nil {
					return nil, entriesErr
				}
				return &domain.SaleResult{Order: *existing, Entries: dupEntries, Duplicate: true}, nil
			}
		}
		return nil, err
	}

	s.logAudit(ctx, "sale_complete", "sales_order", order.ID,
		fmt.Sprintf("items=%d,amount=%d,cost=%d", len(order.Items), order.TotalAmountCents, order.TotalCostCents))
	return &domain.SaleResult{Order: order, Entries: entries}, nil
}

// QuoteSale runs the same allocation as CompleteSale against a snapshot and
// throws the plan away. Calling it repeatedly yields identical results for
// unchanged stock.
func (s *Service) QuoteSale(ctx context.Context, req domain.SaleRequest) (*domain.QuoteResponse, error) {
	lines, err := s.normalizeItems(req.Items)
	if err != nil {
		return nil, err
	}
	products, planLines, err := s.resolveLines(ctx, lines)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.repo.GetBatchesByProducts(ctx, uniqueProductIDs(planLines))
	if err != nil {
		return nil, err
	}

	plan, err := allocation.PlanSale(planLines, snapshot)
	if err != nil {
		return nil, err
	}

	resp := &domain.QuoteResponse{
		TotalAmountCents: plan.TotalAmountCents,
		TotalCostCents:   plan.TotalCostCents,
		MarginCents:      plan.TotalAmountCents - plan.TotalCostCents,
	}
	for i, line := range planLines {
		alloc := plan.Allocations[i]
		resp.Lines = append(resp.Lines, domain.QuoteLine{
			ProductID:      line.ProductID,
			ProductName:    products[line.ProductID].Name,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
			AmountCents:    line.UnitPriceCents * int64(line.Quantity),
			CostCents:      alloc.CostCents,
			Takes:          alloc.Takes,
		})
	}
	return resp, nil
}

// normalizeItems rejects carts that are empty or carry non-positive
// quantities before any allocation runs. Duplicate product lines are kept
// separate so each line is billed at its own unit price; allocation feeds
// the deductions of earlier lines into later ones.
func (s *Service) normalizeItems(items []domain.CartItem) ([]domain.CartItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty cart", store.ErrInvalidRequest)
	}

	result := make([]domain.CartItem, 0, len(items))
	for _, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" || item.Quantity < 1 {
			return nil, fmt.Errorf("%w: product %q quantity %d", store.ErrInvalidRequest, item.ProductID, item.Quantity)
		}
		if item.UnitPriceCents < 0 {
			return nil, fmt.Errorf("%w: negative unit price for %s", store.ErrInvalidRequest, productID)
		}
		result = append(result, domain.CartItem{ProductID: productID, Quantity: item.Quantity, UnitPriceCents: item.UnitPriceCents})
	}
	return result, nil
}

// uniqueProductIDs collapses the cart's product ids for snapshot and
// catalog lookups, preserving first-seen order.
func uniqueProductIDs(lines []allocation.Line) []string {
	seen := make(map[string]bool, len(lines))
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if seen[line.ProductID] {
			continue
		}
		seen[line.ProductID] = true
		ids = append(ids, line.ProductID)
	}
	return ids
}

// resolveLines maps cart items onto active catalog products and fills in
// catalog prices where the caller sent none.
func (s *Service) resolveLines(ctx context.Context, items []domain.CartItem) (map[string]domain.Product, []allocation.Line, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	lines := make([]allocation.Line, 0, len(items))
	for _, item := range items {
		product, ok := products[item.ProductID]
		if !ok || !product.Active {
			return nil, nil, fmt.Errorf("%w: unknown product %s", store.ErrInvalidRequest, item.ProductID)
		}
		price := item.UnitPriceCents
		if price == 0 {
			price = product.SellingPriceCents
		}
		lines = append(lines, allocation.Line{
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			UnitPriceCents: price,
		})
	}
	return products, lines, nil
}

func (s *Service) buildOrder(ctx context.Context, req domain.SaleRequest, products map[string]domain.Product, lines []allocation.Line, plan *allocation.Plan) domain.SalesOrder {
	actor, _ := ActorFromContext(ctx)
	storeID := strings.TrimSpace(req.StoreID)
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	order := domain.SalesOrder{
		ID:               xid.New("ord"),
		StoreID:          storeID,
		CashierUsername:  actor.Username,
		CustomerName:     strings.TrimSpace(req.CustomerName),
		IdempotencyKey:   strings.TrimSpace(req.IdempotencyKey),
		TotalAmountCents: plan.TotalAmountCents,
		TotalCostCents:   plan.TotalCostCents,
		CreatedAt:        time.Now().UTC(),
	}
	for i, line := range lines {
		alloc := plan.Allocations[i]
		order.Items = append(order.Items, domain.SaleLine{
			ProductID:      line.ProductID,
			ProductName:    products[line.ProductID].Name,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
			CostCents:      alloc.CostCents,
			Takes:          alloc.Takes,
		})
	}
	return order
}

func (s *Service) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, includeInactive)
}

func (s *Service) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return s.repo.GetProductByID(ctx, id)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Unit = strings.TrimSpace(req.Unit)
	if req.SKU == "" || req.Name == "" || req.Unit == "" {
		return domain.Product{}, store.ErrInvalidRequest
	}
	if req.SellingPriceCents < 1 || req.MinStockLevel < 0 {
		return domain.Product{}, store.ErrInvalidRequest
	}

	now := time.Now().UTC()
	product := domain.Product{
		ID:                xid.New("prd"),
		SKU:               req.SKU,
		Name:              req.Name,
		Unit:              req.Unit,
		SellingPriceCents: req.SellingPriceCents,
		MinStockLevel:     req.MinStockLevel,
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID,
		fmt.Sprintf("sku=%s,name=%s,price=%d", created.SKU, created.Name, created.SellingPriceCents))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	existing, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidRequest
		}
		updated.Name = name
	}
	if req.Unit != nil {
		unit := strings.TrimSpace(*req.Unit)
		if unit == "" {
			return domain.Product{}, store.ErrInvalidRequest
		}
		updated.Unit = unit
	}
	if req.SellingPriceCents != nil {
		if *req.SellingPriceCents < 1 {
			return domain.Product{}, store.ErrInvalidRequest
		}
		updated.SellingPriceCents = *req.SellingPriceCents
	}
	if req.MinStockLevel != nil {
		if *req.MinStockLevel < 0 {
			return domain.Product{}, store.ErrInvalidRequest
		}
		updated.MinStockLevel = *req.MinStockLevel
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}
	updated.UpdatedAt = time.Now().UTC()

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_update", "product", saved.ID, fmt.Sprintf("sku=%s", saved.SKU))
	return *saved, nil
}

func (s *Service) ReceiveBatch(ctx context.Context, req domain.BatchReceiveRequest) (domain.Batch, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Batch{}, fmt.Errorf("admin role required")
	}

	req.ProductID = strings.TrimSpace(req.ProductID)
	req.BatchCode = strings.TrimSpace(req.BatchCode)
	if req.ProductID == "" || req.Quantity < 1 || req.UnitCostCents < 0 {
		return domain.Batch{}, store.ErrInvalidRequest
	}
	expiry, err := time.Parse("2006-01-02", req.ExpiryDate)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("%w: bad expiry date %q", store.ErrInvalidRequest, req.ExpiryDate)
	}

	if _, err := s.repo.GetProductByID(ctx, req.ProductID); err != nil {
		return domain.Batch{}, err
	}

	batch := domain.Batch{
		ID:            xid.New("bat"),
		ProductID:     req.ProductID,
		BatchCode:     req.BatchCode,
		Quantity:      req.Quantity,
		ExpiryDate:    expiry,
		UnitCostCents: req.UnitCostCents,
		ReceivedAt:    time.Now().UTC(),
	}
	created, err := s.repo.ReceiveBatch(ctx, batch)
	if err != nil {
		return domain.Batch{}, err
	}

	s.logAudit(ctx, "batch_receive", "batch", created.ID,
		fmt.Sprintf("product=%s,qty=%d,cost=%d", created.ProductID, created.Quantity, created.UnitCostCents))
	return *created, nil
}

func (s *Service) ListBatches(ctx context.Context, productID string) ([]domain.Batch, error) {
	return s.repo.ListBatches(ctx, productID)
}

// StockOverview reports per-product totals with a low-stock flag against
// the product's minimum level.
func (s *Service) StockOverview(ctx context.Context) ([]domain.StockLevel, error) {
	products, err := s.repo.ListProducts(ctx, false)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	batches, err := s.repo.GetBatchesByProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	levels := make([]domain.StockLevel, 0, len(products))
	for _, p := range products {
		total := 0
		for _, b := range batches[p.ID] {
			total += b.Quantity
		}
		levels = append(levels, domain.StockLevel{
			Product:    p,
			TotalStock: total,
			BatchCount: len(batches[p.ID]),
			LowStock:   total < p.MinStockLevel,
		})
	}
	return levels, nil
}

func (s *Service) LowStockReport(ctx context.Context) ([]domain.StockLevel, error) {
	levels, err := s.StockOverview(ctx)
	if err != nil {
		return nil, err
	}
	low := make([]domain.StockLevel, 0)
	for _, l := range levels {
		if l.LowStock {
			low = append(low, l)
		}
	}
	return low, nil
}

func (s *Service) ListOrders(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.SalesOrder, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListOrders(ctx, from, to, limit)
}

func (s *Service) GetOrder(ctx context.Context, id string) (*domain.SalesOrder, error) {
	return s.repo.FindOrderByID(ctx, id)
}

func (s *Service) ListJournalEntries(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.JournalEntry, error) {
	if limit < 1 || limit > 1000 {
		limit = 200
	}
	return s.repo.ListJournalEntries(ctx, from, to, limit)
}

// FinancialSummary aggregates the journal over a period into revenue, cost
// of goods sold, and gross profit.
func (s *Service) FinancialSummary(ctx context.Context, from time.Time, to time.Time) (domain.FinancialSummary, error) {
	entries, err := s.repo.ListJournalEntries(ctx, from, to, 1000)
	if err != nil {
		return domain.FinancialSummary{}, err
	}
	orders, err := s.repo.ListOrders(ctx, from, to, 500)
	if err != nil {
		return domain.FinancialSummary{}, err
	}

	revenue, cogs := ledger.Totals(entries)
	return domain.FinancialSummary{
		From:             from,
		To:               to,
		RevenueCents:     revenue,
		COGSCents:        cogs,
		GrossProfitCents: revenue - cogs,
		OrderCount:       len(orders),
		EntryCount:       len(entries),
	}, nil
}

// ForecastDemand gathers read-only product data and hands it to the
// advisory engine. A missing product is still an error; a failing analyst
// is not.
func (s *Service) ForecastDemand(ctx context.Context, productID string) (domain.ForecastResult, error) {
	product, err := s.repo.GetProductByID(ctx, productID)
	if err != nil {
		return domain.ForecastResult{}, err
	}
	batches, err := s.repo.ListBatches(ctx, productID)
	if err != nil {
		return domain.ForecastResult{}, err
	}

	const windowDays = 14
	now := time.Now().UTC()
	orders, err := s.repo.ListOrdersByProduct(ctx, productID, now.AddDate(0, 0, -windowDays), now, 200)
	if err != nil {
		log.Printf("[service] WARN: sales history unavailable for forecast product=%s: %v", productID, err)
		orders = nil
	}

	total := 0
	for _, b := range batches {
		total += b.Quantity
	}

	return s.forecaster.Forecast(ctx, forecast.Input{
		Product:      *product,
		TotalStock:   total,
		Batches:      batches,
		RecentOrders: orders,
		WindowDays:   windowDays,
	}), nil
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, fmt.Errorf("admin role required")
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, _ := ActorFromContext(ctx)
	entry := domain.AuditLog{
		ID:            xid.New("aud"),
		StoreID:       s.defaultStoreID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		log.Printf("[service] WARN: failed to record audit log action=%s entity=%s: %v", action, entityID, err)
	}
}
