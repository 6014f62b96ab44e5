package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"bakeledger/backend/internal/domain"
	"bakeledger/backend/internal/store"
)

func day(value string) time.Time {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return t
}

func newSeededStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	ctx := context.Background()

	if _, err := s.CreateProduct(ctx, domain.Product{
		ID: "prd-1", SKU: "ING-FLR-01", Name: "Tepung Terigu", Unit: "kg",
		SellingPriceCents: 250, Active: true,
	}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	batches := []domain.Batch{
		{ID: "bat-b", ProductID: "prd-1", BatchCode: "B", Quantity: 100, ExpiryDate: day("2023-12-15"), UnitCostCents: 130},
		{ID: "bat-a", ProductID: "prd-1", BatchCode: "A", Quantity: 20, ExpiryDate: day("2023-11-01"), UnitCostCents: 120},
	}
	for _, b := range batches {
		if _, err := s.ReceiveBatch(ctx, b); err != nil {
			t.Fatalf("seed batch %s: %v", b.ID, err)
		}
	}
	return s
}

func testCommit(idemKey string, deductions []domain.BatchTake) store.SaleCommit {
	order := domain.SalesOrder{
		ID:               "ord-1",
		StoreID:          "main-store",
		IdempotencyKey:   idemKey,
		TotalAmountCents: 6250,
		TotalCostCents:   3050,
		CreatedAt:        time.Now().UTC(),
	}
	return store.SaleCommit{
		Order: order,
		Entries: []domain.JournalEntry{
			{ID: "jrn-1", DebitAccount: domain.AccountCashBank, CreditAccount: domain.AccountSalesRevenue, AmountCents: 6250, ReferenceID: "ord-1"},
			{ID: "jrn-2", DebitAccount: domain.AccountCOGS, CreditAccount: domain.AccountInventoryAsset, AmountCents: 3050, ReferenceID: "ord-1"},
		},
		Deductions: deductions,
	}
}

func TestListBatchesOrdersByExpiry(t *testing.T) {
	s := newSeededStore(t)

	batches, err := s.ListBatches(context.Background(), "prd-1")
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	if len(batches) != 2 || batches[0].ID != "bat-a" || batches[1].ID != "bat-b" {
		t.Fatalf("expected expiry order [bat-a bat-b], got %+v", batches)
	}
}

func TestCommitSaleAppliesDeductionsAndDropsEmptyBatches(t *testing.T) {
	s := newSeededStore(t)

	commit := testCommit("", []domain.BatchTake{
		{BatchID: "bat-a", Quantity: 20, UnitCostCents: 120},
		{BatchID: "bat-b", Quantity: 5, UnitCostCents: 130},
	})
	if err := s.CommitSale(context.Background(), commit); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	batches, err := s.ListBatches(context.Background(), "prd-1")
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	if len(batches) != 1 || batches[0].ID != "bat-b" || batches[0].Quantity != 95 {
		t.Fatalf("expected bat-b with 95 left, got %+v", batches)
	}

	order, err := s.FindOrderByID(context.Background(), "ord-1")
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if order.TotalAmountCents != 6250 {
		t.Fatalf("stored order lost its totals: %+v", order)
	}

	entries, err := s.ListJournalEntriesByReference(context.Background(), "ord-1")
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 journal entries, got %d", len(entries))
	}
}

func TestCommitSaleRejectsStalePlans(t *testing.T) {
	s := newSeededStore(t)
	ctx := context.Background()

	// Drain bat-a so a plan built against the old snapshot no longer fits.
	first := testCommit("", []domain.BatchTake{{BatchID: "bat-a", Quantity: 20, UnitCostCents: 120}})
	if err := s.CommitSale(ctx, first); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}

	stale := testCommit("", []domain.BatchTake{{ProductID: "prd-1", BatchID: "bat-a", Quantity: 5, UnitCostCents: 120}})
	stale.Order.ID = "ord-2"
	for i := range stale.Entries {
		stale.Entries[i].ReferenceID = "ord-2"
	}

	err := s.CommitSale(ctx, stale)
	var short *domain.InsufficientStockError
	if !errors.As(err, &short) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	// bat-a is gone, so the rejection names the product from the planned take
	if short.ProductID != "prd-1" || short.Available != 0 {
		t.Fatalf("rejection should name prd-1 with nothing left, got %+v", short)
	}

	// The failed commit must leave everything untouched.
	if _, err := s.FindOrderByID(ctx, "ord-2"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("stale commit recorded an order")
	}
	batches, err := s.ListBatches(ctx, "prd-1")
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	if len(batches) != 1 || batches[0].Quantity != 100 {
		t.Fatalf("stale commit mutated batches: %+v", batches)
	}
}

func TestCommitSaleSumsDemandAcrossTakesOfOneBatch(t *testing.T) {
	s := newSeededStore(t)
	ctx := context.Background()

	// Leave 10 in bat-a, then replay a stale plan whose two slices each
	// fit alone but not together.
	first := testCommit("", []domain.BatchTake{{ProductID: "prd-1", BatchID: "bat-a", Quantity: 10, UnitCostCents: 120}})
	if err := s.CommitSale(ctx, first); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}

	stale := testCommit("", []domain.BatchTake{
		{ProductID: "prd-1", BatchID: "bat-a", Quantity: 8, UnitCostCents: 120},
		{ProductID: "prd-1", BatchID: "bat-a", Quantity: 8, UnitCostCents: 120},
	})
	stale.Order.ID = "ord-2"
	for i := range stale.Entries {
		stale.Entries[i].ReferenceID = "ord-2"
	}

	err := s.CommitSale(ctx, stale)
	var short *domain.InsufficientStockError
	if !errors.As(err, &short) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if short.Requested != 16 || short.Available != 10 {
		t.Fatalf("expected combined demand 16 against 10, got %+v", short)
	}

	batches, err := s.ListBatches(ctx, "prd-1")
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	for _, b := range batches {
		if b.ID == "bat-a" && b.Quantity != 10 {
			t.Fatalf("rejected commit mutated bat-a: %+v", b)
		}
	}
}

func TestCommitSaleRejectsPartialShortageWithoutMutation(t *testing.T) {
	s := newSeededStore(t)
	ctx := context.Background()

	commit := testCommit("", []domain.BatchTake{
		{BatchID: "bat-a", Quantity: 10, UnitCostCents: 120},
		{BatchID: "bat-b", Quantity: 500, UnitCostCents: 130},
	})
	var short *domain.InsufficientStockError
	if err := s.CommitSale(ctx, commit); !errors.As(err, &short) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}

	batches, err := s.ListBatches(ctx, "prd-1")
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	if len(batches) != 2 || batches[0].Quantity != 20 || batches[1].Quantity != 100 {
		t.Fatalf("rejected commit mutated batches: %+v", batches)
	}
}

func TestCommitSaleDetectsDuplicateIdempotencyKey(t *testing.T) {
	s := newSeededStore(t)
	ctx := context.Background()

	first := testCommit("idem-1", []domain.BatchTake{{BatchID: "bat-a", Quantity: 5, UnitCostCents: 120}})
	if err := s.CommitSale(ctx, first); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}

	replay := testCommit("idem-1", []domain.BatchTake{{BatchID: "bat-a", Quantity: 5, UnitCostCents: 120}})
	replay.Order.ID = "ord-2"
	if err := s.CommitSale(ctx, replay); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	found, err := s.FindOrderByIdempotency(ctx, "idem-1")
	if err != nil {
		t.Fatalf("find by idempotency: %v", err)
	}
	if found.ID != "ord-1" {
		t.Fatalf("idempotency lookup returned %s", found.ID)
	}
}

func TestGetBatchesByProductsReturnsIndependentSnapshot(t *testing.T) {
	s := newSeededStore(t)
	ctx := context.Background()

	snapshot, err := s.GetBatchesByProducts(ctx, []string{"prd-1"})
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	snapshot["prd-1"][0].Quantity = 0

	batches, err := s.ListBatches(ctx, "prd-1")
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	if batches[0].Quantity != 20 {
		t.Fatalf("snapshot mutation leaked into the store: %+v", batches)
	}
}

func TestReceiveBatchRejectsBadInput(t *testing.T) {
	s := newSeededStore(t)
	ctx := context.Background()

	bad := []domain.Batch{
		{ID: "bat-x", ProductID: "prd-1", Quantity: 0, ExpiryDate: day("2024-01-01")},
		{ID: "bat-y", ProductID: "prd-1", Quantity: 10, ExpiryDate: day("2024-01-01"), UnitCostCents: -5},
	}
	for i, b := range bad {
		if _, err := s.ReceiveBatch(ctx, b); !errors.Is(err, store.ErrInvalidRequest) {
			t.Fatalf("case %d: expected ErrInvalidRequest, got %v", i, err)
		}
	}
}

func TestUpdateProductUnknownID(t *testing.T) {
	s := newSeededStore(t)
	_, err := s.UpdateProduct(context.Background(), domain.Product{ID: "prd-missing"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
