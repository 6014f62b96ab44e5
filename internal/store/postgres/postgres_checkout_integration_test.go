package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"bakeledger/backend/internal/domain"
	"bakeledger/backend/internal/store"
)

func TestCommitSaleDeductsBatchesAndPostsJournal(t *testing.T) {
	databaseURL := os.Getenv("BAKELEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set BAKELEDGER_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prd-it-%d", stamp)
	batchA := fmt.Sprintf("bat-it-a-%d", stamp)
	batchB := fmt.Sprintf("bat-it-b-%d", stamp)
	orderID := fmt.Sprintf("ord-it-%d", stamp)
	idemKey := fmt.Sprintf("idem-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM journal_entries WHERE reference_id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales_order_items WHERE order_id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales_orders WHERE id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM batches WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	if _, err := s.CreateProduct(ctx, domain.Product{
		ID: productID, SKU: fmt.Sprintf("SKU-IT-%d", stamp), Name: "Integration Flour",
		Unit: "kg", SellingPriceCents: 250, MinStockLevel: 10,
	}); err != nil {
		t.Fatalf("create product: %v", err)
	}

	now := time.Now().UTC()
	seed := []domain.Batch{
		{ID: batchA, ProductID: productID, BatchCode: "IT-A", Quantity: 20, ExpiryDate: now.AddDate(0, 1, 0), UnitCostCents: 120},
		{ID: batchB, ProductID: productID, BatchCode: "IT-B", Quantity: 100, ExpiryDate: now.AddDate(0, 2, 0), UnitCostCents: 130},
	}
	for _, b := range seed {
		if _, err := s.ReceiveBatch(ctx, b); err != nil {
			t.Fatalf("receive batch %s: %v", b.ID, err)
		}
	}

	takes := []domain.BatchTake{
		{ProductID: productID, BatchID: batchA, BatchCode: "IT-A", Quantity: 20, UnitCostCents: 120},
		{ProductID: productID, BatchID: batchB, BatchCode: "IT-B", Quantity: 5, UnitCostCents: 130},
	}
	commit := store.SaleCommit{
		Order: domain.SalesOrder{
			ID: orderID, StoreID: "main-store", CashierUsername: "admin",
			IdempotencyKey: idemKey,
			Items: []domain.SaleLine{
				{ProductID: productID, ProductName: "Integration Flour", Quantity: 25, UnitPriceCents: 250, CostCents: 3050, Takes: takes},
			},
			TotalAmountCents: 6250, TotalCostCents: 3050, CreatedAt: now,
		},
		Entries: []domain.JournalEntry{
			{ID: fmt.Sprintf("jrn-it-1-%d", stamp), Description: "Sales revenue", DebitAccount: domain.AccountCashBank, CreditAccount: domain.AccountSalesRevenue, AmountCents: 6250, ReferenceID: orderID, CreatedAt: now},
			{ID: fmt.Sprintf("jrn-it-2-%d", stamp), Description: "Cost of goods sold", DebitAccount: domain.AccountCOGS, CreditAccount: domain.AccountInventoryAsset, AmountCents: 3050, ReferenceID: orderID, CreatedAt: now},
		},
		Deductions: takes,
	}
	if err := s.CommitSale(ctx, commit); err != nil {
		t.Fatalf("commit sale: %v", err)
	}

	batches, err := s.ListBatches(ctx, productID)
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	if len(batches) != 1 || batches[0].ID != batchB || batches[0].Quantity != 95 {
		t.Fatalf("expected only %s with 95 left, got %+v", batchB, batches)
	}

	order, err := s.FindOrderByID(ctx, orderID)
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if order.TotalAmountCents != 6250 || len(order.Items) != 1 || len(order.Items[0].Takes) != 2 {
		t.Fatalf("persisted order lost detail: %+v", order)
	}

	entries, err := s.ListJournalEntriesByReference(ctx, orderID)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 journal entries, got %d", len(entries))
	}

	// Re-running the same commit must trip the idempotency constraint and
	// leave the remaining batch untouched.
	replay := commit
	replay.Order.ID = fmt.Sprintf("ord-it-replay-%d", stamp)
	if err := s.CommitSale(ctx, replay); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate on replay, got %v", err)
	}
	batches, err = s.ListBatches(ctx, productID)
	if err != nil {
		t.Fatalf("list batches after replay: %v", err)
	}
	if len(batches) != 1 || batches[0].Quantity != 95 {
		t.Fatalf("rolled-back replay mutated batches: %+v", batches)
	}
}
