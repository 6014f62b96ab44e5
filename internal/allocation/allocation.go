// Package allocation implements First-Expired-First-Out batch allocation.
// All functions are pure: they work on copies of the batches they are given
// and never touch shared state, so a caller can preview a plan any number of
// times before committing it.
package allocation

import (
	"errors"
	"slices"
	"strings"

	"bakeledger/backend/internal/domain"
)

type Line struct {
	ProductID      string
	Quantity       int
	UnitPriceCents int64
}

// ProductAllocation is the outcome of allocating one cart line.
type ProductAllocation struct {
	ProductID string
	Quantity  int
	CostCents int64
	Takes     []domain.BatchTake
	Remaining []domain.Batch
}

// Plan covers a whole cart. Either every line allocated in full or the plan
// does not exist.
type Plan struct {
	Allocations      []ProductAllocation
	TotalCostCents   int64
	TotalAmountCents int64
}

// CompareFEFO orders batches soonest-expiry first. Ties fall back to
// received time, then id, so allocation order is deterministic.
func CompareFEFO(a, b domain.Batch) int {
	if c := a.ExpiryDate.Compare(b.ExpiryDate); c != 0 {
		return c
	}
	if c := a.ReceivedAt.Compare(b.ReceivedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// SortFEFO returns a FEFO-ordered copy of batches.
func SortFEFO(batches []domain.Batch) []domain.Batch {
	out := slices.Clone(batches)
	slices.SortFunc(out, CompareFEFO)
	return out
}

// AllocateProduct walks the product's batches in FEFO order, taking
// min(batch quantity, remaining) from each until the request is covered.
// Cost is exact: the sum over slices of quantity taken times that batch's
// unit cost. If total stock cannot cover the request the allocation fails
// with *domain.InsufficientStockError and no partial result is produced.
func AllocateProduct(productID string, batches []domain.Batch, qty int) (*ProductAllocation, error) {
	available := 0
	for _, b := range batches {
		available += b.Quantity
	}
	if qty > available {
		return nil, &domain.InsufficientStockError{ProductID: productID, Requested: qty, Available: available}
	}

	ordered := SortFEFO(batches)
	alloc := &ProductAllocation{ProductID: productID, Quantity: qty}
	remaining := qty
	for _, b := range ordered {
		if remaining == 0 {
			alloc.Remaining = append(alloc.Remaining, b)
			continue
		}
		take := b.Quantity
		if take > remaining {
			take = remaining
		}
		alloc.Takes = append(alloc.Takes, domain.BatchTake{
			ProductID:     productID,
			BatchID:       b.ID,
			BatchCode:     b.BatchCode,
			Quantity:      take,
			UnitCostCents: b.UnitCostCents,
		})
		alloc.CostCents += int64(take) * b.UnitCostCents
		remaining -= take
		if left := b.Quantity - take; left > 0 {
			kept := b
			kept.Quantity = left
			alloc.Remaining = append(alloc.Remaining, kept)
		}
		// a batch taken down to exactly zero is dropped entirely
	}
	return alloc, nil
}

// PlanSale allocates every cart line against the given batch snapshot.
// Lines for the same product see the deductions of earlier lines. Any line
// that cannot be covered in full fails the whole plan; every short line is
// checked first so the rejection names each product that fell short and by
// how much. A short line consumes nothing, so the shortfall reported for a
// later line of the same product is measured against untouched stock.
func PlanSale(lines []Line, batchesByProduct map[string][]domain.Batch) (*Plan, error) {
	working := make(map[string][]domain.Batch, len(batchesByProduct))
	for id, batches := range batchesByProduct {
		working[id] = slices.Clone(batches)
	}

	plan := &Plan{}
	var shortages []error
	for _, line := range lines {
		alloc, err := AllocateProduct(line.ProductID, working[line.ProductID], line.Quantity)
		if err != nil {
			shortages = append(shortages, err)
			continue
		}
		working[line.ProductID] = alloc.Remaining
		plan.Allocations = append(plan.Allocations, *alloc)
		plan.TotalCostCents += alloc.CostCents
		plan.TotalAmountCents += line.UnitPriceCents * int64(line.Quantity)
	}
	if len(shortages) > 0 {
		return nil, errors.Join(shortages...)
	}
	return plan, nil
}
