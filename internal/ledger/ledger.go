// Package ledger turns completed sales into balanced double-entry journal
// records.
package ledger

import (
	"errors"
	"fmt"

	"bakeledger/backend/internal/domain"
	"bakeledger/backend/internal/xid"
)

// ErrUnbalancedEntry guards the debit = credit invariant. It indicates a
// bug in entry construction, not a user-facing condition.
var ErrUnbalancedEntry = errors.New("journal entries do not balance")

// PostSale derives the journal pair for one order: revenue at the sale's
// total amount and cost of goods at the allocated cost. Both entries share
// the order's id as reference and its timestamp. Zero amounts are legal and
// still posted. Negative amounts are not.
func PostSale(order domain.SalesOrder) ([]domain.JournalEntry, error) {
	if order.TotalAmountCents < 0 || order.TotalCostCents < 0 {
		return nil, fmt.Errorf("%w: negative amount for order %s", ErrUnbalancedEntry, order.ID)
	}

	entries := []domain.JournalEntry{
		{
			ID:            xid.New("jrn"),
			Description:   fmt.Sprintf("Sales revenue for order %s", order.ID),
			DebitAccount:  domain.AccountCashBank,
			CreditAccount: domain.AccountSalesRevenue,
			AmountCents:   order.TotalAmountCents,
			ReferenceID:   order.ID,
			CreatedAt:     order.CreatedAt,
		},
		{
			ID:            xid.New("jrn"),
			Description:   fmt.Sprintf("Cost of goods sold for order %s", order.ID),
			DebitAccount:  domain.AccountCOGS,
			CreditAccount: domain.AccountInventoryAsset,
			AmountCents:   order.TotalCostCents,
			ReferenceID:   order.ID,
			CreatedAt:     order.CreatedAt,
		},
	}

	if err := Verify(order, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Verify checks the posted pair against the order it references. Each entry
// is self-balancing (one debit account, one credit account, one amount), so
// the check is that the pair carries exactly the order's totals.
func Verify(order domain.SalesOrder, entries []domain.JournalEntry) error {
	if len(entries) != 2 {
		return fmt.Errorf("%w: expected 2 entries for order %s, got %d", ErrUnbalancedEntry, order.ID, len(entries))
	}
	var revenue, cogs int64
	for _, e := range entries {
		if e.AmountCents < 0 {
			return fmt.Errorf("%w: negative entry %s", ErrUnbalancedEntry, e.ID)
		}
		if e.ReferenceID != order.ID {
			return fmt.Errorf("%w: entry %s references %s, want %s", ErrUnbalancedEntry, e.ID, e.ReferenceID, order.ID)
		}
		switch {
		case e.DebitAccount == domain.AccountCashBank && e.CreditAccount == domain.AccountSalesRevenue:
			revenue += e.AmountCents
		case e.DebitAccount == domain.AccountCOGS && e.CreditAccount == domain.AccountInventoryAsset:
			cogs += e.AmountCents
		default:
			return fmt.Errorf("%w: unexpected account pair %s/%s", ErrUnbalancedEntry, e.DebitAccount, e.CreditAccount)
		}
	}
	if revenue != order.TotalAmountCents || cogs != order.TotalCostCents {
		return fmt.Errorf("%w: order %s posted revenue %d cogs %d, want %d and %d",
			ErrUnbalancedEntry, order.ID, revenue, cogs, order.TotalAmountCents, order.TotalCostCents)
	}
	return nil
}

// Totals aggregates journal entries into the figures the financial summary
// reports.
func Totals(entries []domain.JournalEntry) (revenueCents int64, cogsCents int64) {
	for _, e := range entries {
		switch {
		case e.CreditAccount == domain.AccountSalesRevenue:
			revenueCents += e.AmountCents
		case e.DebitAccount == domain.AccountCOGS:
			cogsCents += e.AmountCents
		}
	}
	return revenueCents, cogsCents
}
