package store

import (
	"context"
	"errors"
	"time"

	"bakeledger/backend/internal/domain"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrDuplicate      = errors.New("duplicate")
)

// SaleCommit is the staged outcome of a checkout: the immutable order, its
// balanced journal entries, and the exact per-batch deductions the allocator
// planned. Repositories apply all three in one atomic step, re-verifying
// batch availability, or apply nothing.
type SaleCommit struct {
	Order      domain.SalesOrder
	Entries    []domain.JournalEntry
	Deductions []domain.BatchTake
}

type Repository interface {
	ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	// ListBatches returns the product's batches ordered by ascending expiry,
	// ties broken by received time then id.
	ListBatches(ctx context.Context, productID string) ([]domain.Batch, error)
	// GetBatchesByProducts returns an independent FEFO-ordered snapshot per
	// product; mutating the result never touches stored state.
	GetBatchesByProducts(ctx context.Context, productIDs []string) (map[string][]domain.Batch, error)
	ReceiveBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error)

	// CommitSale applies the staged sale atomically: deduct every planned
	// batch slice (removing batches that hit zero), persist the order and
	// journal entries. A stale deduction surfaces as
	// *domain.InsufficientStockError and nothing is applied.
	CommitSale(ctx context.Context, commit SaleCommit) error
	FindOrderByID(ctx context.Context, id string) (*domain.SalesOrder, error)
	FindOrderByIdempotency(ctx context.Context, key string) (*domain.SalesOrder, error)
	ListOrders(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.SalesOrder, error)
	ListOrdersByProduct(ctx context.Context, productID string, from time.Time, to time.Time, limit int) ([]domain.SalesOrder, error)

	ListJournalEntries(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.JournalEntry, error)
	ListJournalEntriesByReference(ctx context.Context, referenceID string) ([]domain.JournalEntry, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
}
