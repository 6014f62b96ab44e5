package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"bakeledger/backend/internal/allocation"
	"bakeledger/backend/internal/domain"
	"bakeledger/backend/internal/store"
	"bakeledger/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	batchesByProd   map[string][]domain.Batch
	ordersByID      map[string]*domain.SalesOrder
	ordersByIdem    map[string]*domain.SalesOrder
	orderSequence   []string
	journalEntries  []domain.JournalEntry
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		batchesByProd:   make(map[string][]domain.Batch),
		ordersByID:      make(map[string]*domain.SalesOrder),
		ordersByIdem:    make(map[string]*domain.SalesOrder),
		orderSequence:   make([]string, 0, 64),
		journalEntries:  make([]domain.JournalEntry, 0, 128),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	products := []domain.Product{
		{ID: "prd-flour-01", SKU: "ING-FLR-01", Name: "Tepung Terigu Premium", Unit: "kg", SellingPriceCents: 1500, MinStockLevel: 50, Active: true},
		{ID: "prd-sugar-01", SKU: "ING-SGR-01", Name: "Gula Halus", Unit: "kg", SellingPriceCents: 1800, MinStockLevel: 40, Active: true},
		{ID: "prd-butter-01", SKU: "ING-BTR-01", Name: "Butter Tawar", Unit: "kg", SellingPriceCents: 9500, MinStockLevel: 20, Active: true},
		{ID: "prd-choco-01", SKU: "ING-CKL-01", Name: "Dark Chocolate Compound", Unit: "kg", SellingPriceCents: 7200, MinStockLevel: 25, Active: true},
		{ID: "prd-egg-01", SKU: "ING-TLR-01", Name: "Telur Segar", Unit: "tray", SellingPriceCents: 5600, MinStockLevel: 30, Active: true},
		{ID: "prd-yeast-01", SKU: "ING-RGI-01", Name: "Ragi Instan", Unit: "pack", SellingPriceCents: 1200, MinStockLevel: 60, Active: true},
	}
	for _, p := range products {
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
	}

	batches := []domain.Batch{
		{ID: "bat-flr-a", ProductID: "prd-flour-01", BatchCode: "FLR-2401", Quantity: 80, ExpiryDate: now.AddDate(0, 2, 0), UnitCostCents: 900},
		{ID: "bat-flr-b", ProductID: "prd-flour-01", BatchCode: "FLR-2402", Quantity: 120, ExpiryDate: now.AddDate(0, 4, 0), UnitCostCents: 950},
		{ID: "bat-sgr-a", ProductID: "prd-sugar-01", BatchCode: "SGR-2401", Quantity: 90, ExpiryDate: now.AddDate(0, 6, 0), UnitCostCents: 1100},
		{ID: "bat-btr-a", ProductID: "prd-butter-01", BatchCode: "BTR-2401", Quantity: 25, ExpiryDate: now.AddDate(0, 0, 20), UnitCostCents: 7000},
		{ID: "bat-btr-b", ProductID: "prd-butter-01", BatchCode: "BTR-2402", Quantity: 40, ExpiryDate: now.AddDate(0, 1, 10), UnitCostCents: 7400},
		{ID: "bat-ckl-a", ProductID: "prd-choco-01", BatchCode: "CKL-2401", Quantity: 60, ExpiryDate: now.AddDate(0, 8, 0), UnitCostCents: 5200},
		{ID: "bat-egg-a", ProductID: "prd-egg-01", BatchCode: "TLR-2401", Quantity: 45, ExpiryDate: now.AddDate(0, 0, 12), UnitCostCents: 4300},
		{ID: "bat-rgi-a", ProductID: "prd-yeast-01", BatchCode: "RGI-2401", Quantity: 150, ExpiryDate: now.AddDate(1, 0, 0), UnitCostCents: 800},
	}
	for _, b := range batches {
		b.ReceivedAt = now
		s.batchesByProd[b.ProductID] = append(s.batchesByProd[b.ProductID], b)
	}
	for id := range s.batchesByProd {
		s.batchesByProd[id] = allocation.SortFEFO(s.batchesByProd[id])
	}
	return s
}

func (s *Store) ListProducts(_ context.Context, includeInactive bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !includeInactive && !p.Active {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.products {
		if existing.SKU == product.SKU {
			return nil, store.ErrDuplicate
		}
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	s.products[product.ID] = product
	clone := product
	return &clone, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := p
	return &clone, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[product.ID]; !ok {
		return nil, store.ErrNotFound
	}
	s.products[product.ID] = product
	clone := product
	return &clone, nil
}

func (s *Store) ListBatches(_ context.Context, productID string) ([]domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.products[productID]; !ok {
		return nil, store.ErrNotFound
	}
	return slices.Clone(s.batchesByProd[productID]), nil
}

func (s *Store) GetBatchesByProducts(_ context.Context, productIDs []string) (map[string][]domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]domain.Batch, len(productIDs))
	for _, id := range productIDs {
		out[id] = slices.Clone(s.batchesByProd[id])
	}
	return out, nil
}

func (s *Store) ReceiveBatch(_ context.Context, batch domain.Batch) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[batch.ProductID]; !ok {
		return nil, store.ErrNotFound
	}
	if batch.Quantity < 1 || batch.UnitCostCents < 0 {
		return nil, store.ErrInvalidRequest
	}
	if batch.ID == "" {
		batch.ID = xid.New("bat")
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now().UTC()
	}
	s.batchesByProd[batch.ProductID] = allocation.SortFEFO(append(s.batchesByProd[batch.ProductID], batch))
	clone := batch
	return &clone, nil
}

// CommitSale is the serialized commit step of a checkout. Availability is
// re-verified per planned slice under the write lock; a stale plan leaves
// the store untouched.
func (s *Store) CommitSale(_ context.Context, commit store.SaleCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if commit.Order.IdempotencyKey != "" {
		if _, exists := s.ordersByIdem[commit.Order.IdempotencyKey]; exists {
			return store.ErrDuplicate
		}
	}

	// verify every deduction before mutating anything; a plan with
	// repeated lines for one product can slice the same batch more than
	// once, so demand is summed per batch first
	need := make(map[string]int, len(commit.Deductions))
	for _, d := range commit.Deductions {
		need[d.BatchID] += d.Quantity
	}
	type target struct {
		productID string
		index     int
	}
	targets := make(map[string]target, len(need))
	for _, d := range commit.Deductions {
		if _, checked := targets[d.BatchID]; checked {
			continue
		}
		productID, idx := s.locateBatch(d.BatchID)
		if idx < 0 {
			// batch gone since the plan was staged; it no longer holds
			// anything, so the shortage is attributed to the planned product
			return &domain.InsufficientStockError{ProductID: d.ProductID, Requested: need[d.BatchID], Available: 0}
		}
		if s.batchesByProd[productID][idx].Quantity < need[d.BatchID] {
			return &domain.InsufficientStockError{
				ProductID: productID,
				Requested: need[d.BatchID],
				Available: s.batchesByProd[productID][idx].Quantity,
			}
		}
		targets[d.BatchID] = target{productID: productID, index: idx}
	}

	for _, d := range commit.Deductions {
		t := targets[d.BatchID]
		s.batchesByProd[t.productID][t.index].Quantity -= d.Quantity
	}
	for productID := range s.batchesByProd {
		kept := s.batchesByProd[productID][:0]
		for _, b := range s.batchesByProd[productID] {
			if b.Quantity > 0 {
				kept = append(kept, b)
			}
		}
		s.batchesByProd[productID] = kept
	}

	order := commit.Order
	order.Items = slices.Clone(commit.Order.Items)
	s.ordersByID[order.ID] = &order
	if order.IdempotencyKey != "" {
		s.ordersByIdem[order.IdempotencyKey] = &order
	}
	s.orderSequence = append(s.orderSequence, order.ID)
	s.journalEntries = append(s.journalEntries, commit.Entries...)
	return nil
}

func (s *Store) locateBatch(batchID string) (string, int) {
	for productID, batches := range s.batchesByProd {
		for i, b := range batches {
			if b.ID == batchID {
				return productID, i
			}
		}
	}
	return "", -1
}

func (s *Store) FindOrderByID(_ context.Context, id string) (*domain.SalesOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.ordersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (s *Store) FindOrderByIdempotency(_ context.Context, key string) (*domain.SalesOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.ordersByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (s *Store) ListOrders(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.SalesOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.SalesOrder, 0, limit)
	for i := len(s.orderSequence) - 1; i >= 0 && len(out) < limit; i-- {
		order := s.ordersByID[s.orderSequence[i]]
		if inRange(order.CreatedAt, from, to) {
			out = append(out, *cloneOrder(order))
		}
	}
	return out, nil
}

func (s *Store) ListOrdersByProduct(_ context.Context, productID string, from time.Time, to time.Time, limit int) ([]domain.SalesOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.SalesOrder, 0, limit)
	for i := len(s.orderSequence) - 1; i >= 0 && len(out) < limit; i-- {
		order := s.ordersByID[s.orderSequence[i]]
		if !inRange(order.CreatedAt, from, to) {
			continue
		}
		for _, line := range order.Items {
			if line.ProductID == productID {
				out = append(out, *cloneOrder(order))
				break
			}
		}
	}
	return out, nil
}

func (s *Store) ListJournalEntries(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.JournalEntry, 0, limit)
	for i := len(s.journalEntries) - 1; i >= 0 && len(out) < limit; i-- {
		if inRange(s.journalEntries[i].CreatedAt, from, to) {
			out = append(out, s.journalEntries[i])
		}
	}
	return out, nil
}

func (s *Store) ListJournalEntriesByReference(_ context.Context, referenceID string) ([]domain.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.JournalEntry
	for _, e := range s.journalEntries {
		if e.ReferenceID == referenceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("aud")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(out) < limit; i-- {
		if inRange(s.auditLogs[i].CreatedAt, from, to) {
			out = append(out, s.auditLogs[i])
		}
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrDuplicate
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func cloneOrder(order *domain.SalesOrder) *domain.SalesOrder {
	clone := *order
	clone.Items = slices.Clone(order.Items)
	for i := range clone.Items {
		clone.Items[i].Takes = slices.Clone(order.Items[i].Takes)
	}
	return &clone
}

func inRange(t time.Time, from time.Time, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}
