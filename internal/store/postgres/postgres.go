package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"bakeledger/backend/internal/domain"
	"bakeledger/backend/internal/store"
	"bakeledger/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	query := `
		SELECT id, sku, name, unit, selling_price_cents, min_stock_level, active, created_at, updated_at
		FROM products
		WHERE active = true OR $1
		ORDER BY sku
	`
	rows, err := s.db.QueryContext(ctx, query, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Unit, &p.SellingPriceCents, &p.MinStockLevel, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.Unit == "" || product.SellingPriceCents < 1 {
		return nil, store.ErrInvalidRequest
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}

	product.Active = true
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, unit, selling_price_cents, min_stock_level, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())
	`, product.ID, product.SKU, product.Name, product.Unit, product.SellingPriceCents, product.MinStockLevel, product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sku, name, unit, selling_price_cents, min_stock_level, active, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.SKU, &product.Name, &product.Unit, &product.SellingPriceCents, &product.MinStockLevel, &product.Active, &product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, name, unit, selling_price_cents, min_stock_level, active, created_at, updated_at
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Unit, &p.SellingPriceCents, &p.MinStockLevel, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.Unit == "" || product.SellingPriceCents < 1 {
		return nil, store.ErrInvalidRequest
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, unit = $3, selling_price_cents = $4, min_stock_level = $5, active = $6, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.Unit, product.SellingPriceCents, product.MinStockLevel, product.Active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

func (s *Store) ListBatches(ctx context.Context, productID string) ([]domain.Batch, error) {
	if _, err := s.GetProductByID(ctx, productID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, batch_code, quantity, expiry_date, unit_cost_cents, received_at
		FROM batches
		WHERE product_id = $1 AND quantity > 0
		ORDER BY expiry_date ASC, received_at ASC, id ASC
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBatches(rows)
}

func (s *Store) GetBatchesByProducts(ctx context.Context, productIDs []string) (map[string][]domain.Batch, error) {
	result := make(map[string][]domain.Batch, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}
	for _, id := range productIDs {
		result[id] = nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, batch_code, quantity, expiry_date, unit_cost_cents, received_at
		FROM batches
		WHERE product_id = ANY($1) AND quantity > 0
		ORDER BY expiry_date ASC, received_at ASC, id ASC
	`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches, err := scanBatches(rows)
	if err != nil {
		return nil, err
	}
	for _, b := range batches {
		result[b.ProductID] = append(result[b.ProductID], b)
	}
	return result, nil
}

func (s *Store) ReceiveBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error) {
	if batch.ProductID == "" || batch.Quantity < 1 || batch.UnitCostCents < 0 {
		return nil, store.ErrInvalidRequest
	}
	if batch.ID == "" {
		batch.ID = xid.New("bat")
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now().UTC()
	}

	if _, err := s.GetProductByID(ctx, batch.ProductID); err != nil {
		return nil, err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (id, product_id, batch_code, quantity, expiry_date, unit_cost_cents, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, batch.ID, batch.ProductID, batch.BatchCode, batch.Quantity, batch.ExpiryDate, batch.UnitCostCents, batch.ReceivedAt)
	if err != nil {
		return nil, err
	}

	created := batch
	return &created, nil
}

// CommitSale applies the staged checkout in one serializable transaction.
// The planned batch rows are locked in FEFO order, re-verified against the
// plan, then deducted; batches that reach zero are deleted. The order, its
// items, and the journal pair go into the same transaction, so a rejected
// sale leaves no trace.
func (s *Store) CommitSale(ctx context.Context, commit store.SaleCommit) error {
	if len(commit.Deductions) == 0 || len(commit.Entries) == 0 {
		return store.ErrInvalidRequest
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() {
		_ = pgTx.Rollback()
	}()

	batchIDs := make([]string, 0, len(commit.Deductions))
	for _, d := range commit.Deductions {
		batchIDs = append(batchIDs, d.BatchID)
	}

	rows, err := pgTx.QueryContext(ctx, `
		SELECT id, product_id, quantity
		FROM batches
		WHERE id = ANY($1)
		ORDER BY expiry_date ASC, received_at ASC, id ASC
		FOR UPDATE
	`, batchIDs)
	if err != nil {
		return err
	}
	available := make(map[string]int, len(batchIDs))
	productByBatch := make(map[string]string, len(batchIDs))
	for rows.Next() {
		var id, productID string
		var qty int
		if err := rows.Scan(&id, &productID, &qty); err != nil {
			rows.Close()
			return err
		}
		available[id] = qty
		productByBatch[id] = productID
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	// sum demand per batch before checking; repeated lines for one
	// product can slice the same batch more than once
	need := make(map[string]int, len(commit.Deductions))
	for _, d := range commit.Deductions {
		need[d.BatchID] += d.Quantity
	}
	for _, d := range commit.Deductions {
		qty, ok := available[d.BatchID]
		if !ok || qty < need[d.BatchID] {
			productID := productByBatch[d.BatchID]
			if productID == "" {
				productID = d.ProductID
			}
			return &domain.InsufficientStockError{
				ProductID: productID,
				Requested: need[d.BatchID],
				Available: qty,
			}
		}
	}

	for _, d := range commit.Deductions {
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE batches SET quantity = quantity - $2 WHERE id = $1
		`, d.BatchID, d.Quantity); err != nil {
			return err
		}
	}
	if _, err := pgTx.ExecContext(ctx, `
		DELETE FROM batches WHERE id = ANY($1) AND quantity <= 0
	`, batchIDs); err != nil {
		return err
	}

	order := commit.Order
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales_orders (id, store_id, cashier_username, customer_name, idempotency_key, total_amount_cents, total_cost_cents, created_at)
		VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7,$8)
	`, order.ID, order.StoreID, order.CashierUsername, order.CustomerName, order.IdempotencyKey, order.TotalAmountCents, order.TotalCostCents, order.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}

	for i, line := range order.Items {
		takes, err := json.Marshal(line.Takes)
		if err != nil {
			return err
		}
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO sales_order_items (order_id, line_no, product_id, product_name, quantity, unit_price_cents, cost_cents, takes)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, order.ID, i+1, line.ProductID, line.ProductName, line.Quantity, line.UnitPriceCents, line.CostCents, takes); err != nil {
			return err
		}
	}

	for _, entry := range commit.Entries {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO journal_entries (id, description, debit_account, credit_account, amount_cents, reference_id, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, entry.ID, entry.Description, entry.DebitAccount, entry.CreditAccount, entry.AmountCents, entry.ReferenceID, entry.CreatedAt); err != nil {
			return err
		}
	}

	return pgTx.Commit()
}

func (s *Store) FindOrderByID(ctx context.Context, id string) (*domain.SalesOrder, error) {
	return s.findOrder(ctx, `WHERE o.id = $1`, id)
}

func (s *Store) FindOrderByIdempotency(ctx context.Context, key string) (*domain.SalesOrder, error) {
	return s.findOrder(ctx, `WHERE o.idempotency_key = $1`, key)
}

func (s *Store) findOrder(ctx context.Context, where string, arg any) (*domain.SalesOrder, error) {
	var order domain.SalesOrder
	var idemKey sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT o.id, o.store_id, o.cashier_username, o.customer_name, o.idempotency_key, o.total_amount_cents, o.total_cost_cents, o.created_at
		FROM sales_orders o
	`+where, arg).Scan(&order.ID, &order.StoreID, &order.CashierUsername, &order.CustomerName, &idemKey, &order.TotalAmountCents, &order.TotalCostCents, &order.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	order.IdempotencyKey = idemKey.String

	items, err := s.loadOrderItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return &order, nil
}

func (s *Store) loadOrderItems(ctx context.Context, orderID string) ([]domain.SaleLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_name, quantity, unit_price_cents, cost_cents, takes
		FROM sales_order_items
		WHERE order_id = $1
		ORDER BY line_no
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.SaleLine
	for rows.Next() {
		var line domain.SaleLine
		var takes []byte
		if err := rows.Scan(&line.ProductID, &line.ProductName, &line.Quantity, &line.UnitPriceCents, &line.CostCents, &takes); err != nil {
			return nil, err
		}
		if len(takes) > 0 {
			if err := json.Unmarshal(takes, &line.Takes); err != nil {
				return nil, err
			}
		}
		items = append(items, line)
	}
	return items, rows.Err()
}

func (s *Store) ListOrders(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.SalesOrder, error) {
	if limit < 1 {
		limit = 100
	}
	from, to = normalizeRange(from, to)

	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.store_id, o.cashier_username, o.customer_name, o.idempotency_key, o.total_amount_cents, o.total_cost_cents, o.created_at
		FROM sales_orders o
		WHERE o.created_at >= $1 AND o.created_at <= $2
		ORDER BY o.created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanOrders(ctx, rows)
}

func (s *Store) ListOrdersByProduct(ctx context.Context, productID string, from time.Time, to time.Time, limit int) ([]domain.SalesOrder, error) {
	if limit < 1 {
		limit = 100
	}
	from, to = normalizeRange(from, to)

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT o.id, o.store_id, o.cashier_username, o.customer_name, o.idempotency_key, o.total_amount_cents, o.total_cost_cents, o.created_at
		FROM sales_orders o
		JOIN sales_order_items i ON i.order_id = o.id
		WHERE i.product_id = $1 AND o.created_at >= $2 AND o.created_at <= $3
		ORDER BY o.created_at DESC
		LIMIT $4
	`, productID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanOrders(ctx, rows)
}

func (s *Store) scanOrders(ctx context.Context, rows *sql.Rows) ([]domain.SalesOrder, error) {
	var orders []domain.SalesOrder
	for rows.Next() {
		var order domain.SalesOrder
		var idemKey sql.NullString
		if err := rows.Scan(&order.ID, &order.StoreID, &order.CashierUsername, &order.CustomerName, &idemKey, &order.TotalAmountCents, &order.TotalCostCents, &order.CreatedAt); err != nil {
			return nil, err
		}
		order.IdempotencyKey = idemKey.String
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		items, err := s.loadOrderItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func (s *Store) ListJournalEntries(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.JournalEntry, error) {
	if limit < 1 {
		limit = 200
	}
	from, to = normalizeRange(from, to)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, description, debit_account, credit_account, amount_cents, reference_id, created_at
		FROM journal_entries
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJournalEntries(rows)
}

func (s *Store) ListJournalEntriesByReference(ctx context.Context, referenceID string) ([]domain.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, description, debit_account, credit_account, amount_cents, reference_id, created_at
		FROM journal_entries
		WHERE reference_id = $1
		ORDER BY id
	`, referenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJournalEntries(rows)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("aud")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StoreID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	from, to = normalizeRange(from, to)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []domain.AuditLog
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.UserAccount
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanBatches(rows *sql.Rows) ([]domain.Batch, error) {
	var batches []domain.Batch
	for rows.Next() {
		var b domain.Batch
		if err := rows.Scan(&b.ID, &b.ProductID, &b.BatchCode, &b.Quantity, &b.ExpiryDate, &b.UnitCostCents, &b.ReceivedAt); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func scanJournalEntries(rows *sql.Rows) ([]domain.JournalEntry, error) {
	var entries []domain.JournalEntry
	for rows.Next() {
		var e domain.JournalEntry
		if err := rows.Scan(&e.ID, &e.Description, &e.DebitAccount, &e.CreditAccount, &e.AmountCents, &e.ReferenceID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func normalizeRange(from time.Time, to time.Time) (time.Time, time.Time) {
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	if to.IsZero() {
		to = time.Now().UTC().AddDate(100, 0, 0)
	}
	return from, to
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
