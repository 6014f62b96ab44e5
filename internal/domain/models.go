package domain

import "time"

type Product struct {
	ID                string    `json:"id"`
	SKU               string    `json:"sku"`
	Name              string    `json:"name"`
	Unit              string    `json:"unit"`
	SellingPriceCents int64     `json:"selling_price_cents"`
	MinStockLevel     int       `json:"min_stock_level"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type ProductCreateRequest struct {
	SKU               string `json:"sku"`
	Name              string `json:"name"`
	Unit              string `json:"unit"`
	SellingPriceCents int64  `json:"selling_price_cents"`
	MinStockLevel     int    `json:"min_stock_level"`
}

type ProductUpdateRequest struct {
	Name              *string `json:"name,omitempty"`
	Unit              *string `json:"unit,omitempty"`
	SellingPriceCents *int64  `json:"selling_price_cents,omitempty"`
	MinStockLevel     *int    `json:"min_stock_level,omitempty"`
	Active            *bool   `json:"active,omitempty"`
}

// Batch is one received lot of stock. Quantity only ever decreases after
// receipt; a batch whose quantity reaches zero is removed from its product.
type Batch struct {
	ID            string    `json:"id"`
	ProductID     string    `json:"product_id"`
	BatchCode     string    `json:"batch_code"`
	Quantity      int       `json:"quantity"`
	ExpiryDate    time.Time `json:"expiry_date"`
	UnitCostCents int64     `json:"unit_cost_cents"`
	ReceivedAt    time.Time `json:"received_at"`
}

type BatchReceiveRequest struct {
	ProductID     string `json:"product_id"`
	BatchCode     string `json:"batch_code"`
	Quantity      int    `json:"quantity"`
	ExpiryDate    string `json:"expiry_date"`
	UnitCostCents int64  `json:"unit_cost_cents"`
}

type CartItem struct {
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents,omitempty"`
}

// BatchTake records one slice consumed from a batch during allocation.
type BatchTake struct {
	ProductID     string `json:"product_id"`
	BatchID       string `json:"batch_id"`
	BatchCode     string `json:"batch_code"`
	Quantity      int    `json:"quantity"`
	UnitCostCents int64  `json:"unit_cost_cents"`
}

type SaleLine struct {
	ProductID      string      `json:"product_id"`
	ProductName    string      `json:"product_name"`
	Quantity       int         `json:"quantity"`
	UnitPriceCents int64       `json:"unit_price_cents"`
	CostCents      int64       `json:"cost_cents"`
	Takes          []BatchTake `json:"takes"`
}

type SalesOrder struct {
	ID               string     `json:"id"`
	StoreID          string     `json:"store_id"`
	CashierUsername  string     `json:"cashier_username"`
	CustomerName     string     `json:"customer_name,omitempty"`
	IdempotencyKey   string     `json:"idempotency_key,omitempty"`
	Items            []SaleLine `json:"items"`
	TotalAmountCents int64      `json:"total_amount_cents"`
	TotalCostCents   int64      `json:"total_cost_cents"`
	CreatedAt        time.Time  `json:"created_at"`
}

type JournalEntry struct {
	ID            string    `json:"id"`
	Description   string    `json:"description"`
	DebitAccount  string    `json:"debit_account"`
	CreditAccount string    `json:"credit_account"`
	AmountCents   int64     `json:"amount_cents"`
	ReferenceID   string    `json:"reference_id"`
	CreatedAt     time.Time `json:"created_at"`
}

type SaleRequest struct {
	StoreID        string     `json:"store_id"`
	CustomerName   string     `json:"customer_name"`
	IdempotencyKey string     `json:"idempotency_key"`
	Items          []CartItem `json:"items"`
}

type SaleResult struct {
	Order     SalesOrder     `json:"order"`
	Entries   []JournalEntry `json:"entries"`
	Duplicate bool           `json:"duplicate"`
}

type QuoteLine struct {
	ProductID      string      `json:"product_id"`
	ProductName    string      `json:"product_name"`
	Quantity       int         `json:"quantity"`
	UnitPriceCents int64       `json:"unit_price_cents"`
	AmountCents    int64       `json:"amount_cents"`
	CostCents      int64       `json:"cost_cents"`
	Takes          []BatchTake `json:"takes"`
}

type QuoteResponse struct {
	Lines            []QuoteLine `json:"lines"`
	TotalAmountCents int64       `json:"total_amount_cents"`
	TotalCostCents   int64       `json:"total_cost_cents"`
	MarginCents      int64       `json:"margin_cents"`
}

type StockLevel struct {
	Product    Product `json:"product"`
	TotalStock int     `json:"total_stock"`
	BatchCount int     `json:"batch_count"`
	LowStock   bool    `json:"low_stock"`
}

type FinancialSummary struct {
	From             time.Time `json:"from"`
	To               time.Time `json:"to"`
	RevenueCents     int64     `json:"revenue_cents"`
	COGSCents        int64     `json:"cogs_cents"`
	GrossProfitCents int64     `json:"gross_profit_cents"`
	OrderCount       int       `json:"order_count"`
	EntryCount       int       `json:"entry_count"`
}

const (
	RecommendationUrgent = "Urgent"
	RecommendationNormal = "Normal"
	RecommendationNone   = "None"
)

type DemandForecast struct {
	ProductID       string    `json:"product_id"`
	PredictedDemand int       `json:"predicted_demand"`
	Recommendation  string    `json:"recommendation"`
	Reasoning       string    `json:"reasoning"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// ForecastResult is the advisory collaborator's tagged response. When
// Available is false the forecast is absent and Reason says why; callers
// must treat that as informational, never as a transaction error.
type ForecastResult struct {
	Available bool            `json:"available"`
	Forecast  *DemandForecast `json:"forecast,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	AccountCashBank       = "Cash/Bank"
	AccountSalesRevenue   = "Sales Revenue"
	AccountCOGS           = "COGS"
	AccountInventoryAsset = "Inventory Asset"
)
