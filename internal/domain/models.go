package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
	RoleSystem  = "system"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusPaid      = "paid"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

const (
	PromotionStatusActive   = "active"
	PromotionStatusInactive = "inactive"
	PromotionStatusDeleted  = "deleted"
)

const (
	DiscountTypePercent = "percent"
	DiscountTypeFixed   = "fixed"
)

const (
	ApplyScopeOrder   = "order"
	ApplyScopeProduct = "product"
	ApplyScopeCombo   = "combo"
)

type Actor struct {
	UserID   int64
	Username string
	Role     string
}

type Product struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Unit       string `json:"unit"`
	PriceCents int64  `json:"price_cents"`
	Active     bool   `json:"active"`
}

type ProductStock struct {
	Product
	AvailableQty int `json:"available_qty"`
}

type Warehouse struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

// InventoryEntry is the stock of one product at one warehouse. A nil
// WarehouseID is the product's default location.
type InventoryEntry struct {
	ID          int64     `json:"id"`
	ProductID   int64     `json:"product_id"`
	WarehouseID *int64    `json:"warehouse_id,omitempty"`
	Quantity    int       `json:"quantity"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type InventoryEntryView struct {
	InventoryEntry
	WarehouseName string `json:"warehouse_name"`
}

type ProductInventoryDetail struct {
	Product      Product              `json:"product"`
	AvailableQty int                  `json:"available_qty"`
	Entries      []InventoryEntryView `json:"entries"`
}

// Allocation records how many units one inventory entry supplied.
type Allocation struct {
	EntryID     int64  `json:"entry_id"`
	WarehouseID *int64 `json:"warehouse_id,omitempty"`
	Quantity    int    `json:"quantity"`
}

type StockReceiptRequest struct {
	ProductID   int64  `json:"product_id"`
	WarehouseID *int64 `json:"warehouse_id,omitempty"`
	Quantity    int    `json:"quantity"`
	Note        string `json:"note,omitempty"`
}

type Customer struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone,omitempty"`
}

type Promotion struct {
	ID            int64           `json:"id"`
	Code          string          `json:"code"`
	Description   string          `json:"description"`
	DiscountType  string          `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	StartDate     time.Time       `json:"start_date"`
	EndDate       time.Time       `json:"end_date"`
	MinOrderCents int64           `json:"min_order_cents"`
	UsageLimit    int             `json:"usage_limit"`
	UsedCount     int             `json:"used_count"`
	Status        string          `json:"status"`
	ApplyScope    string          `json:"apply_scope"`
	ProductIDs    []int64         `json:"product_ids,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type PromotionCreateRequest struct {
	Code          string          `json:"code"`
	Description   string          `json:"description"`
	DiscountType  string          `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	StartDate     string          `json:"start_date"`
	EndDate       string          `json:"end_date"`
	MinOrderCents int64           `json:"min_order_cents"`
	UsageLimit    int             `json:"usage_limit"`
	ApplyScope    string          `json:"apply_scope"`
	ProductIDs    []int64         `json:"product_ids"`
}

type OrderLineRequest struct {
	ProductID int64 `json:"product_id"`
	Qty       int   `json:"qty"`
}

type CreateOrderRequest struct {
	CustomerID    *int64             `json:"customer_id,omitempty"`
	UserID        *int64             `json:"user_id,omitempty"`
	PromoCode     string             `json:"promo_code,omitempty"`
	PaymentMethod string             `json:"payment_method"`
	Lines         []OrderLineRequest `json:"lines"`
}

type Order struct {
	ID            int64       `json:"id"`
	CustomerID    *int64      `json:"customer_id,omitempty"`
	UserID        *int64      `json:"user_id,omitempty"`
	PromotionID   *int64      `json:"promotion_id,omitempty"`
	Status        string      `json:"status"`
	SubtotalCents int64       `json:"subtotal_cents"`
	DiscountCents int64       `json:"discount_cents"`
	TotalCents    int64       `json:"total_cents"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	Lines         []OrderLine `json:"lines"`
	Payment       *Payment    `json:"payment,omitempty"`
}

// OrderLine keeps both the undiscounted and the discounted line subtotal.
type OrderLine struct {
	ID               int64        `json:"id"`
	OrderID          int64        `json:"order_id"`
	ProductID        int64        `json:"product_id"`
	Qty              int          `json:"qty"`
	UnitPriceCents   int64        `json:"unit_price_cents"`
	SubtotalCents    int64        `json:"subtotal_cents"`
	NetSubtotalCents int64        `json:"net_subtotal_cents"`
	Allocations      []Allocation `json:"allocations,omitempty"`
}

type Payment struct {
	ID          int64     `json:"id"`
	OrderID     int64     `json:"order_id"`
	AmountCents int64     `json:"amount_cents"`
	Method      string    `json:"method"`
	PaidAt      time.Time `json:"paid_at"`
}

type OrderFilter struct {
	Status     string
	CustomerID *int64
	From       time.Time
	To         time.Time
	Limit      int
}

type OrderStatusUpdateRequest struct {
	Status     string `json:"status"`
	Override   bool   `json:"override"`
	ManagerPIN string `json:"manager_pin,omitempty"`
}

type OrderLineResult struct {
	ProductID       int64   `json:"product_id"`
	ProductName     string  `json:"product_name"`
	Qty             int     `json:"qty"`
	UnitPriceCents  int64   `json:"unit_price_cents"`
	SubtotalCents   int64   `json:"subtotal_cents"`
	DiscountCents   int64   `json:"discount_cents"`
	DiscountPercent float64 `json:"discount_percent"`
}

type OrderResult struct {
	OrderID          int64             `json:"order_id"`
	OrderCode        string            `json:"order_code"`
	CustomerID       *int64            `json:"customer_id,omitempty"`
	CustomerName     string            `json:"customer_name,omitempty"`
	UserID           *int64            `json:"user_id,omitempty"`
	UserName         string            `json:"user_name,omitempty"`
	Status           string            `json:"status"`
	CreatedAt        time.Time         `json:"created_at"`
	SubtotalCents    int64             `json:"subtotal_cents"`
	DiscountCents    int64             `json:"discount_cents"`
	TotalCents       int64             `json:"total_cents"`
	PaymentMethod    string            `json:"payment_method,omitempty"`
	PaidAt           *time.Time        `json:"paid_at,omitempty"`
	PromotionID      *int64            `json:"promotion_id,omitempty"`
	PromoCode        string            `json:"promo_code,omitempty"`
	PromoScope       string            `json:"promo_scope,omitempty"`
	PromoDescription string            `json:"promo_description,omitempty"`
	PromotionNote    string            `json:"promotion_note,omitempty"`
	Lines            []OrderLineResult `json:"lines"`
}

type AuditLog struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	EntityName string         `json:"entity_name,omitempty"`
	Summary    string         `json:"summary"`
	ActorID    int64          `json:"actor_id,omitempty"`
	ActorName  string         `json:"actor_name"`
	ActorRole  string         `json:"actor_role"`
	OldValues  map[string]any `json:"old_values,omitempty"`
	NewValues  map[string]any `json:"new_values,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

type AuditFilter struct {
	EntityType string
	Action     string
	From       time.Time
	To         time.Time
	Limit      int
}

type UserAccount struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
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

type CashierCreateRequest struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
}

type CashierUser struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
