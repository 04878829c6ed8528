package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storeops/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDuplicate         = errors.New("duplicate")
	ErrPersistence       = errors.New("persistence failure")
)

type StockShortage struct {
	ProductID int64 `json:"product_id"`
	Available int   `json:"available"`
	Requested int   `json:"requested"`
}

// InsufficientStockError lists every product that could not be covered.
type InsufficientStockError struct {
	Shortages []StockShortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("product %d: requested %d, available %d", s.ProductID, s.Requested, s.Available))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// Tx is the view of the store inside one serializable unit of work. Reads
// of inventory entries, promotions and orders lock the rows they return.
type Tx interface {
	GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
	ListInventoryEntries(ctx context.Context, productID int64) ([]domain.InventoryEntry, error)
	UpdateInventoryQuantity(ctx context.Context, entryID int64, qty int, at time.Time) error
	AddInventory(ctx context.Context, productID int64, warehouseID *int64, qty int, at time.Time) (*domain.InventoryEntry, error)
	FindPromotionByCode(ctx context.Context, code string) (*domain.Promotion, error)
	GetPromotion(ctx context.Context, id int64) (*domain.Promotion, error)
	ListPromotions(ctx context.Context) ([]domain.Promotion, error)
	CreatePromotion(ctx context.Context, promo domain.Promotion) (*domain.Promotion, error)
	UpdatePromotion(ctx context.Context, promo domain.Promotion) error
	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status string, at time.Time) error
	ReplaceLineAllocations(ctx context.Context, orderID int64, lineID int64, allocations []domain.Allocation) error
}

type Repository interface {
	// WithinTx runs fn in one serializable transaction. The transaction
	// commits only when fn returns nil and ctx is still live.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
	GetStockTotals(ctx context.Context, productIDs []int64) (map[int64]int, error)
	ListInventoryEntries(ctx context.Context, productID int64) ([]domain.InventoryEntry, error)
	ListWarehouses(ctx context.Context) ([]domain.Warehouse, error)
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
	ListPromotions(ctx context.Context) ([]domain.Promotion, error)
	GetPromotion(ctx context.Context, id int64) (*domain.Promotion, error)
	GetCustomer(ctx context.Context, id int64) (*domain.Customer, error)
	GetUserByID(ctx context.Context, id int64) (*domain.UserAccount, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
