package inventory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"storeops/backend/internal/domain"
	"storeops/backend/internal/store"
)

// Entries is the slice of a store transaction the ledger needs.
// ListInventoryEntries must lock the returned rows until commit.
type Entries interface {
	ListInventoryEntries(ctx context.Context, productID int64) ([]domain.InventoryEntry, error)
	UpdateInventoryQuantity(ctx context.Context, entryID int64, qty int, at time.Time) error
	AddInventory(ctx context.Context, productID int64, warehouseID *int64, qty int, at time.Time) (*domain.InventoryEntry, error)
}

type Ledger struct {
	entries Entries
	now     func() time.Time
}

func NewLedger(entries Entries, now func() time.Time) *Ledger {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Ledger{entries: entries, now: now}
}

func (l *Ledger) CheckAvailability(ctx context.Context, productID int64) (int, error) {
	entries, err := l.entries.ListInventoryEntries(ctx, productID)
	if err != nil {
		return 0, err
	}
	return Total(entries), nil
}

// Reserve draws qty units from the product's entries, lowest warehouse id
// first. Nothing is written unless the whole quantity can be covered.
func (l *Ledger) Reserve(ctx context.Context, productID int64, qty int) ([]domain.Allocation, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: reserve quantity must be positive", store.ErrInvalidInput)
	}
	entries, err := l.entries.ListInventoryEntries(ctx, productID)
	if err != nil {
		return nil, err
	}

	plan, err := Allocate(entries, qty)
	if err != nil {
		var shortage *shortfall
		if errors.As(err, &shortage) {
			return nil, &store.InsufficientStockError{Shortages: []store.StockShortage{{
				ProductID: productID,
				Available: shortage.available,
				Requested: qty,
			}}}
		}
		return nil, err
	}

	remaining := make(map[int64]int, len(entries))
	for _, e := range entries {
		remaining[e.ID] = e.Quantity
	}
	at := l.now()
	for _, a := range plan {
		left := remaining[a.EntryID] - a.Quantity
		if err := l.entries.UpdateInventoryQuantity(ctx, a.EntryID, left, at); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// Credit returns qty units to the entry for (productID, warehouseID),
// creating the entry when the product has none there.
func (l *Ledger) Credit(ctx context.Context, productID int64, warehouseID *int64, qty int) (*domain.InventoryEntry, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: credit quantity must be positive", store.ErrInvalidInput)
	}
	return l.entries.AddInventory(ctx, productID, warehouseID, qty, l.now())
}

// Release credits every allocation back to the entry it came from.
func (l *Ledger) Release(ctx context.Context, productID int64, allocations []domain.Allocation) error {
	for _, a := range allocations {
		if a.Quantity <= 0 {
			continue
		}
		if _, err := l.Credit(ctx, productID, a.WarehouseID, a.Quantity); err != nil {
			return err
		}
	}
	return nil
}

type shortfall struct {
	available int
	requested int
}

func (s *shortfall) Error() string {
	return fmt.Sprintf("requested %d, available %d", s.requested, s.available)
}

// Allocate plans a FIFO draw of qty units without touching entries.
func Allocate(entries []domain.InventoryEntry, qty int) ([]domain.Allocation, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: allocation quantity must be positive", store.ErrInvalidInput)
	}
	available := Total(entries)
	if available < qty {
		return nil, &shortfall{available: available, requested: qty}
	}

	ordered := slices.Clone(entries)
	slices.SortStableFunc(ordered, compareEntries)

	plan := make([]domain.Allocation, 0, len(ordered))
	remaining := qty
	for _, e := range ordered {
		if remaining == 0 {
			break
		}
		if e.Quantity <= 0 {
			continue
		}
		used := min(remaining, e.Quantity)
		plan = append(plan, domain.Allocation{
			EntryID:     e.ID,
			WarehouseID: e.WarehouseID,
			Quantity:    used,
		})
		remaining -= used
	}
	return plan, nil
}

func Total(entries []domain.InventoryEntry) int {
	total := 0
	for _, e := range entries {
		if e.Quantity > 0 {
			total += e.Quantity
		}
	}
	return total
}

// compareEntries orders by warehouse id ascending with the default
// location last, then by entry id.
func compareEntries(a, b domain.InventoryEntry) int {
	switch {
	case a.WarehouseID == nil && b.WarehouseID != nil:
		return 1
	case a.WarehouseID != nil && b.WarehouseID == nil:
		return -1
	case a.WarehouseID != nil && b.WarehouseID != nil && *a.WarehouseID != *b.WarehouseID:
		if *a.WarehouseID < *b.WarehouseID {
			return -1
		}
		return 1
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}
