package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"storeops/backend/internal/domain"
	"storeops/backend/internal/inventory"
	"storeops/backend/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("STOREOPS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set STOREOPS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s
}

func TestReserveAndReleaseAcrossWarehouses(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	stamp := time.Now().UnixNano()

	var productID, whA, whB int64
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (name, unit, price_cents, active) VALUES ($1, 'pcs', 5000, true) RETURNING id
	`, fmt.Sprintf("IT product %d", stamp)).Scan(&productID); err != nil {
		t.Fatalf("insert product: %v", err)
	}
	for _, wh := range []*int64{&whA, &whB} {
		if err := s.db.QueryRowContext(ctx, `
			INSERT INTO warehouses (name) VALUES ($1) RETURNING id
		`, fmt.Sprintf("IT warehouse %d", stamp)).Scan(wh); err != nil {
			t.Fatalf("insert warehouse: %v", err)
		}
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_entries WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM warehouses WHERE id = ANY($1)`, []int64{whA, whB})
	})

	at := time.Now().UTC()
	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.AddInventory(ctx, productID, &whA, 3, at); err != nil {
			return err
		}
		_, err := tx.AddInventory(ctx, productID, &whB, 5, at)
		return err
	})
	if err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	var allocations []domain.Allocation
	err = s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		allocations, err = inventory.NewLedger(tx, nil).Reserve(ctx, productID, 4)
		return err
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if len(allocations) != 2 || allocations[0].Quantity != 3 || allocations[1].Quantity != 1 {
		t.Fatalf("expected fifo allocations 3+1, got %+v", allocations)
	}

	err = s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := inventory.NewLedger(tx, nil).Reserve(ctx, productID, 5)
		return err
	})
	var shortage *store.InsufficientStockError
	if !errors.As(err, &shortage) || shortage.Shortages[0].Available != 4 {
		t.Fatalf("expected insufficient stock with 4 available, got %v", err)
	}

	err = s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return inventory.NewLedger(tx, nil).Release(ctx, productID, allocations)
	})
	if err != nil {
		t.Fatalf("release: %v", err)
	}

	totals, err := s.GetStockTotals(ctx, []int64{productID})
	if err != nil {
		t.Fatalf("stock totals: %v", err)
	}
	if totals[productID] != 8 {
		t.Fatalf("expected stock 8 after release, got %d", totals[productID])
	}
}
