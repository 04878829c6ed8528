package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"storeops/backend/internal/audit"
	"storeops/backend/internal/domain"
	"storeops/backend/internal/inventory"
	"storeops/backend/internal/store"
)

func (s *Service) ListProducts(ctx context.Context) ([]domain.ProductStock, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, classify(err)
	}
	ids := make([]int64, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	totals, err := s.repo.GetStockTotals(ctx, ids)
	if err != nil {
		return nil, classify(err)
	}

	out := make([]domain.ProductStock, 0, len(products))
	for _, p := range products {
		out = append(out, domain.ProductStock{Product: p, AvailableQty: totals[p.ID]})
	}
	return out, nil
}

func (s *Service) ProductInventory(ctx context.Context, productID int64) (domain.ProductInventoryDetail, error) {
	products, err := s.repo.GetProductsByIDs(ctx, []int64{productID})
	if err != nil {
		return domain.ProductInventoryDetail{}, classify(err)
	}
	product, ok := products[productID]
	if !ok {
		return domain.ProductInventoryDetail{}, fmt.Errorf("product %d: %w", productID, store.ErrNotFound)
	}

	entries, err := s.repo.ListInventoryEntries(ctx, productID)
	if err != nil {
		return domain.ProductInventoryDetail{}, classify(err)
	}
	warehouses, err := s.repo.ListWarehouses(ctx)
	if err != nil {
		return domain.ProductInventoryDetail{}, classify(err)
	}
	names := make(map[int64]string, len(warehouses))
	for _, w := range warehouses {
		names[w.ID] = w.Name
	}

	views := make([]domain.InventoryEntryView, 0, len(entries))
	for _, e := range entries {
		name := "Default location"
		if e.WarehouseID != nil {
			name = names[*e.WarehouseID]
		}
		views = append(views, domain.InventoryEntryView{InventoryEntry: e, WarehouseName: name})
	}

	return domain.ProductInventoryDetail{
		Product:      product,
		AvailableQty: inventory.Total(entries),
		Entries:      views,
	}, nil
}

// ReceiveStock credits received units to one warehouse entry.
func (s *Service) ReceiveStock(ctx context.Context, actor domain.Actor, req domain.StockReceiptRequest) (entry domain.InventoryEntry, err error) {
	ctx, span := s.startSpan(ctx, "service.ReceiveStock")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.Int64("product.id", req.ProductID), attribute.Int("receipt.qty", req.Quantity))

	if err := requireAdmin(actor); err != nil {
		return domain.InventoryEntry{}, err
	}
	if req.ProductID <= 0 || req.Quantity <= 0 {
		return domain.InventoryEntry{}, fmt.Errorf("%w: product and positive quantity required", store.ErrInvalidInput)
	}

	var credited *domain.InventoryEntry
	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		products, err := tx.GetProductsByIDs(ctx, []int64{req.ProductID})
		if err != nil {
			return err
		}
		if _, ok := products[req.ProductID]; !ok {
			return fmt.Errorf("product %d: %w", req.ProductID, store.ErrNotFound)
		}
		credited, err = inventory.NewLedger(tx, s.clockUTC).Credit(ctx, req.ProductID, req.WarehouseID, req.Quantity)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) && req.WarehouseID != nil {
			return domain.InventoryEntry{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
		}
		return domain.InventoryEntry{}, classify(err)
	}

	metadata := map[string]any{"quantity": req.Quantity}
	if req.WarehouseID != nil {
		metadata["warehouse_id"] = *req.WarehouseID
	}
	if req.Note != "" {
		metadata["note"] = req.Note
	}
	s.recordAudit(ctx, actor, domain.AuditLog{
		Action:     audit.ActionReceive,
		EntityType: audit.EntityInventory,
		EntityID:   strconv.FormatInt(credited.ID, 10),
		EntityName: fmt.Sprintf("product %d", req.ProductID),
		Summary:    fmt.Sprintf("received %d units of product %d", req.Quantity, req.ProductID),
		NewValues:  map[string]any{"quantity": credited.Quantity},
		Metadata:   metadata,
	})

	return *credited, nil
}
