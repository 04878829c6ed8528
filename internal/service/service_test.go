package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"storeops/backend/internal/cache"
	"storeops/backend/internal/domain"
	"storeops/backend/internal/promotion"
	"storeops/backend/internal/store"
	"storeops/backend/internal/store/memory"
)

var (
	adminActor   = domain.Actor{UserID: 1, Username: "admin", Role: domain.RoleAdmin}
	cashierActor = domain.Actor{UserID: 2, Username: "cashier", Role: domain.RoleCashier}
)

func fixedClock() time.Time {
	return time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
}

func newTestService(opts ...Option) (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	opts = append([]Option{WithClock(fixedClock)}, opts...)
	return New(repo, opts...), repo
}

func createPromo(t *testing.T, svc *Service, req domain.PromotionCreateRequest) domain.Promotion {
	t.Helper()
	if req.StartDate == "" {
		req.StartDate = "2026-01-01"
	}
	if req.EndDate == "" {
		req.EndDate = "2026-12-31"
	}
	promo, err := svc.CreatePromotion(context.Background(), adminActor, req)
	if err != nil {
		t.Fatalf("create promotion %s: %v", req.Code, err)
	}
	return promo
}

func stockOf(t *testing.T, repo *memory.Store, productID int64) int {
	t.Helper()
	totals, err := repo.GetStockTotals(context.Background(), []int64{productID})
	if err != nil {
		t.Fatalf("stock totals: %v", err)
	}
	return totals[productID]
}

func TestCreateOrderAppliesWholeOrderPromotion(t *testing.T) {
	svc, repo := newTestService()
	createPromo(t, svc, domain.PromotionCreateRequest{
		Code:          "SAVE15",
		DiscountType:  domain.DiscountTypePercent,
		DiscountValue: decimal.NewFromInt(15),
		MinOrderCents: 10000,
		ApplyScope:    domain.ApplyScopeOrder,
	})
	customerID := int64(1)

	result, err := svc.CreateOrder(context.Background(), cashierActor, domain.CreateOrderRequest{
		CustomerID: &customerID,
		PromoCode:  "save15",
		Lines: []domain.OrderLineRequest{
			{ProductID: 1, Qty: 2},
			{ProductID: 2, Qty: 1},
		},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if result.SubtotalCents != 20000 || result.DiscountCents != 3000 || result.TotalCents != 17000 {
		t.Fatalf("unexpected totals: subtotal=%d discount=%d total=%d", result.SubtotalCents, result.DiscountCents, result.TotalCents)
	}
	if result.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending order, got %s", result.Status)
	}
	if result.PromoCode != "SAVE15" || result.PromoScope != domain.ApplyScopeOrder {
		t.Fatalf("expected SAVE15 order promotion, got %q/%q", result.PromoCode, result.PromoScope)
	}
	if result.OrderCode != "ORD000001" || result.CustomerName != "Nadia Putri" || result.UserName != "Front Counter" {
		t.Fatalf("unexpected display fields: %+v", result)
	}
	if result.PaymentMethod != "cash" || result.PaidAt == nil {
		t.Fatalf("expected default cash payment, got %q", result.PaymentMethod)
	}
	if result.Lines[0].ProductName != "Arabica Beans 250g" || result.Lines[0].DiscountCents != 0 {
		t.Fatalf("whole order promotion must keep line subtotals, got %+v", result.Lines[0])
	}

	order, err := repo.GetOrder(context.Background(), result.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Payment.AmountCents != 17000 {
		t.Fatalf("expected payment of final total, got %d", order.Payment.AmountCents)
	}
	if got := stockOf(t, repo, 1); got != 6 {
		t.Fatalf("expected product 1 stock 6, got %d", got)
	}
	if got := stockOf(t, repo, 2); got != 9 {
		t.Fatalf("expected product 2 stock 9, got %d", got)
	}

	promos, _ := repo.ListPromotions(context.Background())
	for _, p := range promos {
		if p.Code == "SAVE15" && p.UsedCount != 1 {
			t.Fatalf("expected one usage consumed, got %d", p.UsedCount)
		}
	}
}

func TestCreateOrderDrawsStockFirstInFirstOut(t *testing.T) {
	svc, repo := newTestService()

	result, err := svc.CreateOrder(context.Background(), cashierActor, domain.CreateOrderRequest{
		Lines: []domain.OrderLineRequest{{ProductID: 1, Qty: 4}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	order, _ := repo.GetOrder(context.Background(), result.OrderID)
	allocations := order.Lines[0].Allocations
	if len(allocations) != 2 || *allocations[0].WarehouseID != 1 || allocations[0].Quantity != 3 || allocations[1].Quantity != 1 {
		t.Fatalf("expected 3 from warehouse 1 then 1 from warehouse 2, got %+v", allocations)
	}
	entries, _ := repo.ListInventoryEntries(context.Background(), 1)
	if entries[0].Quantity != 0 || entries[1].Quantity != 4 {
		t.Fatalf("expected {W1:0, W2:4}, got %+v", entries)
	}
}

func TestCreateOrderReportsEveryShortageAndChangesNothing(t *testing.T) {
	svc, repo := newTestService()
	createPromo(t, svc, domain.PromotionCreateRequest{
		Code:          "ANY5",
		DiscountType:  domain.DiscountTypePercent,
		DiscountValue: decimal.NewFromInt(5),
	})

	_, err := svc.CreateOrder(context.Background(), cashierActor, domain.CreateOrderRequest{
		PromoCode: "ANY5",
		Lines: []domain.OrderLineRequest{
			{ProductID: 3, Qty: 1},
			{ProductID: 1, Qty: 100},
			{ProductID: 2, Qty: 50},
		},
	})

	var shortage *store.InsufficientStockError
	if !errors.As(err, &shortage) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected error to match ErrInsufficientStock")
	}
	if len(shortage.Shortages) != 2 || shortage.Shortages[0].ProductID != 1 || shortage.Shortages[0].Available != 8 {
		t.Fatalf("expected shortages for products 1 and 2, got %+v", shortage.Shortages)
	}

	if got := stockOf(t, repo, 3); got != 40 {
		t.Fatalf("expected product 3 untouched, got %d", got)
	}
	promos, _ := repo.ListPromotions(context.Background())
	for _, p := range promos {
		if p.UsedCount != 0 {
			t.Fatalf("expected no promotion usage, %s has %d", p.Code, p.UsedCount)
		}
	}
	orders, _ := repo.ListOrders(context.Background(), domain.OrderFilter{})
	if len(orders) != 0 {
		t.Fatalf("expected no order to be written, got %d", len(orders))
	}
}

func TestCreateOrderValidatesInput(t *testing.T) {
	svc, _ := newTestService()
	unknownCustomer := int64(99)

	cases := map[string]domain.CreateOrderRequest{
		"no lines":         {},
		"zero quantity":    {Lines: []domain.OrderLineRequest{{ProductID: 1, Qty: 0}}},
		"unknown product":  {Lines: []domain.OrderLineRequest{{ProductID: 42, Qty: 1}}},
		"inactive product": {Lines: []domain.OrderLineRequest{{ProductID: 4, Qty: 1}}},
		"unknown customer": {CustomerID: &unknownCustomer, Lines: []domain.OrderLineRequest{{ProductID: 1, Qty: 1}}},
		"bad payment":      {PaymentMethod: "barter", Lines: []domain.OrderLineRequest{{ProductID: 1, Qty: 1}}},
	}
	for name, req := range cases {
		if _, err := svc.CreateOrder(context.Background(), cashierActor, req); !errors.Is(err, store.ErrInvalidInput) {
			t.Fatalf("%s: expected invalid input, got %v", name, err)
		}
	}
}

func TestCreateOrderMergesDuplicateLines(t *testing.T) {
	svc, _ := newTestService()

	result, err := svc.CreateOrder(context.Background(), cashierActor, domain.CreateOrderRequest{
		Lines: []domain.OrderLineRequest{
			{ProductID: 3, Qty: 2},
			{ProductID: 1, Qty: 1},
			{ProductID: 3, Qty: 3},
		},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if len(result.Lines) != 2 || result.Lines[0].ProductID != 3 || result.Lines[0].Qty != 5 {
		t.Fatalf("expected merged first line of 5 filters, got %+v", result.Lines)
	}
}

func TestCreateOrderComboPromotionSplitsDiscount(t *testing.T) {
	svc, _ := newTestService()
	createPromo(t, svc, domain.PromotionCreateRequest{
		Code:          "BREWSET",
		DiscountType:  domain.DiscountTypePercent,
		DiscountValue: decimal.NewFromInt(10),
		ApplyScope:    domain.ApplyScopeCombo,
		ProductIDs:    []int64{1, 2},
	})

	result, err := svc.CreateOrder(context.Background(), cashierActor, domain.CreateOrderRequest{
		PromoCode: "BREWSET",
		Lines: []domain.OrderLineRequest{
			{ProductID: 1, Qty: 2},
			{ProductID: 2, Qty: 1},
			{ProductID: 3, Qty: 2},
		},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if result.DiscountCents != 2000 || result.TotalCents != 21000 {
		t.Fatalf("expected 2000 off 23000, got discount=%d total=%d", result.DiscountCents, result.TotalCents)
	}
	got := []int64{result.Lines[0].DiscountCents, result.Lines[1].DiscountCents, result.Lines[2].DiscountCents}
	if got[0] != 1000 || got[1] != 1000 || got[2] != 0 {
		t.Fatalf("unexpected line discounts %v", got)
	}
	if result.Lines[0].DiscountPercent != 10 {
		t.Fatalf("expected 10%% on the first line, got %v", result.Lines[0].DiscountPercent)
	}
	if result.PromoDescription != "BREWSET - product combo" {
		t.Fatalf("unexpected description %q", result.PromoDescription)
	}
}

func TestCreateOrderWithExhaustedPromotionStillSucceeds(t *testing.T) {
	svc, _ := newTestService()
	createPromo(t, svc, domain.PromotionCreateRequest{
		Code:          "ONCE",
		DiscountType:  domain.DiscountTypeFixed,
		DiscountValue: decimal.NewFromInt(20),
		UsageLimit:    1,
	})
	req := domain.CreateOrderRequest{
		PromoCode: "ONCE",
		Lines:     []domain.OrderLineRequest{{ProductID: 2, Qty: 1}},
	}

	first, err := svc.CreateOrder(context.Background(), cashierActor, req)
	if err != nil {
		t.Fatalf("first order: %v", err)
	}
	if first.DiscountCents != 2000 {
		t.Fatalf("expected 2000 off, got %d", first.DiscountCents)
	}

	second, err := svc.CreateOrder(context.Background(), cashierActor, req)
	if err != nil {
		t.Fatalf("second order: %v", err)
	}
	if second.DiscountCents != 0 || second.TotalCents != 10000 {
		t.Fatalf("expected no discount on second order, got %d", second.DiscountCents)
	}
	if second.PromotionNote != promotion.ReasonInactive {
		t.Fatalf("expected inactive note, got %q", second.PromotionNote)
	}
}

func TestConcurrentOrdersNeitherOversellNorOverusePromotion(t *testing.T) {
	svc, repo := newTestService()
	createPromo(t, svc, domain.PromotionCreateRequest{
		Code:          "LAST",
		DiscountType:  domain.DiscountTypeFixed,
		DiscountValue: decimal.NewFromInt(5),
		UsageLimit:    1,
	})
	start := stockOf(t, repo, 3)

	const buyers = 50
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		succeeded  int
		discounted int
		shortages  int
		unexpected []error
	)
	for range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.CreateOrder(context.Background(), cashierActor, domain.CreateOrderRequest{
				PromoCode: "LAST",
				Lines:     []domain.OrderLineRequest{{ProductID: 3, Qty: 1}},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
				if result.DiscountCents > 0 {
					discounted++
				}
			case errors.Is(err, store.ErrInsufficientStock):
				shortages++
			default:
				unexpected = append(unexpected, err)
			}
		}()
	}
	wg.Wait()

	if len(unexpected) > 0 {
		t.Fatalf("unexpected errors: %v", unexpected)
	}
	if succeeded != start || shortages != buyers-start {
		t.Fatalf("expected %d orders and %d shortages, got %d and %d", start, buyers-start, succeeded, shortages)
	}
	if discounted != 1 {
		t.Fatalf("expected the single promotion slot to be used once, got %d", discounted)
	}
	if left := stockOf(t, repo, 3); left != 0 {
		t.Fatalf("expected stock to be exhausted exactly, got %d left", left)
	}

	promos, err := repo.ListPromotions(context.Background())
	if err != nil {
		t.Fatalf("list promotions: %v", err)
	}
	for _, p := range promos {
		if p.Code == "LAST" && p.UsedCount != 1 {
			t.Fatalf("expected LAST used once, got %d", p.UsedCount)
		}
	}
}

func TestCreateOrderUnknownPromotionIsNoted(t *testing.T) {
	svc, _ := newTestService()

	result, err := svc.CreateOrder(context.Background(), cashierActor, domain.CreateOrderRequest{
		PromoCode: "NOPE",
		Lines:     []domain.OrderLineRequest{{ProductID: 3, Qty: 1}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if result.PromotionNote != promotion.ReasonNotFound || result.DiscountCents != 0 {
		t.Fatalf("expected not found note, got %+v", result)
	}
}

func TestCreateOrderRecordsAudit(t *testing.T) {
	svc, _ := newTestService()
	customerID := int64(1)

	if _, err := svc.CreateOrder(context.Background(), cashierActor, domain.CreateOrderRequest{
		CustomerID: &customerID,
		PromoCode:  "WELCOME10",
		Lines:      []domain.OrderLineRequest{{ProductID: 3, Qty: 1}},
	}); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := svc.CreateOrder(context.Background(), cashierActor, domain.CreateOrderRequest{
		Lines: []domain.OrderLineRequest{{ProductID: 3, Qty: 1}},
	}); err != nil {
		t.Fatalf("create second order: %v", err)
	}

	logs, err := svc.ListAuditLogs(context.Background(), domain.AuditFilter{EntityType: "order"})
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected two audit entries, got %+v", logs)
	}
	byName := map[string]domain.AuditLog{}
	for _, entry := range logs {
		if entry.Action != "CREATE" || entry.ActorName != "cashier" {
			t.Fatalf("unexpected audit entry %+v", entry)
		}
		byName[entry.EntityName] = entry
	}

	first, ok := byName["ORD000001"]
	if !ok {
		t.Fatalf("missing audit entry for ORD000001: %+v", logs)
	}
	if got := first.NewValues["customer_id"]; got != int64(1) {
		t.Fatalf("expected customer_id 1, got %#v", got)
	}
	if got := first.NewValues["promo_code"]; got != "WELCOME10" {
		t.Fatalf("expected promo_code WELCOME10, got %#v", got)
	}
	if got := first.Metadata["has_promotion"]; got != true {
		t.Fatalf("expected has_promotion true, got %#v", got)
	}
	if got := first.NewValues["total_cents"]; got != int64(1350) {
		t.Fatalf("expected total_cents 1350, got %#v", got)
	}

	second := byName["ORD000002"]
	if got, present := second.NewValues["customer_id"]; !present || got != nil {
		t.Fatalf("expected explicit nil customer_id, got %#v (present %v)", got, present)
	}
	if got := second.Metadata["has_promotion"]; got != false {
		t.Fatalf("expected has_promotion false, got %#v", got)
	}
}

type failingSink struct{}

func (failingSink) LogAction(context.Context, domain.AuditLog) error {
	return errors.New("audit backend down")
}

func TestCreateOrderSurvivesAuditFailure(t *testing.T) {
	svc, _ := newTestService(WithAuditSink(failingSink{}))

	if _, err := svc.CreateOrder(context.Background(), cashierActor, domain.CreateOrderRequest{
		Lines: []domain.OrderLineRequest{{ProductID: 3, Qty: 1}},
	}); err != nil {
		t.Fatalf("expected audit failure to be swallowed, got %v", err)
	}
}

type brokenRepo struct {
	store.Repository
}

func (brokenRepo) WithinTx(context.Context, func(context.Context, store.Tx) error) error {
	return errors.New("connection reset by peer")
}

func TestCreateOrderClassifiesStorageFailures(t *testing.T) {
	svc := New(brokenRepo{Repository: memory.NewSeeded()}, WithClock(fixedClock))

	_, err := svc.CreateOrder(context.Background(), cashierActor, domain.CreateOrderRequest{
		Lines: []domain.OrderLineRequest{{ProductID: 3, Qty: 1}},
	})
	if !errors.Is(err, store.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
}

func TestCreateOrderStopsWhenContextEnds(t *testing.T) {
	svc, repo := newTestService()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.CreateOrder(ctx, cashierActor, domain.CreateOrderRequest{
		Lines: []domain.OrderLineRequest{{ProductID: 3, Qty: 1}},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := stockOf(t, repo, 3); got != 40 {
		t.Fatalf("expected stock untouched, got %d", got)
	}
}

func TestUpdateOrderStatusLifecycle(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, cashierActor, domain.CreateOrderRequest{
		Lines: []domain.OrderLineRequest{{ProductID: 1, Qty: 4}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if _, err := svc.UpdateOrderStatus(ctx, cashierActor, order.OrderID, domain.OrderStatusUpdateRequest{Status: "paid"}); err != nil {
		t.Fatalf("pending -> paid: %v", err)
	}
	_, err = svc.UpdateOrderStatus(ctx, cashierActor, order.OrderID, domain.OrderStatusUpdateRequest{Status: "pending"})
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected paid -> pending to be rejected, got %v", err)
	}

	cancelled, err := svc.UpdateOrderStatus(ctx, cashierActor, order.OrderID, domain.OrderStatusUpdateRequest{Status: "cancelled"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if got := stockOf(t, repo, 1); got != 8 {
		t.Fatalf("expected stock restored to 8, got %d", got)
	}
	entries, _ := repo.ListInventoryEntries(ctx, 1)
	if entries[0].Quantity != 3 || entries[1].Quantity != 5 {
		t.Fatalf("expected each warehouse credited back, got %+v", entries)
	}

	_, err = svc.UpdateOrderStatus(ctx, cashierActor, order.OrderID, domain.OrderStatusUpdateRequest{Status: "pending", Override: true})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected cashier override to be forbidden, got %v", err)
	}

	reopened, err := svc.UpdateOrderStatus(ctx, adminActor, order.OrderID, domain.OrderStatusUpdateRequest{Status: "pending", Override: true})
	if err != nil {
		t.Fatalf("admin override: %v", err)
	}
	if reopened.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending, got %s", reopened.Status)
	}
	if got := stockOf(t, repo, 1); got != 4 {
		t.Fatalf("expected stock reserved again, got %d", got)
	}

	logs, _ := svc.ListAuditLogs(ctx, domain.AuditFilter{EntityType: "order", Action: "UPDATE"})
	if len(logs) != 3 {
		t.Fatalf("expected 3 status audit entries, got %d", len(logs))
	}
}

func TestUpdateOrderStatusOverrideFailsWithoutStock(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	first, err := svc.CreateOrder(ctx, cashierActor, domain.CreateOrderRequest{
		Lines: []domain.OrderLineRequest{{ProductID: 1, Qty: 8}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := svc.UpdateOrderStatus(ctx, cashierActor, first.OrderID, domain.OrderStatusUpdateRequest{Status: "cancelled"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := svc.CreateOrder(ctx, cashierActor, domain.CreateOrderRequest{
		Lines: []domain.OrderLineRequest{{ProductID: 1, Qty: 5}},
	}); err != nil {
		t.Fatalf("second order: %v", err)
	}

	_, err = svc.UpdateOrderStatus(ctx, adminActor, first.OrderID, domain.OrderStatusUpdateRequest{Status: "pending", Override: true})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestUpdateOrderStatusOverrideUsesAdminGate(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	scheduler := domain.Actor{Username: "scheduler", Role: domain.RoleSystem}

	order, err := svc.CreateOrder(ctx, cashierActor, domain.CreateOrderRequest{
		Lines: []domain.OrderLineRequest{{ProductID: 3, Qty: 2}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := svc.UpdateOrderStatus(ctx, cashierActor, order.OrderID, domain.OrderStatusUpdateRequest{Status: "completed"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, err = svc.UpdateOrderStatus(ctx, cashierActor, order.OrderID, domain.OrderStatusUpdateRequest{Status: "paid", Override: true})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected cashier override to be forbidden, got %v", err)
	}

	result, err := svc.UpdateOrderStatus(ctx, scheduler, order.OrderID, domain.OrderStatusUpdateRequest{Status: "paid", Override: true})
	if err != nil {
		t.Fatalf("expected system override to pass the admin gate, got %v", err)
	}
	if result.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid, got %s", result.Status)
	}
}

type mapCache struct {
	mu      sync.Mutex
	entries map[int64]domain.OrderResult
}

func (c *mapCache) Get(_ context.Context, id int64) (*domain.OrderResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[id]
	if !ok {
		return nil, false, nil
	}
	return &v, true, nil
}

func (c *mapCache) Set(_ context.Context, id int64, value *domain.OrderResult, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = *value
	return nil
}

func (c *mapCache) Delete(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	return nil
}

var _ cache.OrderCache = (*mapCache)(nil)

func TestGetOrderIsCachedAndInvalidated(t *testing.T) {
	orders := &mapCache{entries: map[int64]domain.OrderResult{}}
	svc, _ := newTestService(WithOrderCache(orders, time.Minute))
	ctx := context.Background()

	created, err := svc.CreateOrder(ctx, cashierActor, domain.CreateOrderRequest{
		Lines: []domain.OrderLineRequest{{ProductID: 3, Qty: 1}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := svc.GetOrder(ctx, created.OrderID); err != nil {
		t.Fatalf("get order: %v", err)
	}
	if _, ok := orders.entries[created.OrderID]; !ok {
		t.Fatalf("expected order to be cached")
	}

	if _, err := svc.UpdateOrderStatus(ctx, cashierActor, created.OrderID, domain.OrderStatusUpdateRequest{Status: "completed"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, ok := orders.entries[created.OrderID]; ok {
		t.Fatalf("expected cache entry to be dropped on status change")
	}
	got, err := svc.GetOrder(ctx, created.OrderID)
	if err != nil || got.Status != domain.OrderStatusCompleted {
		t.Fatalf("expected completed order, got %+v (%v)", got.Status, err)
	}

	if _, err := svc.GetOrder(ctx, 999); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListOrdersFilters(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	customerID := int64(2)

	for i := 0; i < 3; i++ {
		req := domain.CreateOrderRequest{Lines: []domain.OrderLineRequest{{ProductID: 3, Qty: 1}}}
		if i == 0 {
			req.CustomerID = &customerID
		}
		if _, err := svc.CreateOrder(ctx, cashierActor, req); err != nil {
			t.Fatalf("create order: %v", err)
		}
	}

	all, err := svc.ListOrders(ctx, domain.OrderFilter{})
	if err != nil || len(all) != 3 {
		t.Fatalf("expected 3 orders, got %d (%v)", len(all), err)
	}
	mine, _ := svc.ListOrders(ctx, domain.OrderFilter{CustomerID: &customerID})
	if len(mine) != 1 || mine[0].CustomerName != "Rafael Gomes" {
		t.Fatalf("expected one order for customer 2, got %+v", mine)
	}
	if _, err := svc.ListOrders(ctx, domain.OrderFilter{Status: "lost"}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid status filter to fail, got %v", err)
	}
}

func TestListProductsIncludesStock(t *testing.T) {
	svc, _ := newTestService()

	products, err := svc.ListProducts(context.Background())
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(products) != 3 || products[0].AvailableQty != 8 || products[2].AvailableQty != 40 {
		t.Fatalf("unexpected product stock %+v", products)
	}
}

func TestReceiveStockCreditsWarehouse(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	warehouse := int64(2)

	if _, err := svc.ReceiveStock(ctx, cashierActor, domain.StockReceiptRequest{ProductID: 2, WarehouseID: &warehouse, Quantity: 5}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected cashier to be forbidden, got %v", err)
	}

	entry, err := svc.ReceiveStock(ctx, adminActor, domain.StockReceiptRequest{ProductID: 2, WarehouseID: &warehouse, Quantity: 5})
	if err != nil {
		t.Fatalf("receive stock: %v", err)
	}
	if entry.Quantity != 5 {
		t.Fatalf("expected new entry of 5, got %d", entry.Quantity)
	}

	detail, err := svc.ProductInventory(ctx, 2)
	if err != nil {
		t.Fatalf("product inventory: %v", err)
	}
	if detail.AvailableQty != 15 || len(detail.Entries) != 2 || detail.Entries[1].WarehouseName != "North Depot" {
		t.Fatalf("unexpected inventory detail %+v", detail)
	}

	if _, err := svc.ReceiveStock(ctx, adminActor, domain.StockReceiptRequest{ProductID: 2, Quantity: 0}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected zero quantity to be rejected, got %v", err)
	}
	if _, err := svc.ProductInventory(ctx, 77); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected unknown product to be not found, got %v", err)
	}
}

func TestCreatePromotionValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	valid := domain.PromotionCreateRequest{
		Code:          "SPRING",
		DiscountType:  domain.DiscountTypePercent,
		DiscountValue: decimal.NewFromInt(10),
		StartDate:     "2026-03-01",
		EndDate:       "2026-03-31",
	}

	if _, err := svc.CreatePromotion(ctx, cashierActor, valid); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected cashier to be forbidden, got %v", err)
	}

	bad := []func(r *domain.PromotionCreateRequest){
		func(r *domain.PromotionCreateRequest) { r.Code = " " },
		func(r *domain.PromotionCreateRequest) { r.DiscountValue = decimal.NewFromInt(101) },
		func(r *domain.PromotionCreateRequest) { r.DiscountType = "bogo" },
		func(r *domain.PromotionCreateRequest) { r.EndDate = "2026-02-01" },
		func(r *domain.PromotionCreateRequest) { r.StartDate = "March" },
		func(r *domain.PromotionCreateRequest) { r.ApplyScope = domain.ApplyScopeProduct },
		func(r *domain.PromotionCreateRequest) { r.ApplyScope = "basket" },
		func(r *domain.PromotionCreateRequest) {
			r.ApplyScope = domain.ApplyScopeCombo
			r.ProductIDs = []int64{1, 404}
		},
	}
	for i, mutate := range bad {
		req := valid
		mutate(&req)
		if _, err := svc.CreatePromotion(ctx, adminActor, req); !errors.Is(err, store.ErrInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}

	promo, err := svc.CreatePromotion(ctx, adminActor, valid)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if promo.Status != domain.PromotionStatusActive {
		t.Fatalf("expected active promotion, got %s", promo.Status)
	}
	valid.Code = "spring"
	if _, err := svc.CreatePromotion(ctx, adminActor, valid); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected duplicate code, got %v", err)
	}
}

func TestDeletePromotionFreesCode(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	promo := createPromo(t, svc, domain.PromotionCreateRequest{
		Code:          "FLASH",
		DiscountType:  domain.DiscountTypeFixed,
		DiscountValue: decimal.NewFromInt(5),
	})

	if err := svc.DeletePromotion(ctx, adminActor, promo.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.DeletePromotion(ctx, adminActor, promo.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected second delete to be not found, got %v", err)
	}

	result, err := svc.CreateOrder(ctx, cashierActor, domain.CreateOrderRequest{
		PromoCode: "FLASH",
		Lines:     []domain.OrderLineRequest{{ProductID: 3, Qty: 1}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if result.PromotionNote != promotion.ReasonNotFound {
		t.Fatalf("expected deleted code to be unknown, got %q", result.PromotionNote)
	}

	createPromo(t, svc, domain.PromotionCreateRequest{
		Code:          "FLASH",
		DiscountType:  domain.DiscountTypeFixed,
		DiscountValue: decimal.NewFromInt(5),
	})
}

func TestRefreshPromotionStatusesPersistsChanges(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	createPromo(t, svc, domain.PromotionCreateRequest{
		Code:          "WINTER",
		DiscountType:  domain.DiscountTypePercent,
		DiscountValue: decimal.NewFromInt(5),
		StartDate:     "2026-01-01",
		EndDate:       "2026-02-28",
	})

	later := New(repo, WithClock(func() time.Time { return time.Date(2027, time.January, 2, 0, 0, 0, 0, time.UTC) }))
	count, err := later.RefreshPromotionStatuses(ctx, adminActor)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no status changes, got %d", count)
	}

	summer := createPromo(t, svc, domain.PromotionCreateRequest{
		Code:          "SUMMER",
		DiscountType:  domain.DiscountTypePercent,
		DiscountValue: decimal.NewFromInt(5),
	})
	if summer.Status != domain.PromotionStatusActive {
		t.Fatalf("expected SUMMER active on creation")
	}
	count, err = later.RefreshPromotionStatuses(ctx, adminActor)
	if err != nil || count != 1 {
		t.Fatalf("expected SUMMER to expire, got %d (%v)", count, err)
	}
	stored, _ := repo.GetPromotion(ctx, summer.ID)
	if stored.Status != domain.PromotionStatusInactive {
		t.Fatalf("expected stored status inactive, got %s", stored.Status)
	}
}
