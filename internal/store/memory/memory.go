package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"storeops/backend/internal/domain"
	"storeops/backend/internal/store"
	"storeops/backend/internal/xid"
)

// data holds every table a unit of work can change. Row values are
// replaced, never mutated in place, so a shallow map copy isolates a
// transaction from the committed state.
type data struct {
	products   map[int64]domain.Product
	warehouses map[int64]domain.Warehouse
	inventory  map[int64]domain.InventoryEntry
	customers  map[int64]domain.Customer
	promotions map[int64]domain.Promotion
	orders     map[int64]domain.Order
	sequences  map[string]int64
}

func newData() *data {
	return &data{
		products:   make(map[int64]domain.Product),
		warehouses: make(map[int64]domain.Warehouse),
		inventory:  make(map[int64]domain.InventoryEntry),
		customers:  make(map[int64]domain.Customer),
		promotions: make(map[int64]domain.Promotion),
		orders:     make(map[int64]domain.Order),
		sequences:  make(map[string]int64),
	}
}

func (d *data) clone() *data {
	return &data{
		products:   maps.Clone(d.products),
		warehouses: maps.Clone(d.warehouses),
		inventory:  maps.Clone(d.inventory),
		customers:  maps.Clone(d.customers),
		promotions: maps.Clone(d.promotions),
		orders:     maps.Clone(d.orders),
		sequences:  maps.Clone(d.sequences),
	}
}

func (d *data) next(name string) int64 {
	d.sequences[name]++
	return d.sequences[name]
}

func (d *data) bump(name string, id int64) {
	if id > d.sequences[name] {
		d.sequences[name] = id
	}
}

var _ store.Repository = (*Store)(nil)

type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *data

	users      map[int64]domain.UserAccount
	lastUserID int64
	auditLogs  []domain.AuditLog
}

func New() *Store {
	return &Store{
		data:      newData(),
		users:     make(map[int64]domain.UserAccount),
		auditLogs: make([]domain.AuditLog, 0, 128),
	}
}

// WithinTx serializes units of work. fn sees a private copy of the state
// that replaces the committed one only when fn succeeds before ctx ends.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	work := s.data.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &tx{d: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = work
	s.mu.Unlock()
	return nil
}

func (s *Store) read() *data {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	d := s.read()
	products := make([]domain.Product, 0, len(d.products))
	for _, p := range d.products {
		if p.Active {
			products = append(products, p)
		}
	}
	slices.SortFunc(products, func(a, b domain.Product) int { return cmp.Compare(a.ID, b.ID) })
	return products, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	return productsByIDs(s.read(), ids), nil
}

func (s *Store) GetStockTotals(_ context.Context, productIDs []int64) (map[int64]int, error) {
	d := s.read()
	wanted := make(map[int64]bool, len(productIDs))
	totals := make(map[int64]int, len(productIDs))
	for _, id := range productIDs {
		wanted[id] = true
		totals[id] = 0
	}
	for _, e := range d.inventory {
		if wanted[e.ProductID] && e.Quantity > 0 {
			totals[e.ProductID] += e.Quantity
		}
	}
	return totals, nil
}

func (s *Store) ListInventoryEntries(_ context.Context, productID int64) ([]domain.InventoryEntry, error) {
	return entriesFor(s.read(), productID), nil
}

func (s *Store) ListWarehouses(_ context.Context) ([]domain.Warehouse, error) {
	d := s.read()
	out := slices.Collect(maps.Values(d.warehouses))
	slices.SortFunc(out, func(a, b domain.Warehouse) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) GetOrder(_ context.Context, id int64) (*domain.Order, error) {
	order, ok := s.read().orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &order, nil
}

func (s *Store) ListOrders(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	d := s.read()
	out := make([]domain.Order, 0, 32)
	for _, o := range d.orders {
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.CustomerID != nil && (o.CustomerID == nil || *o.CustomerID != *filter.CustomerID) {
			continue
		}
		if !filter.From.IsZero() && o.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !o.CreatedAt.Before(filter.To) {
			continue
		}
		out = append(out, o)
	}
	slices.SortFunc(out, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) ListPromotions(_ context.Context) ([]domain.Promotion, error) {
	return promotionsOf(s.read()), nil
}

func (s *Store) GetPromotion(_ context.Context, id int64) (*domain.Promotion, error) {
	p, ok := s.read().promotions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetCustomer(_ context.Context, id int64) (*domain.Customer, error) {
	c, ok := s.read().customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) GetUserByID(_ context.Context, id int64) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if filter.EntityType != "" && !strings.EqualFold(entry.EntityType, filter.EntityType) {
			continue
		}
		if filter.Action != "" && !strings.EqualFold(entry.Action, filter.Action) {
			continue
		}
		if !filter.From.IsZero() && entry.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !entry.CreatedAt.Before(filter.To) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortStableFunc(result, func(a, b domain.AuditLog) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.Password == "" {
		return nil, store.ErrInvalidInput
	}
	for _, existing := range s.users {
		if existing.Username == username {
			return nil, store.ErrDuplicate
		}
	}
	s.lastUserID++
	user.ID = s.lastUserID
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.ID] = user
	return &user, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := slices.Collect(maps.Values(s.users))
	slices.SortFunc(users, func(a, b domain.UserAccount) int { return cmp.Compare(a.ID, b.ID) })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, user := range s.users {
		if user.Username == username {
			user.Password = password
			s.users[id] = user
			return nil
		}
	}
	return store.ErrNotFound
}

// tx implements store.Tx over a private copy of the state.
type tx struct {
	d *data
}

func (t *tx) GetProductsByIDs(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	return productsByIDs(t.d, ids), nil
}

func (t *tx) ListInventoryEntries(_ context.Context, productID int64) ([]domain.InventoryEntry, error) {
	return entriesFor(t.d, productID), nil
}

func (t *tx) UpdateInventoryQuantity(_ context.Context, entryID int64, qty int, at time.Time) error {
	if qty < 0 {
		return fmt.Errorf("%w: negative quantity for entry %d", store.ErrInvalidInput, entryID)
	}
	entry, ok := t.d.inventory[entryID]
	if !ok {
		return store.ErrNotFound
	}
	entry.Quantity = qty
	entry.UpdatedAt = at
	t.d.inventory[entryID] = entry
	return nil
}

func (t *tx) AddInventory(_ context.Context, productID int64, warehouseID *int64, qty int, at time.Time) (*domain.InventoryEntry, error) {
	if _, ok := t.d.products[productID]; !ok {
		return nil, fmt.Errorf("product %d: %w", productID, store.ErrNotFound)
	}
	if warehouseID != nil {
		if _, ok := t.d.warehouses[*warehouseID]; !ok {
			return nil, fmt.Errorf("warehouse %d: %w", *warehouseID, store.ErrNotFound)
		}
	}

	for id, entry := range t.d.inventory {
		if entry.ProductID != productID || !sameWarehouse(entry.WarehouseID, warehouseID) {
			continue
		}
		entry.Quantity += qty
		entry.UpdatedAt = at
		t.d.inventory[id] = entry
		return &entry, nil
	}

	entry := domain.InventoryEntry{
		ID:          t.d.next("inventory"),
		ProductID:   productID,
		WarehouseID: warehouseID,
		Quantity:    qty,
		UpdatedAt:   at,
	}
	t.d.inventory[entry.ID] = entry
	return &entry, nil
}

func (t *tx) FindPromotionByCode(_ context.Context, code string) (*domain.Promotion, error) {
	code = strings.TrimSpace(code)
	for _, p := range t.d.promotions {
		if p.Status != domain.PromotionStatusDeleted && strings.EqualFold(p.Code, code) {
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) GetPromotion(_ context.Context, id int64) (*domain.Promotion, error) {
	p, ok := t.d.promotions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (t *tx) ListPromotions(_ context.Context) ([]domain.Promotion, error) {
	return promotionsOf(t.d), nil
}

func (t *tx) CreatePromotion(ctx context.Context, promo domain.Promotion) (*domain.Promotion, error) {
	if _, err := t.FindPromotionByCode(ctx, promo.Code); err == nil {
		return nil, fmt.Errorf("promotion code %s: %w", promo.Code, store.ErrDuplicate)
	}
	promo.ID = t.d.next("promotion")
	if promo.CreatedAt.IsZero() {
		promo.CreatedAt = time.Now().UTC()
	}
	promo.ProductIDs = slices.Clone(promo.ProductIDs)
	t.d.promotions[promo.ID] = promo
	return &promo, nil
}

func (t *tx) UpdatePromotion(_ context.Context, promo domain.Promotion) error {
	if _, ok := t.d.promotions[promo.ID]; !ok {
		return store.ErrNotFound
	}
	promo.ProductIDs = slices.Clone(promo.ProductIDs)
	t.d.promotions[promo.ID] = promo
	return nil
}

func (t *tx) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	if len(order.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}
	order.ID = t.d.next("order")
	lines := make([]domain.OrderLine, len(order.Lines))
	for i, line := range order.Lines {
		line.ID = t.d.next("order_line")
		line.OrderID = order.ID
		line.Allocations = slices.Clone(line.Allocations)
		lines[i] = line
	}
	order.Lines = lines
	if order.Payment != nil {
		payment := *order.Payment
		payment.ID = t.d.next("payment")
		payment.OrderID = order.ID
		order.Payment = &payment
	}
	t.d.orders[order.ID] = order
	return &order, nil
}

func (t *tx) GetOrder(_ context.Context, id int64) (*domain.Order, error) {
	order, ok := t.d.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &order, nil
}

func (t *tx) UpdateOrderStatus(_ context.Context, id int64, status string, at time.Time) error {
	order, ok := t.d.orders[id]
	if !ok {
		return store.ErrNotFound
	}
	order.Status = status
	order.UpdatedAt = at
	t.d.orders[id] = order
	return nil
}

func (t *tx) ReplaceLineAllocations(_ context.Context, orderID int64, lineID int64, allocations []domain.Allocation) error {
	order, ok := t.d.orders[orderID]
	if !ok {
		return store.ErrNotFound
	}
	lines := slices.Clone(order.Lines)
	idx := slices.IndexFunc(lines, func(l domain.OrderLine) bool { return l.ID == lineID })
	if idx < 0 {
		return fmt.Errorf("order line %d: %w", lineID, store.ErrNotFound)
	}
	lines[idx].Allocations = slices.Clone(allocations)
	order.Lines = lines
	t.d.orders[orderID] = order
	return nil
}

func productsByIDs(d *data, ids []int64) map[int64]domain.Product {
	out := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := d.products[id]; ok {
			out[id] = p
		}
	}
	return out
}

func entriesFor(d *data, productID int64) []domain.InventoryEntry {
	out := make([]domain.InventoryEntry, 0, 4)
	for _, e := range d.inventory {
		if e.ProductID == productID {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b domain.InventoryEntry) int {
		return cmp.Compare(warehouseKey(a), warehouseKey(b))
	})
	return out
}

func promotionsOf(d *data) []domain.Promotion {
	out := make([]domain.Promotion, 0, len(d.promotions))
	for _, p := range d.promotions {
		if p.Status != domain.PromotionStatusDeleted {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b domain.Promotion) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// warehouseKey sorts warehouse entries first by id and the default
// location after them.
func warehouseKey(e domain.InventoryEntry) string {
	if e.WarehouseID == nil {
		return "~" + strconv.FormatInt(e.ID, 10)
	}
	return fmt.Sprintf("%020d:%020d", *e.WarehouseID, e.ID)
}

func sameWarehouse(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
