package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"storeops/backend/internal/domain"
	"storeops/backend/internal/store"
	"storeops/backend/internal/xid"
)

//go:embed schema.sql
var schema string

var _ store.Repository = (*Store)(nil)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db           *sql.DB
	txAttempts   int
	retryBackoff time.Duration
}

type Option func(*Store)

// WithTxAttempts bounds how many times a unit of work is replayed after a
// serialization failure or deadlock.
func WithTxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.txAttempts = n
		}
	}
}

func New(ctx context.Context, databaseURL string, opts ...Option) (*Store, error) {
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

	s := &Store{db: db, txAttempts: 3, retryBackoff: 20 * time.Millisecond}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates missing tables and indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.txAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isRetryable(err) || ctx.Err() != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * s.retryBackoff):
		}
	}
	return fmt.Errorf("%w: gave up after %d attempts: %v", store.ErrPersistence, s.txAttempts, err)
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := fn(ctx, &tx{q: pgTx}); err != nil {
		return err
	}
	return pgTx.Commit()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, unit, price_cents, active
		FROM products
		WHERE active = true
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Unit, &p.PriceCents, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	return productsByIDs(ctx, s.db, ids)
}

func (s *Store) GetStockTotals(ctx context.Context, productIDs []int64) (map[int64]int, error) {
	totals := make(map[int64]int, len(productIDs))
	for _, id := range productIDs {
		totals[id] = 0
	}
	if len(productIDs) == 0 {
		return totals, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, COALESCE(SUM(quantity), 0)
		FROM inventory_entries
		WHERE product_id = ANY($1)
		GROUP BY product_id
	`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var qty int
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		totals[id] = qty
	}
	return totals, rows.Err()
}

func (s *Store) ListInventoryEntries(ctx context.Context, productID int64) ([]domain.InventoryEntry, error) {
	return inventoryEntries(ctx, s.db, productID, false)
}

func (s *Store) ListWarehouses(ctx context.Context) ([]domain.Warehouse, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, address FROM warehouses ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Warehouse, 0, 8)
	for rows.Next() {
		var w domain.Warehouse
		if err := rows.Scan(&w.ID, &w.Name, &w.Address); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	return loadOrder(ctx, s.db, id, false)
}

func (s *Store) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	where := []string{"1=1"}
	args := make([]any, 0, 4)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.CustomerID != nil {
		args = append(args, *filter.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id FROM orders
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d
	`, strings.Join(where, " AND "), len(args)), args...)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, limit)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	orders := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		order, err := loadOrder(ctx, s.db, id, false)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

func (s *Store) ListPromotions(ctx context.Context) ([]domain.Promotion, error) {
	return listPromotions(ctx, s.db, false)
}

func (s *Store) GetPromotion(ctx context.Context, id int64) (*domain.Promotion, error) {
	return getPromotion(ctx, s.db, `WHERE id = $1`, false, id)
}

func (s *Store) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `SELECT id, full_name, phone FROM customers WHERE id = $1`, id).
		Scan(&c.ID, &c.FullName, &c.Phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*domain.UserAccount, error) {
	var u domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, full_name, password, role, active, created_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Username, &u.FullName, &u.Password, &u.Role, &u.Active, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	oldValues, err := jsonOrNull(entry.OldValues)
	if err != nil {
		return err
	}
	newValues, err := jsonOrNull(entry.NewValues)
	if err != nil {
		return err
	}
	metadata, err := jsonOrNull(entry.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, action, entity_type, entity_id, entity_name, summary,
			actor_id, actor_name, actor_role, old_values, new_values, metadata, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, entry.ID, entry.Action, entry.EntityType, entry.EntityID, entry.EntityName, entry.Summary,
		entry.ActorID, entry.ActorName, entry.ActorRole, oldValues, newValues, metadata, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error) {
	where := []string{"1=1"}
	args := make([]any, 0, 5)
	if filter.EntityType != "" {
		args = append(args, filter.EntityType)
		where = append(where, fmt.Sprintf("lower(entity_type) = lower($%d)", len(args)))
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		where = append(where, fmt.Sprintf("lower(action) = lower($%d)", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, action, entity_type, entity_id, entity_name, summary,
			actor_id, actor_name, actor_role, old_values, new_values, metadata, created_at
		FROM audit_logs
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d
	`, strings.Join(where, " AND "), len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		var oldValues, newValues, metadata []byte
		if err := rows.Scan(&entry.ID, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.EntityName, &entry.Summary,
			&entry.ActorID, &entry.ActorName, &entry.ActorRole, &oldValues, &newValues, &metadata, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if entry.OldValues, err = decodeJSONMap(oldValues); err != nil {
			return nil, err
		}
		if entry.NewValues, err = decodeJSONMap(newValues); err != nil {
			return nil, err
		}
		if entry.Metadata, err = decodeJSONMap(metadata); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || user.Password == "" {
		return nil, store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, full_name, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, user.Username, user.FullName, user.Password, user.Role, user.Active, user.CreatedAt).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, full_name, password, role, active, created_at
		FROM users
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.ID, &u.Username, &u.FullName, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = $2 WHERE username = $1`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// tx implements store.Tx. Row reads that feed a write lock with FOR UPDATE.
type tx struct {
	q queryer
}

func (t *tx) GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	return productsByIDs(ctx, t.q, ids)
}

func (t *tx) ListInventoryEntries(ctx context.Context, productID int64) ([]domain.InventoryEntry, error) {
	return inventoryEntries(ctx, t.q, productID, true)
}

func (t *tx) UpdateInventoryQuantity(ctx context.Context, entryID int64, qty int, at time.Time) error {
	if qty < 0 {
		return fmt.Errorf("%w: negative quantity for entry %d", store.ErrInvalidInput, entryID)
	}
	res, err := t.q.ExecContext(ctx, `
		UPDATE inventory_entries SET quantity = $2, updated_at = $3 WHERE id = $1
	`, entryID, qty, at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) AddInventory(ctx context.Context, productID int64, warehouseID *int64, qty int, at time.Time) (*domain.InventoryEntry, error) {
	entry := domain.InventoryEntry{ProductID: productID, WarehouseID: warehouseID}
	var wh sql.NullInt64
	err := t.q.QueryRowContext(ctx, `
		INSERT INTO inventory_entries (product_id, warehouse_id, quantity, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (product_id, COALESCE(warehouse_id, 0))
		DO UPDATE SET quantity = inventory_entries.quantity + EXCLUDED.quantity, updated_at = EXCLUDED.updated_at
		RETURNING id, warehouse_id, quantity, updated_at
	`, productID, nullableID(warehouseID), qty, at).Scan(&entry.ID, &wh, &entry.Quantity, &entry.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("product %d or warehouse: %w", productID, store.ErrNotFound)
		}
		return nil, err
	}
	entry.WarehouseID = idFromNull(wh)
	return &entry, nil
}

func (t *tx) FindPromotionByCode(ctx context.Context, code string) (*domain.Promotion, error) {
	return getPromotion(ctx, t.q, `WHERE upper(code) = upper($1) AND status <> 'deleted'`, true, strings.TrimSpace(code))
}

func (t *tx) GetPromotion(ctx context.Context, id int64) (*domain.Promotion, error) {
	return getPromotion(ctx, t.q, `WHERE id = $1`, true, id)
}

func (t *tx) ListPromotions(ctx context.Context) ([]domain.Promotion, error) {
	return listPromotions(ctx, t.q, true)
}

func (t *tx) CreatePromotion(ctx context.Context, promo domain.Promotion) (*domain.Promotion, error) {
	if promo.CreatedAt.IsZero() {
		promo.CreatedAt = time.Now().UTC()
	}
	err := t.q.QueryRowContext(ctx, `
		INSERT INTO promotions (
			code, description, discount_type, discount_value, start_date, end_date,
			min_order_cents, usage_limit, used_count, status, apply_scope, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id
	`, promo.Code, promo.Description, promo.DiscountType, promo.DiscountValue, promo.StartDate, promo.EndDate,
		promo.MinOrderCents, promo.UsageLimit, promo.UsedCount, promo.Status, promo.ApplyScope, promo.CreatedAt).Scan(&promo.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("promotion code %s: %w", promo.Code, store.ErrDuplicate)
		}
		return nil, err
	}
	for _, productID := range promo.ProductIDs {
		if _, err := t.q.ExecContext(ctx, `
			INSERT INTO promotion_products (promotion_id, product_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, promo.ID, productID); err != nil {
			if isForeignKeyViolation(err) {
				return nil, fmt.Errorf("product %d: %w", productID, store.ErrNotFound)
			}
			return nil, err
		}
	}
	return &promo, nil
}

func (t *tx) UpdatePromotion(ctx context.Context, promo domain.Promotion) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE promotions SET used_count = $2, status = $3 WHERE id = $1
	`, promo.ID, promo.UsedCount, promo.Status)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if len(order.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}

	err := t.q.QueryRowContext(ctx, `
		INSERT INTO orders (
			customer_id, user_id, promotion_id, status,
			subtotal_cents, discount_cents, total_cents, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id
	`, nullableID(order.CustomerID), nullableID(order.UserID), nullableID(order.PromotionID), order.Status,
		order.SubtotalCents, order.DiscountCents, order.TotalCents, order.CreatedAt, order.UpdatedAt).Scan(&order.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: unknown customer, user or promotion", store.ErrInvalidInput)
		}
		return nil, err
	}

	lines := make([]domain.OrderLine, len(order.Lines))
	for i, line := range order.Lines {
		line.OrderID = order.ID
		if err := t.q.QueryRowContext(ctx, `
			INSERT INTO order_lines (order_id, product_id, qty, unit_price_cents, subtotal_cents, net_subtotal_cents)
			VALUES ($1,$2,$3,$4,$5,$6)
			RETURNING id
		`, line.OrderID, line.ProductID, line.Qty, line.UnitPriceCents, line.SubtotalCents, line.NetSubtotalCents).Scan(&line.ID); err != nil {
			return nil, err
		}
		for _, a := range line.Allocations {
			if _, err := t.q.ExecContext(ctx, `
				INSERT INTO order_line_allocations (order_line_id, entry_id, warehouse_id, quantity)
				VALUES ($1,$2,$3,$4)
			`, line.ID, a.EntryID, nullableID(a.WarehouseID), a.Quantity); err != nil {
				return nil, err
			}
		}
		lines[i] = line
	}
	order.Lines = lines

	if order.Payment != nil {
		payment := *order.Payment
		payment.OrderID = order.ID
		if err := t.q.QueryRowContext(ctx, `
			INSERT INTO payments (order_id, amount_cents, method, paid_at)
			VALUES ($1,$2,$3,$4)
			RETURNING id
		`, payment.OrderID, payment.AmountCents, payment.Method, payment.PaidAt).Scan(&payment.ID); err != nil {
			return nil, err
		}
		order.Payment = &payment
	}

	return &order, nil
}

func (t *tx) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	return loadOrder(ctx, t.q, id, true)
}

func (t *tx) UpdateOrderStatus(ctx context.Context, id int64, status string, at time.Time) error {
	res, err := t.q.ExecContext(ctx, `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`, id, status, at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) ReplaceLineAllocations(ctx context.Context, orderID int64, lineID int64, allocations []domain.Allocation) error {
	var owner int64
	err := t.q.QueryRowContext(ctx, `SELECT order_id FROM order_lines WHERE id = $1`, lineID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != orderID) {
		return fmt.Errorf("order line %d: %w", lineID, store.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if _, err := t.q.ExecContext(ctx, `DELETE FROM order_line_allocations WHERE order_line_id = $1`, lineID); err != nil {
		return err
	}
	for _, a := range allocations {
		if _, err := t.q.ExecContext(ctx, `
			INSERT INTO order_line_allocations (order_line_id, entry_id, warehouse_id, quantity)
			VALUES ($1,$2,$3,$4)
		`, lineID, a.EntryID, nullableID(a.WarehouseID), a.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func productsByIDs(ctx context.Context, q queryer, ids []int64) (map[int64]domain.Product, error) {
	out := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, unit, price_cents, active
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Unit, &p.PriceCents, &p.Active); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func inventoryEntries(ctx context.Context, q queryer, productID int64, lock bool) ([]domain.InventoryEntry, error) {
	query := `
		SELECT id, product_id, warehouse_id, quantity, updated_at
		FROM inventory_entries
		WHERE product_id = $1
		ORDER BY warehouse_id ASC NULLS LAST, id ASC
	`
	if lock {
		query += " FOR UPDATE"
	}
	rows, err := q.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.InventoryEntry, 0, 4)
	for rows.Next() {
		var e domain.InventoryEntry
		var wh sql.NullInt64
		if err := rows.Scan(&e.ID, &e.ProductID, &wh, &e.Quantity, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.WarehouseID = idFromNull(wh)
		out = append(out, e)
	}
	return out, rows.Err()
}

const promotionColumns = `
	id, code, description, discount_type, discount_value, start_date, end_date,
	min_order_cents, usage_limit, used_count, status, apply_scope, created_at
`

func scanPromotion(scan func(dest ...any) error) (domain.Promotion, error) {
	var p domain.Promotion
	err := scan(&p.ID, &p.Code, &p.Description, &p.DiscountType, &p.DiscountValue, &p.StartDate, &p.EndDate,
		&p.MinOrderCents, &p.UsageLimit, &p.UsedCount, &p.Status, &p.ApplyScope, &p.CreatedAt)
	return p, err
}

func getPromotion(ctx context.Context, q queryer, where string, lock bool, arg any) (*domain.Promotion, error) {
	query := "SELECT " + promotionColumns + " FROM promotions " + where
	if lock {
		query += " FOR UPDATE"
	}
	p, err := scanPromotion(q.QueryRowContext(ctx, query, arg).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	products, err := promotionProducts(ctx, q, []int64{p.ID})
	if err != nil {
		return nil, err
	}
	p.ProductIDs = products[p.ID]
	return &p, nil
}

func listPromotions(ctx context.Context, q queryer, lock bool) ([]domain.Promotion, error) {
	query := "SELECT " + promotionColumns + " FROM promotions WHERE status <> 'deleted' ORDER BY id"
	if lock {
		query += " FOR UPDATE"
	}
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	promos := make([]domain.Promotion, 0, 16)
	ids := make([]int64, 0, 16)
	for rows.Next() {
		p, err := scanPromotion(rows.Scan)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		promos = append(promos, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	products, err := promotionProducts(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for i := range promos {
		promos[i].ProductIDs = products[promos[i].ID]
	}
	return promos, nil
}

func promotionProducts(ctx context.Context, q queryer, promotionIDs []int64) (map[int64][]int64, error) {
	out := make(map[int64][]int64, len(promotionIDs))
	if len(promotionIDs) == 0 {
		return out, nil
	}
	rows, err := q.QueryContext(ctx, `
		SELECT promotion_id, product_id
		FROM promotion_products
		WHERE promotion_id = ANY($1)
		ORDER BY promotion_id, product_id
	`, promotionIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var promoID, productID int64
		if err := rows.Scan(&promoID, &productID); err != nil {
			return nil, err
		}
		out[promoID] = append(out[promoID], productID)
	}
	return out, rows.Err()
}

func loadOrder(ctx context.Context, q queryer, id int64, lock bool) (*domain.Order, error) {
	query := `
		SELECT id, customer_id, user_id, promotion_id, status,
			subtotal_cents, discount_cents, total_cents, created_at, updated_at
		FROM orders WHERE id = $1
	`
	if lock {
		query += " FOR UPDATE"
	}
	var order domain.Order
	var customerID, userID, promotionID sql.NullInt64
	err := q.QueryRowContext(ctx, query, id).Scan(&order.ID, &customerID, &userID, &promotionID, &order.Status,
		&order.SubtotalCents, &order.DiscountCents, &order.TotalCents, &order.CreatedAt, &order.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	order.CustomerID = idFromNull(customerID)
	order.UserID = idFromNull(userID)
	order.PromotionID = idFromNull(promotionID)

	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, product_id, qty, unit_price_cents, subtotal_cents, net_subtotal_cents
		FROM order_lines WHERE order_id = $1 ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ProductID, &line.Qty, &line.UnitPriceCents, &line.SubtotalCents, &line.NetSubtotalCents); err != nil {
			_ = rows.Close()
			return nil, err
		}
		order.Lines = append(order.Lines, line)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	allocRows, err := q.QueryContext(ctx, `
		SELECT a.order_line_id, a.entry_id, a.warehouse_id, a.quantity
		FROM order_line_allocations a
		JOIN order_lines l ON l.id = a.order_line_id
		WHERE l.order_id = $1
		ORDER BY a.order_line_id, a.warehouse_id NULLS LAST
	`, id)
	if err != nil {
		return nil, err
	}
	byLine := make(map[int64][]domain.Allocation)
	for allocRows.Next() {
		var lineID int64
		var a domain.Allocation
		var wh sql.NullInt64
		if err := allocRows.Scan(&lineID, &a.EntryID, &wh, &a.Quantity); err != nil {
			_ = allocRows.Close()
			return nil, err
		}
		a.WarehouseID = idFromNull(wh)
		byLine[lineID] = append(byLine[lineID], a)
	}
	if err := allocRows.Err(); err != nil {
		_ = allocRows.Close()
		return nil, err
	}
	_ = allocRows.Close()
	for i := range order.Lines {
		order.Lines[i].Allocations = byLine[order.Lines[i].ID]
	}

	var payment domain.Payment
	err = q.QueryRowContext(ctx, `
		SELECT id, order_id, amount_cents, method, paid_at FROM payments WHERE order_id = $1
	`, id).Scan(&payment.ID, &payment.OrderID, &payment.AmountCents, &payment.Method, &payment.PaidAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	default:
		order.Payment = &payment
	}

	return &order, nil
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func idFromNull(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

func jsonOrNull(v map[string]any) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func decodeJSONMap(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	return hasCode(err, "23505")
}

func isForeignKeyViolation(err error) bool {
	return hasCode(err, "23503")
}

// isRetryable reports serialization failures and deadlocks, which are safe
// to replay from the start of the unit of work.
func isRetryable(err error) bool {
	return hasCode(err, "40001") || hasCode(err, "40P01")
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
