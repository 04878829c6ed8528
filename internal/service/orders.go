package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"storeops/backend/internal/audit"
	"storeops/backend/internal/domain"
	"storeops/backend/internal/inventory"
	"storeops/backend/internal/promotion"
	"storeops/backend/internal/store"
)

// CreateOrder validates, prices, discounts and commits an order in one
// unit of work. Stock for every line is checked before anything is
// written, and a promotion that does not apply never fails the order.
func (s *Service) CreateOrder(ctx context.Context, actor domain.Actor, req domain.CreateOrderRequest) (result domain.OrderResult, err error) {
	ctx, span := s.startSpan(ctx, "service.CreateOrder")
	defer func() { endSpan(span, err) }()

	if s.orderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.orderTimeout)
		defer cancel()
	}

	lines, err := mergeLines(req.Lines)
	if err != nil {
		return domain.OrderResult{}, err
	}
	method := normalizePaymentMethod(req.PaymentMethod)
	if !isSupportedPaymentMethod(method) {
		return domain.OrderResult{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidInput, method)
	}
	if req.CustomerID != nil {
		if _, err := s.repo.GetCustomer(ctx, *req.CustomerID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.OrderResult{}, fmt.Errorf("%w: customer %d does not exist", store.ErrInvalidInput, *req.CustomerID)
			}
			return domain.OrderResult{}, classify(err)
		}
	}
	userID := req.UserID
	if userID == nil && actor.UserID > 0 {
		id := actor.UserID
		userID = &id
	}
	if userID != nil {
		if _, err := s.repo.GetUserByID(ctx, *userID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.OrderResult{}, fmt.Errorf("%w: user %d does not exist", store.ErrInvalidInput, *userID)
			}
			return domain.OrderResult{}, classify(err)
		}
	}
	code := promotion.NormalizeCode(req.PromoCode)
	span.SetAttributes(attribute.Int("order.lines", len(lines)), attribute.String("order.promo_code", code))

	var (
		created *domain.Order
		outcome promotion.Outcome
	)
	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		created, outcome = nil, promotion.Outcome{}

		ids := make([]int64, len(lines))
		for i, line := range lines {
			ids[i] = line.ProductID
		}
		products, err := tx.GetProductsByIDs(ctx, ids)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if p, ok := products[id]; !ok || !p.Active {
				return fmt.Errorf("%w: product %d is unknown or inactive", store.ErrInvalidInput, id)
			}
		}

		ledger := inventory.NewLedger(tx, s.clockUTC)
		var shortages []store.StockShortage
		for _, line := range lines {
			available, err := ledger.CheckAvailability(ctx, line.ProductID)
			if err != nil {
				return err
			}
			if available < line.Qty {
				shortages = append(shortages, store.StockShortage{
					ProductID: line.ProductID,
					Available: available,
					Requested: line.Qty,
				})
			}
		}
		if len(shortages) > 0 {
			return &store.InsufficientStockError{Shortages: shortages}
		}

		orderLines := make([]domain.OrderLine, len(lines))
		promoLines := make([]promotion.Line, len(lines))
		var subtotal int64
		for i, line := range lines {
			price := products[line.ProductID].PriceCents
			lineSubtotal := price * int64(line.Qty)
			orderLines[i] = domain.OrderLine{
				ProductID:        line.ProductID,
				Qty:              line.Qty,
				UnitPriceCents:   price,
				SubtotalCents:    lineSubtotal,
				NetSubtotalCents: lineSubtotal,
			}
			promoLines[i] = promotion.Line{ProductID: line.ProductID, SubtotalCents: lineSubtotal}
			subtotal += lineSubtotal
		}

		now := s.now()
		if code != "" {
			outcome, err = promotion.NewResolver(tx).Resolve(ctx, code, promoLines, now)
			if err != nil {
				return err
			}
		}
		var discount int64
		if outcome.Applied {
			discount = outcome.Discount.TotalCents
			for i, d := range outcome.Discount.LineCents {
				orderLines[i].NetSubtotalCents -= d
			}
		}

		for i := range orderLines {
			allocations, err := ledger.Reserve(ctx, orderLines[i].ProductID, orderLines[i].Qty)
			if err != nil {
				return err
			}
			orderLines[i].Allocations = allocations
		}

		at := now.UTC()
		total := subtotal - discount
		order := domain.Order{
			CustomerID:    req.CustomerID,
			UserID:        userID,
			Status:        domain.OrderStatusPending,
			SubtotalCents: subtotal,
			DiscountCents: discount,
			TotalCents:    total,
			CreatedAt:     at,
			UpdatedAt:     at,
			Lines:         orderLines,
			Payment:       &domain.Payment{AmountCents: total, Method: method, PaidAt: at},
		}
		if outcome.Applied {
			id := outcome.Promotion.ID
			order.PromotionID = &id
		}

		created, err = tx.CreateOrder(ctx, order)
		return err
	})
	if err != nil {
		return domain.OrderResult{}, classify(err)
	}

	span.SetAttributes(attribute.Int64("order.id", created.ID), attribute.Int64("order.total_cents", created.TotalCents))

	newValues := map[string]any{
		"status":         created.Status,
		"subtotal_cents": created.SubtotalCents,
		"discount_cents": created.DiscountCents,
		"total_cents":    created.TotalCents,
		"lines":          len(created.Lines),
		"customer_id":    nil,
	}
	if created.CustomerID != nil {
		newValues["customer_id"] = *created.CustomerID
	}
	if outcome.Applied {
		newValues["promo_code"] = outcome.Promotion.Code
	}
	s.recordAudit(ctx, actor, domain.AuditLog{
		Action:     audit.ActionCreate,
		EntityType: audit.EntityOrder,
		EntityID:   strconv.FormatInt(created.ID, 10),
		EntityName: orderCode(created.ID),
		Summary:    fmt.Sprintf("order %s created, total %d", orderCode(created.ID), created.TotalCents),
		NewValues:  newValues,
		Metadata:   map[string]any{"has_promotion": outcome.Applied},
	})

	result, hydrateErr := s.hydrate(ctx, created)
	if hydrateErr != nil {
		s.logger.Warn("order committed but could not be fully hydrated",
			zap.Int64("order_id", created.ID), zap.Error(hydrateErr))
	}
	if code != "" && !outcome.Applied {
		result.PromoCode = code
		result.PromotionNote = outcome.Reason
	}
	return result, nil
}

func (s *Service) GetOrder(ctx context.Context, id int64) (domain.OrderResult, error) {
	if cached, ok, err := s.orders.Get(ctx, id); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		s.logger.Warn("order cache read failed", zap.Int64("order_id", id), zap.Error(err))
	}

	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return domain.OrderResult{}, classify(err)
	}
	result, err := s.hydrate(ctx, order)
	if err != nil {
		return domain.OrderResult{}, classify(err)
	}
	if err := s.orders.Set(ctx, id, &result, s.orderTTL); err != nil {
		s.logger.Warn("order cache write failed", zap.Int64("order_id", id), zap.Error(err))
	}
	return result, nil
}

func (s *Service) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.OrderResult, error) {
	if filter.Status != "" && !isOrderStatus(filter.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", store.ErrInvalidInput, filter.Status)
	}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	orders, err := s.repo.ListOrders(ctx, filter)
	if err != nil {
		return nil, classify(err)
	}
	results := make([]domain.OrderResult, 0, len(orders))
	for i := range orders {
		result, err := s.hydrate(ctx, &orders[i])
		if err != nil {
			return nil, classify(err)
		}
		results = append(results, result)
	}
	return results, nil
}

// UpdateOrderStatus moves an order along pending -> paid -> completed or
// cancels it. Anything else is an override and needs an admin actor.
// Cancelling credits the recorded allocations back; leaving cancelled
// reserves the lines again.
func (s *Service) UpdateOrderStatus(ctx context.Context, actor domain.Actor, id int64, req domain.OrderStatusUpdateRequest) (result domain.OrderResult, err error) {
	ctx, span := s.startSpan(ctx, "service.UpdateOrderStatus")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.Int64("order.id", id))

	next := strings.ToLower(strings.TrimSpace(req.Status))
	if !isOrderStatus(next) {
		return domain.OrderResult{}, fmt.Errorf("%w: unknown status %q", store.ErrInvalidInput, req.Status)
	}

	var previous string
	overridden := false
	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		overridden = false
		order, err := tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		previous = order.Status
		if previous == next {
			return fmt.Errorf("%w: order is already %s", store.ErrInvalidTransition, next)
		}
		if !isForwardTransition(previous, next) {
			if !req.Override {
				return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, previous, next)
			}
			if err := requireAdmin(actor); err != nil {
				return err
			}
			overridden = true
		}

		ledger := inventory.NewLedger(tx, s.clockUTC)
		switch {
		case next == domain.OrderStatusCancelled:
			for _, line := range order.Lines {
				if err := ledger.Release(ctx, line.ProductID, line.Allocations); err != nil {
					return err
				}
			}
		case previous == domain.OrderStatusCancelled:
			var shortages []store.StockShortage
			for _, line := range order.Lines {
				available, err := ledger.CheckAvailability(ctx, line.ProductID)
				if err != nil {
					return err
				}
				if available < line.Qty {
					shortages = append(shortages, store.StockShortage{ProductID: line.ProductID, Available: available, Requested: line.Qty})
				}
			}
			if len(shortages) > 0 {
				return &store.InsufficientStockError{Shortages: shortages}
			}
			for _, line := range order.Lines {
				allocations, err := ledger.Reserve(ctx, line.ProductID, line.Qty)
				if err != nil {
					return err
				}
				if err := tx.ReplaceLineAllocations(ctx, order.ID, line.ID, allocations); err != nil {
					return err
				}
			}
		}

		return tx.UpdateOrderStatus(ctx, id, next, s.now().UTC())
	})
	if err != nil {
		return domain.OrderResult{}, classify(err)
	}

	if err := s.orders.Delete(ctx, id); err != nil {
		s.logger.Warn("order cache invalidation failed", zap.Int64("order_id", id), zap.Error(err))
	}

	s.recordAudit(ctx, actor, domain.AuditLog{
		Action:     audit.ActionUpdate,
		EntityType: audit.EntityOrder,
		EntityID:   strconv.FormatInt(id, 10),
		EntityName: orderCode(id),
		Summary:    fmt.Sprintf("order %s %s -> %s", orderCode(id), previous, next),
		OldValues:  map[string]any{"status": previous},
		NewValues:  map[string]any{"status": next},
		Metadata:   map[string]any{"override": overridden},
	})

	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return domain.OrderResult{}, classify(err)
	}
	result, err = s.hydrate(ctx, order)
	if err != nil {
		return domain.OrderResult{}, classify(err)
	}
	return result, nil
}

// hydrate builds the read model of an order. The base fields are always
// set; the returned error only reports lookups that failed.
func (s *Service) hydrate(ctx context.Context, order *domain.Order) (domain.OrderResult, error) {
	result := domain.OrderResult{
		OrderID:       order.ID,
		OrderCode:     orderCode(order.ID),
		CustomerID:    order.CustomerID,
		UserID:        order.UserID,
		Status:        order.Status,
		CreatedAt:     order.CreatedAt,
		SubtotalCents: order.SubtotalCents,
		DiscountCents: order.DiscountCents,
		TotalCents:    order.TotalCents,
		PromotionID:   order.PromotionID,
		Lines:         make([]domain.OrderLineResult, 0, len(order.Lines)),
	}
	if order.Payment != nil {
		paidAt := order.Payment.PaidAt
		result.PaymentMethod = order.Payment.Method
		result.PaidAt = &paidAt
	}

	var errs []error
	ids := make([]int64, 0, len(order.Lines))
	for _, line := range order.Lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		errs = append(errs, err)
	}
	for _, line := range order.Lines {
		discount := line.SubtotalCents - line.NetSubtotalCents
		result.Lines = append(result.Lines, domain.OrderLineResult{
			ProductID:       line.ProductID,
			ProductName:     products[line.ProductID].Name,
			Qty:             line.Qty,
			UnitPriceCents:  line.UnitPriceCents,
			SubtotalCents:   line.SubtotalCents,
			DiscountCents:   discount,
			DiscountPercent: promotion.DiscountPercent(discount, line.SubtotalCents),
		})
	}

	if order.CustomerID != nil {
		customer, err := s.repo.GetCustomer(ctx, *order.CustomerID)
		switch {
		case err == nil:
			result.CustomerName = customer.FullName
		case !errors.Is(err, store.ErrNotFound):
			errs = append(errs, err)
		}
	}
	if order.UserID != nil {
		user, err := s.repo.GetUserByID(ctx, *order.UserID)
		switch {
		case err == nil:
			result.UserName = user.FullName
			if result.UserName == "" {
				result.UserName = user.Username
			}
		case !errors.Is(err, store.ErrNotFound):
			errs = append(errs, err)
		}
	}
	if order.PromotionID != nil {
		promo, err := s.repo.GetPromotion(ctx, *order.PromotionID)
		switch {
		case err == nil:
			result.PromoCode = promo.Code
			result.PromoScope = promo.ApplyScope
			result.PromoDescription = promo.Description
			if result.PromoDescription == "" {
				result.PromoDescription = promotion.Describe(*promo)
			}
		case !errors.Is(err, store.ErrNotFound):
			errs = append(errs, err)
		}
	}

	return result, errors.Join(errs...)
}

// mergeLines rejects empty orders and non-positive quantities and folds
// repeated products into their first occurrence.
func mergeLines(in []domain.OrderLineRequest) ([]domain.OrderLineRequest, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: order has no lines", store.ErrInvalidInput)
	}
	out := make([]domain.OrderLineRequest, 0, len(in))
	for _, line := range in {
		if line.Qty <= 0 {
			return nil, fmt.Errorf("%w: quantity for product %d must be positive", store.ErrInvalidInput, line.ProductID)
		}
		if line.ProductID <= 0 {
			return nil, fmt.Errorf("%w: product id required", store.ErrInvalidInput)
		}
		idx := slices.IndexFunc(out, func(l domain.OrderLineRequest) bool { return l.ProductID == line.ProductID })
		if idx >= 0 {
			out[idx].Qty += line.Qty
			continue
		}
		out = append(out, line)
	}
	return out, nil
}

func isOrderStatus(status string) bool {
	switch status {
	case domain.OrderStatusPending, domain.OrderStatusPaid, domain.OrderStatusCompleted, domain.OrderStatusCancelled:
		return true
	default:
		return false
	}
}

func isForwardTransition(from, to string) bool {
	switch {
	case to == domain.OrderStatusCancelled:
		return from != domain.OrderStatusCancelled
	case from == domain.OrderStatusPending:
		return to == domain.OrderStatusPaid || to == domain.OrderStatusCompleted
	case from == domain.OrderStatusPaid:
		return to == domain.OrderStatusCompleted
	default:
		return false
	}
}
