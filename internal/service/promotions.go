package service

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"storeops/backend/internal/audit"
	"storeops/backend/internal/domain"
	"storeops/backend/internal/promotion"
	"storeops/backend/internal/store"
)

const dateLayout = "2006-01-02"

var decimalHundred = decimal.NewFromInt(100)

func (s *Service) CreatePromotion(ctx context.Context, actor domain.Actor, req domain.PromotionCreateRequest) (domain.Promotion, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.Promotion{}, err
	}
	promo, err := buildPromotion(req)
	if err != nil {
		return domain.Promotion{}, err
	}
	promo.Status = promotion.RefreshStatus(promo, s.now())
	promo.CreatedAt = s.now().UTC()

	var created *domain.Promotion
	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if len(promo.ProductIDs) > 0 {
			products, err := tx.GetProductsByIDs(ctx, promo.ProductIDs)
			if err != nil {
				return err
			}
			for _, id := range promo.ProductIDs {
				if _, ok := products[id]; !ok {
					return fmt.Errorf("%w: product %d does not exist", store.ErrInvalidInput, id)
				}
			}
		}
		var err error
		created, err = tx.CreatePromotion(ctx, promo)
		return err
	})
	if err != nil {
		return domain.Promotion{}, classify(err)
	}

	s.recordAudit(ctx, actor, domain.AuditLog{
		Action:     audit.ActionCreate,
		EntityType: audit.EntityPromotion,
		EntityID:   strconv.FormatInt(created.ID, 10),
		EntityName: created.Code,
		Summary:    "promotion " + promotion.Describe(*created) + " created",
		NewValues: map[string]any{
			"discount_type":  created.DiscountType,
			"discount_value": created.DiscountValue.String(),
			"apply_scope":    created.ApplyScope,
			"status":         created.Status,
		},
	})
	return *created, nil
}

// ListPromotions reports every live promotion with its status as of today.
// Stored statuses are not touched.
func (s *Service) ListPromotions(ctx context.Context) ([]domain.Promotion, error) {
	promos, err := s.repo.ListPromotions(ctx)
	if err != nil {
		return nil, classify(err)
	}
	today := s.now()
	for i := range promos {
		promos[i].Status = promotion.RefreshStatus(promos[i], today)
	}
	return promos, nil
}

// DeletePromotion marks a promotion deleted. Its code becomes free for
// reuse and it is never refreshed again.
func (s *Service) DeletePromotion(ctx context.Context, actor domain.Actor, id int64) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	var previous domain.Promotion
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		promo, err := tx.GetPromotion(ctx, id)
		if err != nil {
			return err
		}
		if promo.Status == domain.PromotionStatusDeleted {
			return fmt.Errorf("promotion %d: %w", id, store.ErrNotFound)
		}
		previous = *promo
		promo.Status = domain.PromotionStatusDeleted
		return tx.UpdatePromotion(ctx, *promo)
	})
	if err != nil {
		return classify(err)
	}

	s.recordAudit(ctx, actor, domain.AuditLog{
		Action:     audit.ActionUpdate,
		EntityType: audit.EntityPromotion,
		EntityID:   strconv.FormatInt(id, 10),
		EntityName: previous.Code,
		Summary:    "promotion " + previous.Code + " deleted",
		OldValues:  map[string]any{"status": previous.Status},
		NewValues:  map[string]any{"status": domain.PromotionStatusDeleted},
	})
	return nil
}

// RefreshPromotionStatuses persists today's status of every live
// promotion and returns how many changed.
func (s *Service) RefreshPromotionStatuses(ctx context.Context, actor domain.Actor) (int, error) {
	if err := requireAdmin(actor); err != nil {
		return 0, err
	}

	today := s.now()
	var changed []string
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		changed = changed[:0]
		promos, err := tx.ListPromotions(ctx)
		if err != nil {
			return err
		}
		for _, p := range promos {
			status := promotion.RefreshStatus(p, today)
			if status == p.Status {
				continue
			}
			p.Status = status
			if err := tx.UpdatePromotion(ctx, p); err != nil {
				return err
			}
			changed = append(changed, p.Code)
		}
		return nil
	})
	if err != nil {
		return 0, classify(err)
	}

	if len(changed) > 0 {
		s.recordAudit(ctx, actor, domain.AuditLog{
			Action:     audit.ActionUpdate,
			EntityType: audit.EntityPromotion,
			EntityID:   "*",
			Summary:    fmt.Sprintf("refreshed status of %d promotions", len(changed)),
			Metadata:   map[string]any{"codes": changed},
		})
	}
	return len(changed), nil
}

func buildPromotion(req domain.PromotionCreateRequest) (domain.Promotion, error) {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{store.ErrInvalidInput}, args...)...)
	}

	code := promotion.NormalizeCode(req.Code)
	if code == "" {
		return domain.Promotion{}, invalid("promotion code required")
	}
	discountType := strings.ToLower(strings.TrimSpace(req.DiscountType))
	switch discountType {
	case domain.DiscountTypePercent:
		if !req.DiscountValue.IsPositive() || req.DiscountValue.GreaterThan(decimalHundred) {
			return domain.Promotion{}, invalid("percent discount must be in (0, 100]")
		}
	case domain.DiscountTypeFixed:
		if !req.DiscountValue.IsPositive() {
			return domain.Promotion{}, invalid("fixed discount must be positive")
		}
	default:
		return domain.Promotion{}, invalid("unknown discount type %q", req.DiscountType)
	}

	start, err := time.Parse(dateLayout, strings.TrimSpace(req.StartDate))
	if err != nil {
		return domain.Promotion{}, invalid("start_date must be YYYY-MM-DD")
	}
	end, err := time.Parse(dateLayout, strings.TrimSpace(req.EndDate))
	if err != nil {
		return domain.Promotion{}, invalid("end_date must be YYYY-MM-DD")
	}
	if end.Before(start) {
		return domain.Promotion{}, invalid("end_date is before start_date")
	}
	if req.MinOrderCents < 0 || req.UsageLimit < 0 {
		return domain.Promotion{}, invalid("minimum and usage limit cannot be negative")
	}

	scope := strings.ToLower(strings.TrimSpace(req.ApplyScope))
	if scope == "" {
		scope = domain.ApplyScopeOrder
	}
	var productIDs []int64
	switch scope {
	case domain.ApplyScopeOrder:
	case domain.ApplyScopeProduct, domain.ApplyScopeCombo:
		productIDs = slices.Clone(req.ProductIDs)
		slices.Sort(productIDs)
		productIDs = slices.Compact(productIDs)
		if len(productIDs) == 0 {
			return domain.Promotion{}, invalid("%s promotions need at least one product", scope)
		}
	default:
		return domain.Promotion{}, invalid("unknown apply scope %q", req.ApplyScope)
	}

	return domain.Promotion{
		Code:          code,
		Description:   strings.TrimSpace(req.Description),
		DiscountType:  discountType,
		DiscountValue: req.DiscountValue,
		StartDate:     start,
		EndDate:       end,
		MinOrderCents: req.MinOrderCents,
		UsageLimit:    req.UsageLimit,
		ApplyScope:    scope,
		ProductIDs:    productIDs,
	}, nil
}
