package promotion

import (
	"context"
	"errors"
	"time"

	"storeops/backend/internal/domain"
	"storeops/backend/internal/store"
)

// Store is the part of a store transaction the resolver reads and writes.
// FindPromotionByCode matches case-insensitively, skips deleted promotions
// and locks the row it returns.
type Store interface {
	FindPromotionByCode(ctx context.Context, code string) (*domain.Promotion, error)
	UpdatePromotion(ctx context.Context, promo domain.Promotion) error
}

// Outcome is either an applied discount or the reason it was not applied.
type Outcome struct {
	Applied   bool
	Reason    string
	Promotion *domain.Promotion
	Discount  Discount
}

type Resolver struct {
	store Store
}

func NewResolver(s Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve checks code against the order and, when it applies, consumes one
// usage slot. An inapplicable code is reported in the outcome, never as an
// error. Errors are store failures only.
func (r *Resolver) Resolve(ctx context.Context, code string, lines []Line, today time.Time) (Outcome, error) {
	code = NormalizeCode(code)
	if code == "" {
		return Outcome{Reason: ReasonNotFound}, nil
	}

	promo, err := r.store.FindPromotionByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return Outcome{Reason: ReasonNotFound}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	if status := RefreshStatus(*promo, today); status != promo.Status {
		promo.Status = status
		if err := r.store.UpdatePromotion(ctx, *promo); err != nil {
			return Outcome{}, err
		}
	}

	var subtotal int64
	for _, line := range lines {
		subtotal += line.SubtotalCents
	}
	if reason := Eligibility(*promo, subtotal, today); reason != "" {
		return Outcome{Reason: reason, Promotion: promo}, nil
	}

	discount, ok := Compute(*promo, lines)
	if !ok {
		return Outcome{Reason: ReasonNoEligibleLines, Promotion: promo}, nil
	}

	promo.UsedCount++
	promo.Status = RefreshStatus(*promo, today)
	if err := r.store.UpdatePromotion(ctx, *promo); err != nil {
		return Outcome{}, err
	}

	return Outcome{Applied: true, Promotion: promo, Discount: discount}, nil
}
