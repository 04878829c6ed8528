package promotion

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"storeops/backend/internal/domain"
)

// Reasons a promotion code did not apply to an order.
const (
	ReasonNotFound        = "promotion code not found"
	ReasonInactive        = "promotion is not active"
	ReasonOutsideWindow   = "promotion is outside its validity dates"
	ReasonBelowMinimum    = "order subtotal is below the promotion minimum"
	ReasonUsageExhausted  = "promotion usage limit reached"
	ReasonNoEligibleLines = "no order line is eligible for the promotion"
)

var hundred = decimal.NewFromInt(100)

type Line struct {
	ProductID     int64
	SubtotalCents int64
}

// Discount is the result of applying a promotion to a set of lines.
// LineCents is aligned with the input lines.
type Discount struct {
	TotalCents int64
	LineCents  []int64
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// RefreshStatus derives the status a promotion should have on the given day.
func RefreshStatus(p domain.Promotion, today time.Time) string {
	if p.Status == domain.PromotionStatusDeleted {
		return domain.PromotionStatusDeleted
	}
	if WithinWindow(p, today) && !UsageExhausted(p) {
		return domain.PromotionStatusActive
	}
	return domain.PromotionStatusInactive
}

// WithinWindow compares calendar dates only; both bounds are inclusive.
// today's location decides which calendar day it is. Start and end dates
// are read as stored.
func WithinWindow(p domain.Promotion, today time.Time) bool {
	day := civilDate(today)
	return !day.Before(civilDate(p.StartDate)) && !day.After(civilDate(p.EndDate))
}

func UsageExhausted(p domain.Promotion) bool {
	return p.UsageLimit > 0 && p.UsedCount >= p.UsageLimit
}

// Eligibility runs the status, window, minimum and usage checks in order
// and returns the first failing reason, or "" when the promotion applies.
// The caller is expected to have refreshed the status already.
func Eligibility(p domain.Promotion, subtotalCents int64, today time.Time) string {
	if p.Status != domain.PromotionStatusActive {
		return ReasonInactive
	}
	if !WithinWindow(p, today) {
		return ReasonOutsideWindow
	}
	if subtotalCents < p.MinOrderCents {
		return ReasonBelowMinimum
	}
	if UsageExhausted(p) {
		return ReasonUsageExhausted
	}
	return ""
}

// Compute applies p to lines. ok is false when the lines p targets add
// up to a zero subtotal.
func Compute(p domain.Promotion, lines []Line) (Discount, bool) {
	out := Discount{LineCents: make([]int64, len(lines))}

	switch p.ApplyScope {
	case domain.ApplyScopeProduct:
		var eligibleSubtotal int64
		for i, line := range lines {
			if !slices.Contains(p.ProductIDs, line.ProductID) {
				continue
			}
			eligibleSubtotal += line.SubtotalCents
			d := amountOff(p, line.SubtotalCents)
			out.LineCents[i] = d
			out.TotalCents += d
		}
		return out, eligibleSubtotal > 0
	case domain.ApplyScopeCombo:
		eligible := make([]int, 0, len(lines))
		var aggregate int64
		for i, line := range lines {
			if slices.Contains(p.ProductIDs, line.ProductID) {
				eligible = append(eligible, i)
				aggregate += line.SubtotalCents
			}
		}
		if len(eligible) == 0 || aggregate <= 0 {
			return out, false
		}
		out.TotalCents = amountOff(p, aggregate)
		weights := make([]int64, len(eligible))
		for j, idx := range eligible {
			weights[j] = lines[idx].SubtotalCents
		}
		for j, share := range Distribute(out.TotalCents, weights) {
			out.LineCents[eligible[j]] = share
		}
		return out, true
	default:
		var subtotal int64
		for _, line := range lines {
			subtotal += line.SubtotalCents
		}
		if subtotal <= 0 {
			return out, false
		}
		out.TotalCents = amountOff(p, subtotal)
		return out, true
	}
}

// amountOff is the discount on base, never more than base.
func amountOff(p domain.Promotion, base int64) int64 {
	if base <= 0 {
		return 0
	}
	var d int64
	if p.DiscountType == domain.DiscountTypeFixed {
		d = FixedCents(p.DiscountValue)
	} else {
		d = Percentage(base, p.DiscountValue)
	}
	return max(0, min(d, base))
}

// Percentage returns pct percent of cents, rounded half away from zero.
func Percentage(cents int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(cents).Mul(pct).Div(hundred).Round(0).IntPart()
}

// FixedCents converts a major-unit amount to cents.
func FixedCents(value decimal.Decimal) int64 {
	return value.Mul(hundred).Round(0).IntPart()
}

// Distribute splits total across weights proportionally with the largest
// remainder method. Shares sum to total and none exceeds its weight when
// total does not exceed the sum of weights.
func Distribute(total int64, weights []int64) []int64 {
	shares := make([]int64, len(weights))
	var sum int64
	for _, w := range weights {
		sum += w
	}
	if total <= 0 || sum <= 0 {
		return shares
	}

	t := decimal.NewFromInt(total)
	s := decimal.NewFromInt(sum)
	fractions := make([]decimal.Decimal, len(weights))
	var assigned int64
	for i, w := range weights {
		exact := t.Mul(decimal.NewFromInt(w)).Div(s)
		floor := exact.Floor()
		shares[i] = floor.IntPart()
		fractions[i] = exact.Sub(floor)
		assigned += shares[i]
	}

	order := make([]int, len(weights))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return fractions[b].Cmp(fractions[a])
	})
	for k := 0; assigned < total && k < len(order); k++ {
		shares[order[k]]++
		assigned++
	}
	return shares
}

// DiscountPercent is the share of subtotal taken off, to two decimals.
func DiscountPercent(discountCents, subtotalCents int64) float64 {
	if discountCents <= 0 || subtotalCents <= 0 {
		return 0
	}
	return decimal.NewFromInt(discountCents).Mul(hundred).Div(decimal.NewFromInt(subtotalCents)).Round(2).InexactFloat64()
}

// Describe renders the promotion the way receipts show it.
func Describe(p domain.Promotion) string {
	var scope string
	switch p.ApplyScope {
	case domain.ApplyScopeProduct:
		scope = "selected products"
	case domain.ApplyScopeCombo:
		scope = "product combo"
	default:
		scope = "whole order"
	}
	return fmt.Sprintf("%s - %s", p.Code, scope)
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
