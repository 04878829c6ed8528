package cache

import (
	"context"
	"strconv"
	"time"

	"storeops/backend/internal/domain"
)

// OrderCache holds hydrated order results. Status changes must Delete the
// entry so readers never see a stale status.
type OrderCache interface {
	Get(ctx context.Context, orderID int64) (*domain.OrderResult, bool, error)
	Set(ctx context.Context, orderID int64, value *domain.OrderResult, ttl time.Duration) error
	Delete(ctx context.Context, orderID int64) error
}

func orderKey(orderID int64) string {
	return "storeops:order:" + strconv.FormatInt(orderID, 10)
}

type NoopOrderCache struct{}

func (NoopOrderCache) Get(_ context.Context, _ int64) (*domain.OrderResult, bool, error) {
	return nil, false, nil
}

func (NoopOrderCache) Set(_ context.Context, _ int64, _ *domain.OrderResult, _ time.Duration) error {
	return nil
}

func (NoopOrderCache) Delete(_ context.Context, _ int64) error {
	return nil
}
