package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storeops/backend/internal/domain"
)

func TestNoopOrderCacheAlwaysMisses(t *testing.T) {
	var c OrderCache = NoopOrderCache{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, 7, &domain.OrderResult{OrderID: 7}, time.Minute))
	got, ok, err := c.Get(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.NoError(t, c.Delete(ctx, 7))
}

func TestOrderKeyIsNamespaced(t *testing.T) {
	assert.Equal(t, "storeops:order:42", orderKey(42))
}

func TestRedisOrderCacheSetIgnoresNil(t *testing.T) {
	c := NewRedisOrderCache("127.0.0.1:0", "", 0)
	t.Cleanup(func() { _ = c.Close() })
	assert.NoError(t, c.Set(context.Background(), 1, nil, time.Minute))
}
