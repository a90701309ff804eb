package prices

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLookup struct {
	prices map[int64]decimal.Decimal
	calls  int
}

func (l *countingLookup) AveragePrice(_ context.Context, typeID int64) (decimal.Decimal, bool) {
	l.calls++
	price, ok := l.prices[typeID]
	return price, ok
}

func TestCachedAveragePrice(t *testing.T) {
	inner := &countingLookup{prices: map[int64]decimal.Decimal{34: decimal.RequireFromString("4.20")}}
	cached := NewCached(inner, time.Minute)
	ctx := context.Background()

	price, ok := cached.AveragePrice(ctx, 34)
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.RequireFromString("4.20")))

	_, _ = cached.AveragePrice(ctx, 34)
	_, _ = cached.AveragePrice(ctx, 34)
	assert.Equal(t, 1, inner.calls, "known prices are served from the cache")
}

func TestCachedAveragePrice_MissIsRechecked(t *testing.T) {
	inner := &countingLookup{prices: map[int64]decimal.Decimal{}}
	cached := NewCached(inner, time.Minute)
	ctx := context.Background()

	_, ok := cached.AveragePrice(ctx, 35)
	assert.False(t, ok)

	// A price arriving later must be visible immediately.
	inner.prices[35] = decimal.RequireFromString("11.80")
	price, ok := cached.AveragePrice(ctx, 35)
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.RequireFromString("11.80")))
	assert.Equal(t, 2, inner.calls)
}
