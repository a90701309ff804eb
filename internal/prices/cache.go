package prices

import (
	"context"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"moonmining-backend/internal/valuation"
)

// Cached memoizes a PriceLookup. Prices move slowly compared to sync cycles
// and the valuation engine asks for the same material IDs over and over.
type Cached struct {
	inner valuation.PriceLookup
	cache *cache.Cache
}

// NewCached wraps a price lookup with an in-memory TTL cache.
func NewCached(inner valuation.PriceLookup, ttl time.Duration) *Cached {
	return &Cached{
		inner: inner,
		cache: cache.New(ttl, 2*ttl),
	}
}

// AveragePrice implements valuation.PriceLookup. Only known prices are
// cached; a missing price is re-checked every call so a late price import
// takes effect within the cycle.
func (c *Cached) AveragePrice(ctx context.Context, typeID int64) (decimal.Decimal, bool) {
	key := strconv.FormatInt(typeID, 10)
	if cached, found := c.cache.Get(key); found {
		return cached.(decimal.Decimal), true
	}

	price, ok := c.inner.AveragePrice(ctx, typeID)
	if !ok {
		return decimal.Zero, false
	}
	c.cache.SetDefault(key, price)
	return price, true
}
