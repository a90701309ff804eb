package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"moonmining-backend/internal/model"
	"moonmining-backend/internal/store"
)

// OreTypeSource fetches one ore catalog entry, including its refined
// material composition, from the provider.
type OreTypeSource interface {
	OreType(ctx context.Context, typeID int64) (*model.OreType, error)
}

// MarketPriceSource fetches the provider-wide average price list.
type MarketPriceSource interface {
	MarketPrices(ctx context.Context) ([]model.MarketPrice, error)
}

// Catalog keeps the local ore catalog and price table fed from the provider.
// Ore types are static and only fetched on first sight; prices are replaced
// wholesale each cycle.
type Catalog struct {
	store  store.Store
	types  OreTypeSource
	prices MarketPriceSource
	log    *zap.SugaredLogger
}

// NewCatalog creates a catalog service.
func NewCatalog(s store.Store, types OreTypeSource, prices MarketPriceSource, log *zap.SugaredLogger) *Catalog {
	return &Catalog{store: s, types: types, prices: prices, log: log}
}

// RefreshPrices replaces the price table with the provider's current list.
// An empty provider response is discarded so a flaky upstream cannot zero
// out every valuation.
func (c *Catalog) RefreshPrices(ctx context.Context) error {
	var prices []model.MarketPrice
	fetch := func() error {
		var err error
		prices, err = c.prices.MarketPrices(ctx)
		if err != nil && !errors.Is(err, ErrTransient) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(fetch, backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)); err != nil {
		return fmt.Errorf("fetch market prices: %w", err)
	}
	if len(prices) == 0 {
		c.log.Warn("provider returned an empty price list, keeping previous prices")
		return nil
	}

	now := time.Now().UTC()
	for i := range prices {
		prices[i].UpdatedAt = now
	}
	if err := c.store.ReplaceMarketPrices(ctx, prices); err != nil {
		return fmt.Errorf("replace market prices: %w", err)
	}
	c.log.Infow("market prices refreshed", "count", len(prices))
	return nil
}

// EnsureOreTypes makes sure every given type ID has a local catalog row,
// fetching unknown ones from the provider.
func (c *Catalog) EnsureOreTypes(ctx context.Context, typeIDs []int64) error {
	for _, typeID := range typeIDs {
		_, err := c.store.OreTypeByID(ctx, typeID)
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("lookup ore type %d: %w", typeID, err)
		}

		var ore *model.OreType
		fetch := func() error {
			var err error
			ore, err = c.types.OreType(ctx, typeID)
			if err != nil && !errors.Is(err, ErrTransient) {
				return backoff.Permanent(err)
			}
			return err
		}
		if err := backoff.Retry(fetch, backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)); err != nil {
			return fmt.Errorf("fetch ore type %d: %w", typeID, err)
		}
		if err := c.store.SaveOreType(ctx, ore); err != nil {
			return fmt.Errorf("save ore type %d: %w", typeID, err)
		}
	}
	return nil
}
