package valuation

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"moonmining-backend/internal/model"
)

// AnalyticsStore is the persistence surface the aggregator needs. Product
// associations must be loaded with their ore types and materials.
type AnalyticsStore interface {
	MoonWithProducts(ctx context.Context, moonID int64) (*model.Moon, error)
	ExtractionWithProducts(ctx context.Context, extractionID int64) (*model.Extraction, error)
	SaveMoonAnalytics(ctx context.Context, moonID int64, value decimal.NullDecimal, rarity model.OreRarityClass) error
	SaveExtractionAnalytics(ctx context.Context, extractionID int64, value decimal.NullDecimal, isJackpot *bool) error
}

// Aggregator recomputes derived fields (value, rarity, jackpot) from the
// current product rows and writes them back. The cached fields are never a
// source of truth; every refresh is a full recompute and safe to repeat.
type Aggregator struct {
	engine *Engine
	store  AnalyticsStore
}

// NewAggregator creates an aggregator on top of a valuation engine.
func NewAggregator(engine *Engine, store AnalyticsStore) *Aggregator {
	return &Aggregator{engine: engine, store: store}
}

// RefreshMoonAnalytics recomputes a moon's value estimate and rarity tier.
// A moon without products has no value (NULL) and rarity NONE.
func (a *Aggregator) RefreshMoonAnalytics(ctx context.Context, moonID int64) error {
	moon, err := a.store.MoonWithProducts(ctx, moonID)
	if err != nil {
		return fmt.Errorf("load moon %d: %w", moonID, err)
	}

	var value decimal.NullDecimal
	rarity := model.RarityNone
	if len(moon.Products) > 0 {
		total := decimal.Zero
		for _, product := range moon.Products {
			ore := product.OreType
			total = total.Add(a.engine.RefinedValue(ctx, &ore, a.engine.MonthlyVolume()*product.Amount))
			if r := RarityFromGroupID(ore.GroupID); r > rarity {
				rarity = r
			}
		}
		value = decimal.NullDecimal{Decimal: total, Valid: true}
	}

	if err := a.store.SaveMoonAnalytics(ctx, moonID, value, rarity); err != nil {
		return fmt.Errorf("save moon %d analytics: %w", moonID, err)
	}
	return nil
}

// RefreshExtractionAnalytics recomputes an extraction's value estimate and
// jackpot flag. With no products both stay unknown (NULL), not false.
func (a *Aggregator) RefreshExtractionAnalytics(ctx context.Context, extractionID int64) error {
	extraction, err := a.store.ExtractionWithProducts(ctx, extractionID)
	if err != nil {
		return fmt.Errorf("load extraction %d: %w", extractionID, err)
	}

	var value decimal.NullDecimal
	var isJackpot *bool
	if len(extraction.Products) > 0 {
		total := decimal.Zero
		jackpot := true
		for _, product := range extraction.Products {
			ore := product.OreType
			total = total.Add(a.engine.RefinedValue(ctx, &ore, product.Volume))
			if QualityFromValue(ore.QualityValue) != model.QualityExcellent {
				jackpot = false
			}
		}
		value = decimal.NullDecimal{Decimal: total, Valid: true}
		isJackpot = &jackpot
	}

	if err := a.store.SaveExtractionAnalytics(ctx, extractionID, value, isJackpot); err != nil {
		return fmt.Errorf("save extraction %d analytics: %w", extractionID, err)
	}
	return nil
}
