package valuation

import (
	"context"

	"github.com/shopspring/decimal"

	"moonmining-backend/internal/model"
)

// PriceLookup resolves the average market price of a material type. A price
// can be legitimately unknown; that is signaled via the bool, never an error.
type PriceLookup interface {
	AveragePrice(ctx context.Context, typeID int64) (decimal.Decimal, bool)
}

// Engine computes ISK value estimates from ore composition and market
// prices. It is pure and stateless beyond read-only configuration, so it is
// safe to share across any number of workers.
type Engine struct {
	prices PriceLookup
	yield  decimal.Decimal // average reprocessing efficiency, (0,1]

	// MonthlyVolume is the expected total ore volume per moon and month,
	// used to scale fractional moon products into absolute volumes.
	monthlyVolume float64
}

// NewEngine creates a valuation engine. reprocessingYield must be in (0,1].
func NewEngine(prices PriceLookup, reprocessingYield float64, monthlyVolume float64) *Engine {
	return &Engine{
		prices:        prices,
		yield:         decimal.NewFromFloat(reprocessingYield),
		monthlyVolume: monthlyVolume,
	}
}

// MonthlyVolume returns the configured expected ore volume per month.
func (e *Engine) MonthlyVolume() float64 {
	return e.monthlyVolume
}

// RefinedValue estimates the ISK value of refining the given ore volume.
//
// units = volume / unitVolume, batches = units / 100, and every material of
// the ore contributes price * quantity * batches * yield. A material without
// a market price contributes zero; an ore type without a unit volume is a
// degenerate input and values to zero rather than dividing by it.
func (e *Engine) RefinedValue(ctx context.Context, ore *model.OreType, volume float64) decimal.Decimal {
	if ore == nil || ore.UnitVolume == 0 {
		return decimal.Zero
	}

	units := volume / ore.UnitVolume
	batches := decimal.NewFromFloat(units / 100)

	total := decimal.Zero
	for _, material := range ore.Materials {
		price, ok := e.prices.AveragePrice(ctx, material.MaterialTypeID)
		if !ok {
			continue
		}
		total = total.Add(price.
			Mul(decimal.NewFromInt(material.Quantity)).
			Mul(batches).
			Mul(e.yield))
	}
	return total
}
