package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Moon is a known moon, either from an uploaded survey or an anchored refinery.
type Moon struct {
	ID          int64               `gorm:"primaryKey"` // Upstream moon ID
	Name        string              `gorm:"size:256"`
	Value       decimal.NullDecimal `gorm:"type:decimal(20,2);index"` // Calculated value estimate, ISK
	RarityClass OreRarityClass      `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Provenance of the last manual survey upload.
	ProductsUpdatedAt *time.Time
	ProductsUpdatedBy string `gorm:"size:128"`

	// Associations
	Products []MoonProduct `gorm:"foreignKey:MoonID;constraint:OnDelete:CASCADE"`
}

// MoonProduct is one ore type in a moon's long-run composition. Amount is the
// fractional share of expected monthly yield, in [0,1].
type MoonProduct struct {
	ID        int64   `gorm:"primaryKey"`
	MoonID    int64   `gorm:"uniqueIndex:uq_moon_ore;not null"`
	OreTypeID int64   `gorm:"uniqueIndex:uq_moon_ore;not null"`
	Amount    float64 `gorm:"not null"`

	OreType OreType `gorm:"constraint:OnDelete:CASCADE"`
}
