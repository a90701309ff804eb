package model

// OreRarityClass is the ordinal scarcity tier of a moon ore.
type OreRarityClass int

const (
	RarityNone OreRarityClass = 0
	RarityR4   OreRarityClass = 4
	RarityR8   OreRarityClass = 8
	RarityR16  OreRarityClass = 16
	RarityR32  OreRarityClass = 32
	RarityR64  OreRarityClass = 64
)

func (r OreRarityClass) String() string {
	switch r {
	case RarityR4:
		return "R4"
	case RarityR8:
		return "R8"
	case RarityR16:
		return "R16"
	case RarityR32:
		return "R32"
	case RarityR64:
		return "R64"
	}
	return ""
}

// OreQualityClass is the refining-bonus tier of an ore variant.
type OreQualityClass string

const (
	QualityUndefined OreQualityClass = "undefined"
	QualityRegular   OreQualityClass = "regular"
	QualityImproved  OreQualityClass = "improved"
	QualityExcellent OreQualityClass = "excellent"
)

// OreType is static reference data for one ore type, fetched from the
// provider's catalog the first time the type shows up in an event.
type OreType struct {
	ID         int64   `gorm:"primaryKey"` // Upstream type ID
	Name       string  `gorm:"size:256"`
	GroupID    int64   `gorm:"index;not null"`
	UnitVolume float64 `gorm:"not null"` // m³ per unit

	// Value of the ore quality dogma attribute; nil when the type has none.
	QualityValue *int

	// Associations
	Materials []OreTypeMaterial `gorm:"foreignKey:OreTypeID;constraint:OnDelete:CASCADE"`
}

// OreTypeMaterial is one material yielded by refining an ore type, with the
// quantity per 100-unit reference batch.
type OreTypeMaterial struct {
	ID             int64 `gorm:"primaryKey"`
	OreTypeID      int64 `gorm:"uniqueIndex:uq_ore_material;not null"`
	MaterialTypeID int64 `gorm:"uniqueIndex:uq_ore_material;not null"`
	Quantity       int64 `gorm:"not null"`
}
