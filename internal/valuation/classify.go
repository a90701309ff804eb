package valuation

import "moonmining-backend/internal/model"

// Upstream group IDs of the five moon asteroid rarity groups.
const (
	groupUbiquitousMoonAsteroids  = 1884
	groupCommonMoonAsteroids      = 1920
	groupUncommonMoonAsteroids    = 1921
	groupRareMoonAsteroids        = 1922
	groupExceptionalMoonAsteroids = 1923
)

// RarityFromGroupID maps an ore type's group to its rarity tier. Unmapped
// groups are NONE.
func RarityFromGroupID(groupID int64) model.OreRarityClass {
	switch groupID {
	case groupUbiquitousMoonAsteroids:
		return model.RarityR4
	case groupCommonMoonAsteroids:
		return model.RarityR8
	case groupUncommonMoonAsteroids:
		return model.RarityR16
	case groupRareMoonAsteroids:
		return model.RarityR32
	case groupExceptionalMoonAsteroids:
		return model.RarityR64
	}
	return model.RarityNone
}

// QualityFromValue maps the ore quality dogma attribute value to a quality
// tier. An absent or unmapped attribute is UNDEFINED, not an error.
func QualityFromValue(value *int) model.OreQualityClass {
	if value == nil {
		return model.QualityUndefined
	}
	switch *value {
	case 1:
		return model.QualityRegular
	case 3:
		return model.QualityImproved
	case 5:
		return model.QualityExcellent
	}
	return model.QualityUndefined
}

// Classification is the static rarity and quality of one ore type.
type Classification struct {
	Rarity  model.OreRarityClass
	Quality model.OreQualityClass
}

// Classify derives rarity and quality tiers for an ore type.
func Classify(ore *model.OreType) Classification {
	if ore == nil {
		return Classification{Rarity: model.RarityNone, Quality: model.QualityUndefined}
	}
	return Classification{
		Rarity:  RarityFromGroupID(ore.GroupID),
		Quality: QualityFromValue(ore.QualityValue),
	}
}
