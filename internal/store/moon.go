package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"moonmining-backend/internal/model"
)

func (s *gormStore) MoonWithProducts(ctx context.Context, moonID int64) (*model.Moon, error) {
	var moon model.Moon
	err := s.db.WithContext(ctx).
		Preload("Products").
		Preload("Products.OreType").
		Preload("Products.OreType.Materials").
		First(&moon, moonID).Error
	if err != nil {
		return nil, err
	}
	return &moon, nil
}

func (s *gormStore) ListMoons(ctx context.Context) ([]model.Moon, error) {
	var moons []model.Moon
	if err := s.db.WithContext(ctx).Preload("Products").Order("id").Find(&moons).Error; err != nil {
		return nil, fmt.Errorf("failed to list moons: %w", err)
	}
	return moons, nil
}

// ReplaceMoonProducts swaps a moon's product set wholesale and records the
// survey provenance. The delete-then-recreate keeps the (moon, ore type)
// unique pair invariant without diffing.
func (s *gormStore) ReplaceMoonProducts(ctx context.Context, moonID int64, products []model.MoonProduct, updatedBy string, updatedAt time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("moon_id = ?", moonID).Delete(&model.MoonProduct{}).Error; err != nil {
			return fmt.Errorf("failed to clear products for moon %d: %w", moonID, err)
		}
		if len(products) > 0 {
			for i := range products {
				products[i].ID = 0
				products[i].MoonID = moonID
			}
			if err := tx.Create(&products).Error; err != nil {
				return fmt.Errorf("failed to create products for moon %d: %w", moonID, err)
			}
		}
		return tx.Model(&model.Moon{}).Where("id = ?", moonID).
			Updates(map[string]any{
				"products_updated_at": updatedAt,
				"products_updated_by": updatedBy,
			}).Error
	})
}

func (s *gormStore) SaveMoonAnalytics(ctx context.Context, moonID int64, value decimal.NullDecimal, rarity model.OreRarityClass) error {
	return s.db.WithContext(ctx).Model(&model.Moon{}).
		Where("id = ?", moonID).
		Updates(map[string]any{"value": value, "rarity_class": rarity}).Error
}
