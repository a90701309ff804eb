package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"moonmining-backend/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	DB() *gorm.DB

	// Owners. SetOwnerSyncState advances the fetch cursor only when ok.
	ListEnabledOwners(ctx context.Context) ([]model.Owner, error)
	SetOwnerSyncState(ctx context.Context, corporationID int64, at time.Time, ok bool) error

	// Refineries
	RefineryByID(ctx context.Context, refineryID int64) (*model.Refinery, error)
	UpsertRefinery(ctx context.Context, refinery *model.Refinery) error
	EnsureRefinery(ctx context.Context, refineryID int64) error
	LinkRefineryMoon(ctx context.Context, refineryID, moonID int64) error

	// Moons
	GetOrCreateMoon(ctx context.Context, moonID int64) (*model.Moon, error)
	MoonWithProducts(ctx context.Context, moonID int64) (*model.Moon, error)
	ListMoons(ctx context.Context) ([]model.Moon, error)
	ReplaceMoonProducts(ctx context.Context, moonID int64, products []model.MoonProduct, updatedBy string, updatedAt time.Time) error
	SaveMoonAnalytics(ctx context.Context, moonID int64, value decimal.NullDecimal, rarity model.OreRarityClass) error

	// Extractions
	UpsertStartedExtraction(ctx context.Context, extraction *model.Extraction, products []model.ExtractionProduct) (int64, error)
	ExtractionByKey(ctx context.Context, refineryID int64, readyTime time.Time) (*model.Extraction, error)
	ExtractionWithProducts(ctx context.Context, extractionID int64) (*model.Extraction, error)
	LatestStartedExtraction(ctx context.Context, refineryID int64) (*model.Extraction, error)
	LatestActiveExtraction(ctx context.Context, refineryID int64) (*model.Extraction, error)
	MarkExtractionCanceled(ctx context.Context, extractionID int64, canceledAt time.Time, canceledBy *int64) (bool, error)
	MarkExtractionCompleted(ctx context.Context, extractionID int64, finishedAt time.Time) (bool, error)
	MarkExtractionFractured(ctx context.Context, extractionID int64, finishedAt time.Time, fracturedBy *int64) (bool, error)
	SaveExtractionAnalytics(ctx context.Context, extractionID int64, value decimal.NullDecimal, isJackpot *bool) error
	ListExtractions(ctx context.Context, opts ListExtractionsOpts) ([]model.Extraction, error)

	// Reference data
	OreTypeByID(ctx context.Context, typeID int64) (*model.OreType, error)
	SaveOreType(ctx context.Context, ore *model.OreType) error

	// Prices
	AveragePrice(ctx context.Context, typeID int64) (decimal.Decimal, bool)
	ReplaceMarketPrices(ctx context.Context, prices []model.MarketPrice) error
}

// ListExtractionsOpts filters extraction listings.
type ListExtractionsOpts struct {
	RefineryID int64
	Status     model.ExtractionStatus
	Limit      int
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// DB exposes the underlying handle for read-only query composition in
// handlers and the notification worker.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) ListEnabledOwners(ctx context.Context) ([]model.Owner, error) {
	var owners []model.Owner
	if err := s.db.WithContext(ctx).Where("is_enabled = ?", true).Find(&owners).Error; err != nil {
		return nil, fmt.Errorf("failed to list enabled owners: %w", err)
	}
	return owners, nil
}

// SetOwnerSyncState records the outcome of an owner's sync cycle. The fetch
// cursor (last_update_at) only advances on success: a failed cycle keeps the
// previous cursor so the missed window is refetched next time.
func (s *gormStore) SetOwnerSyncState(ctx context.Context, corporationID int64, at time.Time, ok bool) error {
	updates := map[string]any{"last_update_ok": ok}
	if ok {
		updates["last_update_at"] = at
	}
	return s.db.WithContext(ctx).Model(&model.Owner{}).
		Where("corporation_id = ?", corporationID).
		Updates(updates).Error
}

func (s *gormStore) RefineryByID(ctx context.Context, refineryID int64) (*model.Refinery, error) {
	var refinery model.Refinery
	if err := s.db.WithContext(ctx).First(&refinery, refineryID).Error; err != nil {
		return nil, err
	}
	return &refinery, nil
}

func (s *gormStore) UpsertRefinery(ctx context.Context, refinery *model.Refinery) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "owner_id", "updated_at"}),
	}).Create(refinery).Error
}

// EnsureRefinery records a bare, unresolved refinery row so notifications
// referencing it are not lost when the structure directory is unavailable.
func (s *gormStore) EnsureRefinery(ctx context.Context, refineryID int64) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.Refinery{ID: refineryID}).Error
}

// LinkRefineryMoon sets a refinery's moon, creating the moon row first when
// it is not yet known locally.
func (s *gormStore) LinkRefineryMoon(ctx context.Context, refineryID, moonID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&model.Moon{ID: moonID}).Error; err != nil {
			return fmt.Errorf("failed to get-or-create moon %d: %w", moonID, err)
		}
		return tx.Model(&model.Refinery{}).
			Where("id = ?", refineryID).
			Update("moon_id", moonID).Error
	})
}

func (s *gormStore) GetOrCreateMoon(ctx context.Context, moonID int64) (*model.Moon, error) {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.Moon{ID: moonID}).Error; err != nil {
		return nil, err
	}
	var moon model.Moon
	if err := s.db.WithContext(ctx).First(&moon, moonID).Error; err != nil {
		return nil, err
	}
	return &moon, nil
}

func (s *gormStore) OreTypeByID(ctx context.Context, typeID int64) (*model.OreType, error) {
	var ore model.OreType
	if err := s.db.WithContext(ctx).Preload("Materials").First(&ore, typeID).Error; err != nil {
		return nil, err
	}
	return &ore, nil
}

func (s *gormStore) SaveOreType(ctx context.Context, ore *model.OreType) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "group_id", "unit_volume", "quality_value"}),
		}).Create(ore).Error; err != nil {
			return fmt.Errorf("failed to upsert ore type %d: %w", ore.ID, err)
		}
		if err := tx.Where("ore_type_id = ?", ore.ID).Delete(&model.OreTypeMaterial{}).Error; err != nil {
			return err
		}
		if len(ore.Materials) == 0 {
			return nil
		}
		for i := range ore.Materials {
			ore.Materials[i].ID = 0
			ore.Materials[i].OreTypeID = ore.ID
		}
		return tx.Create(&ore.Materials).Error
	})
}

func (s *gormStore) AveragePrice(ctx context.Context, typeID int64) (decimal.Decimal, bool) {
	var price model.MarketPrice
	if err := s.db.WithContext(ctx).First(&price, typeID).Error; err != nil {
		return decimal.Zero, false
	}
	return price.AveragePrice, true
}

func (s *gormStore) ReplaceMarketPrices(ctx context.Context, prices []model.MarketPrice) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&model.MarketPrice{}).Error; err != nil {
			return err
		}
		if len(prices) == 0 {
			return nil
		}
		return tx.Create(&prices).Error
	})
}
