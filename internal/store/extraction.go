package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"moonmining-backend/internal/model"
)

// UpsertStartedExtraction applies a started event atomically: one extraction
// per (refinery, ready_time), products replaced wholesale. A terminal status
// is never regressed; a late-arriving start for a finished window only
// refreshes its payload. Returns the extraction ID.
func (s *gormStore) UpsertStartedExtraction(ctx context.Context, extraction *model.Extraction, products []model.ExtractionProduct) (int64, error) {
	var id int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Extraction
		err := tx.Where("refinery_id = ? AND ready_time = ?", extraction.RefineryID, extraction.ReadyTime).
			First(&existing).Error
		switch {
		case err == nil:
			updates := map[string]any{
				"auto_time":  extraction.AutoTime,
				"started_by": extraction.StartedBy,
			}
			if !existing.Status.IsTerminal() {
				updates["status"] = model.StatusStarted
			}
			if err := tx.Model(&model.Extraction{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
				return fmt.Errorf("failed to update extraction %d: %w", existing.ID, err)
			}
			id = existing.ID
		case errors.Is(err, gorm.ErrRecordNotFound):
			extraction.Status = model.StatusStarted
			if err := tx.Create(extraction).Error; err != nil {
				return fmt.Errorf("failed to create extraction for refinery %d: %w", extraction.RefineryID, err)
			}
			id = extraction.ID
		default:
			return err
		}

		if err := tx.Where("extraction_id = ?", id).Delete(&model.ExtractionProduct{}).Error; err != nil {
			return fmt.Errorf("failed to clear products for extraction %d: %w", id, err)
		}
		if len(products) > 0 {
			for i := range products {
				products[i].ID = 0
				products[i].ExtractionID = id
			}
			if err := tx.Create(&products).Error; err != nil {
				return fmt.Errorf("failed to create products for extraction %d: %w", id, err)
			}
		}
		return nil
	})
	return id, err
}

func (s *gormStore) ExtractionByKey(ctx context.Context, refineryID int64, readyTime time.Time) (*model.Extraction, error) {
	var extraction model.Extraction
	err := s.db.WithContext(ctx).
		Where("refinery_id = ? AND ready_time = ?", refineryID, readyTime).
		First(&extraction).Error
	if err != nil {
		return nil, err
	}
	return &extraction, nil
}

func (s *gormStore) ExtractionWithProducts(ctx context.Context, extractionID int64) (*model.Extraction, error) {
	var extraction model.Extraction
	err := s.db.WithContext(ctx).
		Preload("Products").
		Preload("Products.OreType").
		Preload("Products.OreType.Materials").
		First(&extraction, extractionID).Error
	if err != nil {
		return nil, err
	}
	return &extraction, nil
}

// LatestStartedExtraction finds the most recently started, not yet finished
// extraction for a refinery: the one a cancellation refers to.
func (s *gormStore) LatestStartedExtraction(ctx context.Context, refineryID int64) (*model.Extraction, error) {
	var extraction model.Extraction
	err := s.db.WithContext(ctx).
		Where("refinery_id = ? AND status = ?", refineryID, model.StatusStarted).
		Order("ready_time DESC").
		First(&extraction).Error
	if err != nil {
		return nil, err
	}
	return &extraction, nil
}

// LatestActiveExtraction finds the most recent extraction still eligible for
// fracturing (started or ready).
func (s *gormStore) LatestActiveExtraction(ctx context.Context, refineryID int64) (*model.Extraction, error) {
	var extraction model.Extraction
	err := s.db.WithContext(ctx).
		Where("refinery_id = ? AND status IN ?", refineryID, []model.ExtractionStatus{model.StatusStarted, model.StatusReady}).
		Order("ready_time DESC").
		First(&extraction).Error
	if err != nil {
		return nil, err
	}
	return &extraction, nil
}

// The Mark* transitions are conditional single-statement updates: the WHERE
// clause on the current status makes concurrent replays and racing writers
// safe, and the returned bool reports whether the transition applied.

func (s *gormStore) MarkExtractionCanceled(ctx context.Context, extractionID int64, canceledAt time.Time, canceledBy *int64) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Extraction{}).
		Where("id = ? AND status = ?", extractionID, model.StatusStarted).
		Updates(map[string]any{
			"status":      model.StatusCanceled,
			"canceled_at": canceledAt,
			"canceled_by": canceledBy,
		})
	return res.RowsAffected > 0, res.Error
}

func (s *gormStore) MarkExtractionCompleted(ctx context.Context, extractionID int64, finishedAt time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Extraction{}).
		Where("id = ? AND status = ?", extractionID, model.StatusStarted).
		Updates(map[string]any{
			"status":      model.StatusCompleted,
			"finished_at": finishedAt,
		})
	return res.RowsAffected > 0, res.Error
}

func (s *gormStore) MarkExtractionFractured(ctx context.Context, extractionID int64, finishedAt time.Time, fracturedBy *int64) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Extraction{}).
		Where("id = ? AND status IN ?", extractionID, []model.ExtractionStatus{model.StatusStarted, model.StatusReady}).
		Updates(map[string]any{
			"status":       model.StatusFractured,
			"finished_at":  finishedAt,
			"fractured_by": fracturedBy,
		})
	return res.RowsAffected > 0, res.Error
}

func (s *gormStore) SaveExtractionAnalytics(ctx context.Context, extractionID int64, value decimal.NullDecimal, isJackpot *bool) error {
	return s.db.WithContext(ctx).Model(&model.Extraction{}).
		Where("id = ?", extractionID).
		Updates(map[string]any{"value": value, "is_jackpot": isJackpot}).Error
}

func (s *gormStore) ListExtractions(ctx context.Context, opts ListExtractionsOpts) ([]model.Extraction, error) {
	q := s.db.WithContext(ctx).Model(&model.Extraction{}).Preload("Products")
	if opts.RefineryID != 0 {
		q = q.Where("refinery_id = ?", opts.RefineryID)
	}
	if opts.Status != "" {
		q = q.Where("status = ?", opts.Status)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	var extractions []model.Extraction
	if err := q.Order("ready_time DESC").Find(&extractions).Error; err != nil {
		return nil, fmt.Errorf("failed to list extractions: %w", err)
	}
	return extractions, nil
}
