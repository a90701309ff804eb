package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"moonmining-backend/internal/model"
	"moonmining-backend/internal/parse"
	"moonmining-backend/internal/store"
	"moonmining-backend/internal/valuation"
)

// StructureDirectory resolves a structure ID into a locally persisted
// refinery, creating it from upstream data when unknown. Implementations are
// expected to fail transiently; a failure leaves the structure unresolved
// for the next cycle and never aborts a batch.
type StructureDirectory interface {
	ResolveOrCreate(ctx context.Context, structureID int64) (*model.Refinery, error)
}

// Engine folds notification events into extraction records. Events for one
// structure must always pass through a single Reconstruct call in one
// goroutine; distinct structures may be processed in parallel.
type Engine struct {
	store      store.Store
	directory  StructureDirectory
	aggregator *valuation.Aggregator
	log        *zap.SugaredLogger
}

// NewEngine creates a lifecycle engine.
func NewEngine(s store.Store, directory StructureDirectory, aggregator *valuation.Aggregator, log *zap.SugaredLogger) *Engine {
	return &Engine{store: s, directory: directory, aggregator: aggregator, log: log}
}

// Reconstruct applies one structure's events to the persisted extraction
// state and returns the extractions that were touched, products loaded.
//
// Sorting by timestamp (stable for ties) is part of the contract, not an
// optimization: cancellations and completions must fold after the start they
// refer to, regardless of feed arrival order. Replaying an already applied
// batch changes nothing beyond refreshing derived fields.
func (e *Engine) Reconstruct(ctx context.Context, structureID int64, events []parse.Event) ([]model.Extraction, error) {
	sorted := make([]parse.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	touched := make(map[int64]struct{})
	for _, event := range sorted {
		if event.StructureID != structureID {
			return nil, fmt.Errorf("event %d belongs to structure %d, not %d", event.NotificationID, event.StructureID, structureID)
		}

		refinery, err := e.ensureRefinery(ctx, event)
		if err != nil {
			return nil, err
		}
		if refinery == nil {
			// Unresolved structure: tracked for later reconciliation, but
			// this event cannot be folded yet.
			continue
		}

		extractionID, err := e.apply(ctx, refinery, event)
		if err != nil {
			return nil, err
		}
		if extractionID != 0 {
			touched[extractionID] = struct{}{}
			if err := e.aggregator.RefreshExtractionAnalytics(ctx, extractionID); err != nil {
				return nil, err
			}
		}
	}

	result := make([]model.Extraction, 0, len(touched))
	for id := range touched {
		extraction, err := e.store.ExtractionWithProducts(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("reload extraction %d: %w", id, err)
		}
		result = append(result, *extraction)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ReadyTime.Before(result[j].ReadyTime) })
	return result, nil
}

// ensureRefinery returns the event's refinery, resolving it through the
// directory when unknown locally or persisted as a bare row from an earlier
// resolution failure. A nil refinery with nil error means the structure stays
// unresolved for this cycle.
func (e *Engine) ensureRefinery(ctx context.Context, event parse.Event) (*model.Refinery, error) {
	refinery, err := e.store.RefineryByID(ctx, event.StructureID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load refinery %d: %w", event.StructureID, err)
	}
	if err != nil || refinery.Name == "" {
		refinery, err = e.directory.ResolveOrCreate(ctx, event.StructureID)
		if err != nil {
			e.log.Warnw("structure resolution failed, leaving unresolved",
				"structure_id", event.StructureID, "error", err)
			if err := e.store.EnsureRefinery(ctx, event.StructureID); err != nil {
				return nil, fmt.Errorf("record unresolved structure %d: %w", event.StructureID, err)
			}
			return nil, nil
		}
	}

	// Notifications carry the moon ID; use it when the nearest-celestial
	// lookup has not linked one yet.
	if refinery.MoonID == nil && event.MoonID != 0 {
		if err := e.store.LinkRefineryMoon(ctx, refinery.ID, event.MoonID); err != nil {
			return nil, fmt.Errorf("link moon %d to refinery %d: %w", event.MoonID, refinery.ID, err)
		}
		refinery.MoonID = &event.MoonID
	}
	return refinery, nil
}

// apply folds a single event and returns the affected extraction ID, or zero
// when the event matched nothing.
func (e *Engine) apply(ctx context.Context, refinery *model.Refinery, event parse.Event) (int64, error) {
	switch event.Type {
	case parse.EventExtractionStarted:
		return e.applyStarted(ctx, refinery, event)
	case parse.EventExtractionCancelled:
		return e.applyCancelled(ctx, refinery, event)
	case parse.EventExtractionFinished:
		return e.applyFinished(ctx, refinery, event)
	case parse.EventAutomaticFracture, parse.EventLaserFired:
		return e.applyFracture(ctx, refinery, event)
	}
	e.log.Warnw("unhandled event type", "type", event.Type, "notification_id", event.NotificationID)
	return 0, nil
}

func (e *Engine) applyStarted(ctx context.Context, refinery *model.Refinery, event parse.Event) (int64, error) {
	extraction := &model.Extraction{
		RefineryID: refinery.ID,
		ReadyTime:  event.ReadyTime,
		AutoTime:   event.AutoTime,
		StartedBy:  actorPtr(event.StartedBy),
	}
	products := make([]model.ExtractionProduct, 0, len(event.OreVolumeByType))
	for oreTypeID, volume := range event.OreVolumeByType {
		products = append(products, model.ExtractionProduct{OreTypeID: oreTypeID, Volume: volume})
	}

	id, err := e.store.UpsertStartedExtraction(ctx, extraction, products)
	if err != nil {
		return 0, fmt.Errorf("upsert started extraction for refinery %d: %w", refinery.ID, err)
	}
	return id, nil
}

func (e *Engine) applyCancelled(ctx context.Context, refinery *model.Refinery, event parse.Event) (int64, error) {
	extraction, err := e.store.LatestStartedExtraction(ctx, refinery.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// The start may predate the tracking window; likely an incomplete
		// event history, not an error.
		e.log.Warnw("cancellation without a matching started extraction",
			"refinery_id", refinery.ID, "notification_id", event.NotificationID)
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	applied, err := e.store.MarkExtractionCanceled(ctx, extraction.ID, event.Timestamp, actorPtr(event.CanceledBy))
	if err != nil {
		return 0, err
	}
	if !applied {
		return 0, nil
	}
	return extraction.ID, nil
}

func (e *Engine) applyFinished(ctx context.Context, refinery *model.Refinery, event parse.Event) (int64, error) {
	extraction, err := e.matchExtraction(ctx, refinery.ID, event.ReadyTime)
	if extraction == nil {
		if err != nil {
			return 0, err
		}
		e.log.Warnw("finish without a matching extraction",
			"refinery_id", refinery.ID, "notification_id", event.NotificationID)
		return 0, nil
	}

	applied, err := e.store.MarkExtractionCompleted(ctx, extraction.ID, event.Timestamp)
	if err != nil {
		return 0, err
	}
	if !applied {
		return 0, nil
	}
	return extraction.ID, nil
}

func (e *Engine) applyFracture(ctx context.Context, refinery *model.Refinery, event parse.Event) (int64, error) {
	extraction, err := e.matchExtraction(ctx, refinery.ID, event.ReadyTime)
	if extraction == nil {
		if err != nil {
			return 0, err
		}
		e.log.Warnw("fracture without a matching extraction",
			"refinery_id", refinery.ID, "notification_id", event.NotificationID)
		return 0, nil
	}

	// An automatic fracture carries no actor; that absence distinguishes it
	// from a manually fired laser.
	applied, err := e.store.MarkExtractionFractured(ctx, extraction.ID, event.Timestamp, actorPtr(event.FiredBy))
	if err != nil {
		return 0, err
	}
	if !applied {
		return 0, nil
	}
	return extraction.ID, nil
}

// matchExtraction locates the extraction an event refers to: by the second
// granular ready time when the payload carries one, otherwise the latest
// non-terminal extraction for the structure. Returns (nil, nil) on no match.
func (e *Engine) matchExtraction(ctx context.Context, refineryID int64, readyTime time.Time) (*model.Extraction, error) {
	var (
		extraction *model.Extraction
		err        error
	)
	if !readyTime.IsZero() {
		extraction, err = e.store.ExtractionByKey(ctx, refineryID, readyTime)
	} else {
		extraction, err = e.store.LatestActiveExtraction(ctx, refineryID)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return extraction, nil
}

func actorPtr(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
