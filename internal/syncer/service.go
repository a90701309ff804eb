package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"moonmining-backend/config"
	"moonmining-backend/internal/lifecycle"
	"moonmining-backend/internal/model"
	"moonmining-backend/internal/notification"
	"moonmining-backend/internal/parse"
	"moonmining-backend/internal/store"
)

// NotificationSource delivers raw notification records for one owner since a
// cursor. Records may arrive unordered and duplicated on the wire; ordering
// is this service's job, not the source's.
type NotificationSource interface {
	FetchSince(ctx context.Context, corporationID int64, since time.Time) ([]parse.Notification, error)
}

// Service orchestrates the periodic sync: fetch notifications per owner,
// parse, group by structure, and fold each structure's events through the
// lifecycle engine. Distinct structures run in parallel; one structure's
// events are always folded sequentially in one goroutine.
type Service struct {
	cfg        *config.Config
	store      store.Store
	source     NotificationSource
	catalog    *Catalog
	engine     *lifecycle.Engine
	workerPool *notification.WorkerPool
	log        *zap.SugaredLogger
}

// NewService creates and initializes a new syncer service.
func NewService(cfg *config.Config, s store.Store, source NotificationSource, catalog *Catalog, engine *lifecycle.Engine, workerPool *notification.WorkerPool, log *zap.SugaredLogger) *Service {
	return &Service{
		cfg:        cfg,
		store:      s,
		source:     source,
		catalog:    catalog,
		engine:     engine,
		workerPool: workerPool,
		log:        log,
	}
}

// Run starts the sync process in a loop.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Sync.Enabled {
		s.log.Info("syncer is disabled, not starting")
		return
	}
	s.log.Info("starting syncer service")

	s.workerPool.Start(ctx)

	s.SyncOnce(ctx)

	timer := time.NewTimer(s.cfg.Sync.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("syncer service shutting down")
			return
		case <-timer.C:
			s.SyncOnce(ctx)
			timer.Reset(s.cfg.Sync.Interval)
		}
	}
}

// SyncOnce performs a single sync cycle across all enabled owners. A failure
// is scoped to the owner (or structure) it occurred in, never the cycle.
func (s *Service) SyncOnce(ctx context.Context) {
	s.log.Info("executing sync cycle")
	now := time.Now().UTC()

	// Stale prices only skew value estimates, never block event processing.
	if err := s.catalog.RefreshPrices(ctx); err != nil {
		s.log.Warnw("price refresh failed, valuations use previous prices", "error", err)
	}

	owners, err := s.store.ListEnabledOwners(ctx)
	if err != nil {
		s.log.Errorw("failed to list owners", "error", err)
		return
	}

	for _, owner := range owners {
		err := s.syncOwner(ctx, owner)
		if err != nil {
			s.log.Errorw("owner sync failed", "corporation_id", owner.CorporationID, "error", err)
		}
		if err := s.store.SetOwnerSyncState(ctx, owner.CorporationID, now, err == nil); err != nil {
			s.log.Errorw("failed to record owner sync state", "corporation_id", owner.CorporationID, "error", err)
		}
	}

	s.log.Info("sync cycle finished")
}

func (s *Service) syncOwner(ctx context.Context, owner model.Owner) error {
	var since time.Time
	if owner.LastUpdateAt != nil {
		since = *owner.LastUpdateAt
	}

	notifications, err := s.fetchNotifications(ctx, owner.CorporationID, since)
	if err != nil {
		return fmt.Errorf("fetch notifications: %w", err)
	}
	if len(notifications) == 0 {
		s.log.Infow("no moon notifications received", "corporation_id", owner.CorporationID)
		return nil
	}

	byStructure := s.groupByStructure(notifications)
	if err := s.catalog.EnsureOreTypes(ctx, oreTypeIDs(byStructure)); err != nil {
		// Unknown ore rows degrade valuations for this cycle only.
		s.log.Warnw("ore catalog refresh incomplete", "corporation_id", owner.CorporationID, "error", err)
	}
	s.log.Infow("processing extraction events",
		"corporation_id", owner.CorporationID,
		"notifications", len(notifications),
		"structures", len(byStructure))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.cfg.Sync.Workers)
	for structureID, events := range byStructure {
		structureID, events := structureID, events
		eg.Go(func() error {
			extractions, err := s.engine.Reconstruct(egCtx, structureID, events)
			if err != nil {
				// Scoped to this structure; the rest of the owner proceeds.
				s.log.Errorw("structure reconstruction failed", "structure_id", structureID, "error", err)
				return nil
			}
			s.dispatchJackpots(extractions)
			return nil
		})
	}
	return eg.Wait()
}

// fetchNotifications pulls the owner's feed, retrying transient provider
// errors with capped exponential backoff.
func (s *Service) fetchNotifications(ctx context.Context, corporationID int64, since time.Time) ([]parse.Notification, error) {
	var notifications []parse.Notification
	operation := func() error {
		var err error
		notifications, err = s.source.FetchSince(ctx, corporationID, since)
		return err
	}
	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx))
	if err != nil {
		return nil, err
	}
	return notifications, nil
}

// groupByStructure parses raw records and buckets the events per structure.
// Malformed records are dropped with a log line and never fail the batch.
func (s *Service) groupByStructure(notifications []parse.Notification) map[int64][]parse.Event {
	byStructure := make(map[int64][]parse.Event)
	for _, n := range notifications {
		event, err := parse.ParseNotification(n)
		if err != nil {
			s.log.Warnw("dropping malformed notification", "notification_id", n.ID, "error", err)
			continue
		}
		byStructure[event.StructureID] = append(byStructure[event.StructureID], event)
	}
	return byStructure
}

// oreTypeIDs collects the distinct ore type IDs referenced by a batch.
func oreTypeIDs(byStructure map[int64][]parse.Event) []int64 {
	seen := make(map[int64]struct{})
	var ids []int64
	for _, events := range byStructure {
		for _, event := range events {
			for typeID := range event.OreVolumeByType {
				if _, ok := seen[typeID]; ok {
					continue
				}
				seen[typeID] = struct{}{}
				ids = append(ids, typeID)
			}
		}
	}
	return ids
}

// dispatchJackpots queues alerts for extractions that hold a confirmed
// jackpot and have not been announced yet.
func (s *Service) dispatchJackpots(extractions []model.Extraction) {
	for _, extraction := range extractions {
		if extraction.IsJackpot != nil && *extraction.IsJackpot && extraction.JackpotNotifiedAt == nil {
			s.log.Infow("dispatching jackpot alert", "extraction_id", extraction.ID, "refinery_id", extraction.RefineryID)
			s.workerPool.Dispatch(extraction.ID)
		}
	}
}
