package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"moonmining-backend/internal/model"
	"moonmining-backend/internal/store"
)

// ErrTransient marks upstream failures that are worth retrying on the next
// cycle. Implementations wrap it so callers can tell flaky infrastructure
// apart from permanent lookup misses.
var ErrTransient = errors.New("transient upstream error")

// StructureInfo is the provider's view of a structure.
type StructureInfo struct {
	ID            int64
	Name          string
	OwnerID       int64
	SolarSystemID int64
	X, Y, Z       float64
}

// StructureInfoSource fetches structure details from the provider.
type StructureInfoSource interface {
	StructureInfo(ctx context.Context, structureID int64) (*StructureInfo, error)
}

// MoonResolver finds the moon nearest to a position in space. A nil result
// without error means no moon is near the position.
type MoonResolver interface {
	NearestMoon(ctx context.Context, solarSystemID int64, x, y, z float64) (*model.Moon, error)
}

// Directory persists structures on demand: it resolves a structure ID into a
// refinery row using provider data and links the moon the refinery sits at.
// It implements lifecycle.StructureDirectory.
type Directory struct {
	store  store.Store
	source StructureInfoSource
	moons  MoonResolver
	log    *zap.SugaredLogger
}

// NewDirectory creates a structure directory.
func NewDirectory(s store.Store, source StructureInfoSource, moons MoonResolver, log *zap.SugaredLogger) *Directory {
	return &Directory{store: s, source: source, moons: moons, log: log}
}

// ResolveOrCreate returns the refinery for a structure ID, creating it from
// provider data when not yet known locally. Idempotent; safe to call from
// concurrent per-structure workers since each structure ID is only ever
// handled by one worker at a time.
func (d *Directory) ResolveOrCreate(ctx context.Context, structureID int64) (*model.Refinery, error) {
	refinery, err := d.store.RefineryByID(ctx, structureID)
	if err == nil && refinery.Name != "" {
		return refinery, nil
	}

	var info *StructureInfo
	fetch := func() error {
		var err error
		info, err = d.source.StructureInfo(ctx, structureID)
		if err != nil && !errors.Is(err, ErrTransient) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(fetch, backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)); err != nil {
		return nil, fmt.Errorf("fetch structure %d: %w", structureID, err)
	}

	refinery = &model.Refinery{
		ID:      info.ID,
		Name:    info.Name,
		OwnerID: ownerPtr(info.OwnerID),
	}
	if err := d.store.UpsertRefinery(ctx, refinery); err != nil {
		return nil, fmt.Errorf("upsert refinery %d: %w", structureID, err)
	}

	// Moon resolution is best effort: a transient geometry lookup failure
	// leaves the refinery without a moon until the next cycle.
	if err := d.linkMoon(ctx, refinery, info); err != nil {
		d.log.Warnw("moon resolution failed, refinery left unlinked",
			"structure_id", structureID, "error", err)
	}
	return refinery, nil
}

func (d *Directory) linkMoon(ctx context.Context, refinery *model.Refinery, info *StructureInfo) error {
	moon, err := d.moons.NearestMoon(ctx, info.SolarSystemID, info.X, info.Y, info.Z)
	if err != nil {
		return err
	}
	if moon == nil {
		return nil
	}
	if err := d.store.LinkRefineryMoon(ctx, refinery.ID, moon.ID); err != nil {
		return err
	}
	refinery.MoonID = &moon.ID
	return nil
}

func ownerPtr(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
