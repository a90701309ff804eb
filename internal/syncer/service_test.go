package syncer

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"moonmining-backend/config"
	"moonmining-backend/internal/db"
	"moonmining-backend/internal/lifecycle"
	"moonmining-backend/internal/model"
	"moonmining-backend/internal/notification"
	"moonmining-backend/internal/parse"
	"moonmining-backend/internal/store"
	"moonmining-backend/internal/valuation"
)

var testDBCounter atomic.Int64

const (
	testCorpID      = int64(2001)
	testStructureID = int64(1000000000001)
	testOreTypeID   = int64(46316)
	testMaterialID  = int64(34)
)

type fakeSource struct {
	notifications []parse.Notification
	failures      int32 // transient errors to return before succeeding
	calls         int32
}

func (f *fakeSource) FetchSince(_ context.Context, _ int64, since time.Time) ([]parse.Notification, error) {
	atomic.AddInt32(&f.calls, 1)
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return nil, fmt.Errorf("%w: connection reset", ErrTransient)
	}
	var newer []parse.Notification
	for _, n := range f.notifications {
		if n.Timestamp.After(since) {
			newer = append(newer, n)
		}
	}
	return newer, nil
}

type fakeProvider struct{}

func (fakeProvider) StructureInfo(_ context.Context, structureID int64) (*StructureInfo, error) {
	return &StructureInfo{
		ID:            structureID,
		Name:          "Auga - Nakamura Refinery",
		OwnerID:       testCorpID,
		SolarSystemID: 30002537,
	}, nil
}

func (fakeProvider) NearestMoon(context.Context, int64, float64, float64, float64) (*model.Moon, error) {
	return nil, nil
}

func (fakeProvider) OreType(_ context.Context, typeID int64) (*model.OreType, error) {
	quality := 5
	return &model.OreType{
		ID: typeID, Name: "Brimful Bitumens", GroupID: 1884, UnitVolume: 10, QualityValue: &quality,
		Materials: []model.OreTypeMaterial{{MaterialTypeID: testMaterialID, Quantity: 400}},
	}, nil
}

func (fakeProvider) MarketPrices(context.Context) ([]model.MarketPrice, error) {
	return []model.MarketPrice{{TypeID: testMaterialID, AveragePrice: decimal.RequireFromString("2")}}, nil
}

func startedNotification(id int64, readyTime time.Time) parse.Notification {
	return parse.Notification{
		ID:        id,
		Type:      "MoonminingExtractionStarted",
		Timestamp: readyTime.Add(-20 * 24 * time.Hour),
		Text: fmt.Sprintf(`structureID: %d
moonID: 40161708
solarSystemID: 30002537
startedBy: 3004073
readyTime: %d
autoTime: %d
oreVolumeByType:
  %d: 1000.0
`, testStructureID, parse.NTTicks(readyTime), parse.NTTicks(readyTime.Add(3*time.Hour)), testOreTypeID),
	}
}

func newTestService(t *testing.T, source *fakeSource) (*Service, store.Store, *notification.WorkerPool) {
	t.Helper()
	dsn := fmt.Sprintf("file:syncer_test_%d?mode=memory&cache=shared", testDBCounter.Add(1))
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := testDB.DB()
		sqlDB.Close()
	})
	require.NoError(t, db.Migrate(testDB))

	require.NoError(t, testDB.Create(&model.Owner{
		CorporationID: testCorpID, Name: "Test Corp", IsEnabled: true,
	}).Error)

	log := zap.NewNop().Sugar()
	s := store.NewGormStore(testDB)
	provider := fakeProvider{}
	directory := NewDirectory(s, provider, provider, log)
	catalog := NewCatalog(s, provider, provider, log)
	aggregator := valuation.NewAggregator(valuation.NewEngine(s, 0.85, 1000), s)
	engine := lifecycle.NewEngine(s, directory, aggregator, log)
	// Buffered pool, never started: dispatched jobs stay observable.
	workerPool := notification.NewWorkerPool(4, testDB, &webpush.Options{}, log)

	cfg := &config.Config{}
	cfg.Sync.Enabled = true
	cfg.Sync.Workers = 2
	cfg.Sync.Interval = time.Minute

	return NewService(cfg, s, source, catalog, engine, workerPool, log), s, workerPool
}

func TestSyncOnce(t *testing.T) {
	readyTime := time.Date(2026, 3, 12, 18, 0, 0, 0, time.UTC)
	source := &fakeSource{notifications: []parse.Notification{
		startedNotification(1, readyTime),
		{ID: 99, Type: "StructureUnderAttack", Timestamp: readyTime, Text: "ignored"}, // dropped, not fatal
	}}
	svc, s, workerPool := newTestService(t, source)
	ctx := context.Background()

	svc.SyncOnce(ctx)

	// The started event became a tracked extraction with derived analytics.
	extraction, err := s.ExtractionByKey(ctx, testStructureID, readyTime)
	require.NoError(t, err)
	assert.Equal(t, model.StatusStarted, extraction.Status)
	require.True(t, extraction.Value.Valid)
	// 1000 m³ at 400 units/batch, 2 ISK, 0.85 yield.
	assert.True(t, extraction.Value.Decimal.Equal(decimal.RequireFromString("680")),
		"got %s", extraction.Value.Decimal)

	// All-excellent yield is a jackpot; the pool got the alert job.
	require.NotNil(t, extraction.IsJackpot)
	assert.True(t, *extraction.IsJackpot)
	select {
	case job := <-workerPool.Jobs():
		assert.Equal(t, extraction.ID, job)
	default:
		t.Fatal("expected a dispatched jackpot alert")
	}

	// Provider data was folded into the local catalog and refinery rows.
	ore, err := s.OreTypeByID(ctx, testOreTypeID)
	require.NoError(t, err)
	assert.Equal(t, "Brimful Bitumens", ore.Name)
	refinery, err := s.RefineryByID(ctx, testStructureID)
	require.NoError(t, err)
	assert.Equal(t, "Auga - Nakamura Refinery", refinery.Name)

	// Owner bookkeeping recorded the successful cycle.
	owners, err := s.ListEnabledOwners(ctx)
	require.NoError(t, err)
	require.Len(t, owners, 1)
	require.NotNil(t, owners[0].LastUpdateOk)
	assert.True(t, *owners[0].LastUpdateOk)
	require.NotNil(t, owners[0].LastUpdateAt)
}

func TestSyncOnce_RetriesTransientFetch(t *testing.T) {
	readyTime := time.Date(2026, 3, 12, 18, 0, 0, 0, time.UTC)
	source := &fakeSource{
		notifications: []parse.Notification{startedNotification(1, readyTime)},
		failures:      2,
	}
	svc, s, _ := newTestService(t, source)
	ctx := context.Background()

	svc.SyncOnce(ctx)

	assert.GreaterOrEqual(t, atomic.LoadInt32(&source.calls), int32(3))
	_, err := s.ExtractionByKey(ctx, testStructureID, readyTime)
	assert.NoError(t, err, "the sync must survive transient fetch errors")
}

func TestSyncOnce_FailedFetchKeepsCursor(t *testing.T) {
	readyTime := time.Date(2026, 3, 12, 18, 0, 0, 0, time.UTC)
	source := &fakeSource{
		notifications: []parse.Notification{startedNotification(1, readyTime)},
		failures:      1000, // provider down for the whole first cycle
	}
	svc, s, _ := newTestService(t, source)
	ctx := context.Background()

	svc.SyncOnce(ctx)

	// The outage is recorded but the cursor stays put: the window the
	// notification sits in must be fetched again.
	owners, err := s.ListEnabledOwners(ctx)
	require.NoError(t, err)
	require.Len(t, owners, 1)
	require.NotNil(t, owners[0].LastUpdateOk)
	assert.False(t, *owners[0].LastUpdateOk)
	assert.Nil(t, owners[0].LastUpdateAt)

	// Provider recovers; the held notification is still inside the window.
	atomic.StoreInt32(&source.failures, 0)
	svc.SyncOnce(ctx)

	extraction, err := s.ExtractionByKey(ctx, testStructureID, readyTime)
	require.NoError(t, err, "notifications held during an outage must be refetched")
	assert.Equal(t, model.StatusStarted, extraction.Status)

	owners, err = s.ListEnabledOwners(ctx)
	require.NoError(t, err)
	require.NotNil(t, owners[0].LastUpdateOk)
	assert.True(t, *owners[0].LastUpdateOk)
	require.NotNil(t, owners[0].LastUpdateAt)
}

func TestSyncOnce_ReplayDoesNotRedispatchJackpot(t *testing.T) {
	readyTime := time.Date(2026, 3, 12, 18, 0, 0, 0, time.UTC)
	source := &fakeSource{notifications: []parse.Notification{startedNotification(1, readyTime)}}
	svc, s, workerPool := newTestService(t, source)
	ctx := context.Background()

	svc.SyncOnce(ctx)
	<-workerPool.Jobs()

	// Pretend the worker announced it.
	extraction, err := s.ExtractionByKey(ctx, testStructureID, readyTime)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, s.DB().Model(&model.Extraction{}).
		Where("id = ?", extraction.ID).
		Update("jackpot_notified_at", now).Error)

	// Rewind the cursor so the second cycle re-delivers the same window.
	require.NoError(t, s.DB().Model(&model.Owner{}).
		Where("corporation_id = ?", testCorpID).
		Update("last_update_at", nil).Error)

	svc.SyncOnce(ctx)

	select {
	case job := <-workerPool.Jobs():
		t.Fatalf("unexpected duplicate alert for extraction %d", job)
	default:
	}
}
