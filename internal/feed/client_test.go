package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"moonmining-backend/config"
	"moonmining-backend/internal/db"
	"moonmining-backend/internal/store"
	"moonmining-backend/internal/syncer"
)

var testDBCounter atomic.Int64

func newTestClient(t *testing.T, handler http.Handler) (*Client, store.Store) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	dsn := fmt.Sprintf("file:feed_test_%d?mode=memory&cache=shared", testDBCounter.Add(1))
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := testDB.DB()
		sqlDB.Close()
	})
	require.NoError(t, db.Migrate(testDB))

	s := store.NewGormStore(testDB)
	client := NewClient(&config.FeedConfig{
		BaseURL:        server.URL,
		Headers:        map[string]string{"Authorization": "Bearer test-token"},
		TimeoutSeconds: 5,
	}, s, zap.NewNop().Sugar())
	return client, s
}

func TestFetchSince(t *testing.T) {
	timestamp := time.Date(2026, 2, 20, 10, 15, 0, 0, time.UTC)
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/notifications", r.URL.Path)
		assert.Equal(t, "2001", r.URL.Query().Get("corporation_id"))
		assert.Equal(t, "2026-01-01T00:00:00Z", r.URL.Query().Get("since"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode([]notificationItem{
			{ID: 42, Type: "MoonminingExtractionStarted", Timestamp: timestamp, Text: "structureID: 7\n"},
		})
	}))

	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	notifications, err := client.FetchSince(context.Background(), 2001, since)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, int64(42), notifications[0].ID)
	assert.Equal(t, "MoonminingExtractionStarted", notifications[0].Type)
	assert.True(t, notifications[0].Timestamp.Equal(timestamp))
	assert.Equal(t, "structureID: 7\n", notifications[0].Text)
}

func TestStructureInfo_ErrorClasses(t *testing.T) {
	var status atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	ctx := context.Background()

	status.Store(http.StatusBadGateway)
	_, err := client.StructureInfo(ctx, 7)
	assert.ErrorIs(t, err, syncer.ErrTransient, "5xx must be retryable")

	status.Store(http.StatusNotFound)
	_, err = client.StructureInfo(ctx, 7)
	require.Error(t, err)
	assert.NotErrorIs(t, err, syncer.ErrTransient, "a missing structure is permanent")
}

func TestNearestMoon(t *testing.T) {
	client, s := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/moons/nearest", r.URL.Path)
		assert.Equal(t, "30002537", r.URL.Query().Get("solar_system_id"))
		json.NewEncoder(w).Encode(moonItem{ID: 40161708, Name: "Auga V - Moon 1"})
	}))
	ctx := context.Background()

	moon, err := client.NearestMoon(ctx, 30002537, 1.5, -2.5, 3.5)
	require.NoError(t, err)
	require.NotNil(t, moon)
	assert.Equal(t, int64(40161708), moon.ID)
	assert.Equal(t, "Auga V - Moon 1", moon.Name)

	// The moon is persisted with its name for later lookups.
	persisted, err := s.GetOrCreateMoon(ctx, 40161708)
	require.NoError(t, err)
	assert.Equal(t, "Auga V - Moon 1", persisted.Name)
}

func TestNearestMoon_NoneNearby(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	moon, err := client.NearestMoon(context.Background(), 30002537, 0, 0, 0)
	require.NoError(t, err)
	assert.Nil(t, moon, "no nearby moon is a clean miss, not an error")
}

func TestMarketPricesAndOreType(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/markets/prices":
			json.NewEncoder(w).Encode([]map[string]any{
				{"type_id": 34, "average_price": "4.20"},
			})
		case "/types/46316":
			json.NewEncoder(w).Encode(map[string]any{
				"id": 46316, "name": "Brimful Bitumens", "group_id": 1884,
				"unit_volume": 10.0, "quality_value": 5,
				"materials": []map[string]any{
					{"material_type_id": 34, "quantity": 400},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	ctx := context.Background()

	prices, err := client.MarketPrices(ctx)
	require.NoError(t, err)
	require.Len(t, prices, 1)
	assert.Equal(t, int64(34), prices[0].TypeID)
	assert.Equal(t, "4.2", prices[0].AveragePrice.String())

	ore, err := client.OreType(ctx, 46316)
	require.NoError(t, err)
	assert.Equal(t, "Brimful Bitumens", ore.Name)
	assert.Equal(t, int64(1884), ore.GroupID)
	require.NotNil(t, ore.QualityValue)
	assert.Equal(t, 5, *ore.QualityValue)
	require.Len(t, ore.Materials, 1)
	assert.Equal(t, int64(400), ore.Materials[0].Quantity)
}
