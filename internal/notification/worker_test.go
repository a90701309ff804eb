package notification

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
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

	"moonmining-backend/internal/db"
	"moonmining-backend/internal/model"
)

// mockSender is a mock implementation of the NotificationSender interface.
type mockSender struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// Send calls the mock SendFunc.
func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

var testDBCounter atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:worker_test_%d?mode=memory&cache=shared", testDBCounter.Add(1))
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := testDB.DB()
		sqlDB.Close()
	})
	require.NoError(t, db.Migrate(testDB))
	return testDB
}

func seedJackpotExtraction(t *testing.T, testDB *gorm.DB) *model.Extraction {
	t.Helper()
	require.NoError(t, testDB.Create(&model.Refinery{ID: 1001, Name: "Auga - Nakamura Refinery"}).Error)

	jackpot := true
	extraction := &model.Extraction{
		RefineryID: 1001,
		ReadyTime:  time.Date(2026, 3, 12, 18, 0, 0, 0, time.UTC),
		Status:     model.StatusStarted,
		Value:      decimal.NullDecimal{Decimal: decimal.RequireFromString("12345678"), Valid: true},
		IsJackpot:  &jackpot,
	}
	require.NoError(t, testDB.Create(extraction).Error)
	return extraction
}

func okResponse() *http.Response {
	return &http.Response{
		StatusCode: http.StatusCreated,
		Body:       io.NopCloser(bytes.NewBufferString("")),
	}
}

func TestWorkerPool_Dispatch(t *testing.T) {
	wp := NewWorkerPool(1, newTestDB(t), &webpush.Options{}, zap.NewNop().Sugar())

	wp.Dispatch(123)

	select {
	case job := <-wp.Jobs():
		assert.Equal(t, int64(123), job)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for job to be dispatched")
	}
}

func TestWorkerPool_SendsJackpotAlert(t *testing.T) {
	testDB := newTestDB(t)
	extraction := seedJackpotExtraction(t, testDB)
	require.NoError(t, testDB.Create(&model.PushSubscription{
		Endpoint: "https://example.com/push",
		P256DH:   "test_p256dh",
		Auth:     "test_auth",
	}).Error)

	wp := NewWorkerPool(1, testDB, &webpush.Options{}, zap.NewNop().Sugar())

	var wg sync.WaitGroup
	wg.Add(1)
	var payload string
	wp.sender = &mockSender{
		SendFunc: func(p []byte, sub *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
			payload = string(p)
			assert.Equal(t, "https://example.com/push", sub.Endpoint)
			assert.Equal(t, "test_p256dh", sub.Keys.P256dh)
			wg.Done()
			return okResponse(), nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)
	wp.Dispatch(extraction.ID)
	wg.Wait()

	assert.Contains(t, payload, "Jackpot extraction at Auga - Nakamura Refinery")
	assert.Contains(t, payload, "2026-03-12 18:00")
	assert.Contains(t, payload, "12345678 ISK")

	// The announcement is recorded so a replayed sync won't alert again.
	assert.Eventually(t, func() bool {
		var reloaded model.Extraction
		if err := testDB.First(&reloaded, extraction.ID).Error; err != nil {
			return false
		}
		return reloaded.JackpotNotifiedAt != nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWorkerPool_DeletesExpiredSubscription(t *testing.T) {
	testDB := newTestDB(t)
	extraction := seedJackpotExtraction(t, testDB)
	require.NoError(t, testDB.Create(&model.PushSubscription{
		Endpoint: "https://example.com/expired",
		P256DH:   "test_p256dh",
		Auth:     "test_auth",
	}).Error)

	wp := NewWorkerPool(1, testDB, &webpush.Options{}, zap.NewNop().Sugar())
	var wg sync.WaitGroup
	wg.Add(1)
	wp.sender = &mockSender{
		SendFunc: func(_ []byte, _ *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
			wg.Done()
			return &http.Response{
				StatusCode: http.StatusGone,
				Body:       io.NopCloser(bytes.NewBufferString("")),
			}, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)
	wp.Dispatch(extraction.ID)
	wg.Wait()

	assert.Eventually(t, func() bool {
		var count int64
		testDB.Model(&model.PushSubscription{}).Count(&count)
		return count == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWorkerPool_NoSubscribersStillRecordsAnnouncement(t *testing.T) {
	testDB := newTestDB(t)
	extraction := seedJackpotExtraction(t, testDB)

	wp := NewWorkerPool(1, testDB, &webpush.Options{}, zap.NewNop().Sugar())
	wp.sender = &mockSender{
		SendFunc: func(_ []byte, _ *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
			t.Error("nothing should be sent without subscriptions")
			return okResponse(), nil
		},
	}

	wp.sendAlertsForExtraction(context.Background(), extraction.ID)

	var reloaded model.Extraction
	require.NoError(t, testDB.First(&reloaded, extraction.ID).Error)
	assert.NotNil(t, reloaded.JackpotNotifiedAt)
}
