package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"moonmining-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool manages a pool of workers sending jackpot extraction alerts.
// A job is the ID of an extraction whose jackpot flag turned true.
type WorkerPool struct {
	size    int
	jobs    chan int64
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
	log     *zap.SugaredLogger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options, log *zap.SugaredLogger) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan int64, size),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		log:     log,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Infow("worker started", "worker", id)
	for {
		select {
		case extractionID := <-wp.jobs:
			wp.log.Infow("worker processing extraction", "worker", id, "extraction_id", extractionID)
			wp.sendAlertsForExtraction(ctx, extractionID)
		case <-ctx.Done():
			wp.log.Infow("worker shutting down", "worker", id)
			return
		}
	}
}

// Dispatch sends a job to the worker pool.
func (wp *WorkerPool) Dispatch(extractionID int64) {
	wp.jobs <- extractionID
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan int64 {
	return wp.jobs
}

// sendAlertsForExtraction fetches subscriptions and pushes a jackpot alert
// for the given extraction, then records the announcement.
func (wp *WorkerPool) sendAlertsForExtraction(ctx context.Context, extractionID int64) {
	var extraction model.Extraction
	if err := wp.db.WithContext(ctx).Preload("Refinery").First(&extraction, extractionID).Error; err != nil {
		wp.log.Errorw("failed to load extraction", "extraction_id", extractionID, "error", err)
		return
	}

	var subscriptions []model.PushSubscription
	if err := wp.db.WithContext(ctx).Find(&subscriptions).Error; err != nil {
		wp.log.Errorw("failed to fetch subscriptions", "extraction_id", extractionID, "error", err)
		return
	}

	if len(subscriptions) > 0 {
		wp.log.Infow("sending jackpot alerts", "extraction_id", extractionID, "subscriptions", len(subscriptions))

		refineryLabel := extraction.Refinery.Name
		if refineryLabel == "" {
			refineryLabel = fmt.Sprintf("refinery %d", extraction.RefineryID)
		}
		message := fmt.Sprintf("Jackpot extraction at %s, ready %s",
			refineryLabel, extraction.ReadyTime.UTC().Format("2006-01-02 15:04"))
		if extraction.Value.Valid {
			message += fmt.Sprintf(", est. %s ISK", extraction.Value.Decimal.StringFixed(0))
		}
		for _, sub := range subscriptions {
			wp.sendNotification(ctx, sub, []byte(message))
		}
	}

	now := time.Now().UTC()
	if err := wp.db.WithContext(ctx).Model(&model.Extraction{}).
		Where("id = ?", extractionID).
		Update("jackpot_notified_at", now).Error; err != nil {
		wp.log.Errorw("failed to record jackpot announcement", "extraction_id", extractionID, "error", err)
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.Errorw("failed to send notification", "endpoint", sub.Endpoint, "error", err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		wp.log.Infow("subscription expired, deleting", "endpoint", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			wp.log.Errorw("failed to delete expired subscription", "endpoint", sub.Endpoint, "error", err)
		}
	}
}
