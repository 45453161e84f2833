package activitypub

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/deemkeen/fedinbox/logger"
	"github.com/deemkeen/fedinbox/telemetry"
)

const (
	deliveryBatchSize   = 50
	deliveryMaxAttempts = 10
)

// backoffMinutes is the retry schedule for failed deliveries.
var backoffMinutes = []int{1, 5, 15, 60, 240, 1440}

// StartDeliveryWorker runs the delivery queue processor until the context is
// cancelled.
func (f *Federation) StartDeliveryWorker(ctx context.Context) {
	interval := time.Duration(f.conf.Conf.DeliveryIntervalSec) * time.Second
	logger.Info("delivery_worker_started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.Info("delivery_worker_stopped")
				return
			case <-ticker.C:
				f.ProcessDeliveryQueue()
			}
		}
	}()
}

// ProcessDeliveryQueue drains due deliveries once: each is POSTed signed to
// its inbox; failures reschedule with exponential backoff and are dropped
// after too many attempts.
func (f *Federation) ProcessDeliveryQueue() {
	items, err := f.store.PendingDeliveries(deliveryBatchSize)
	if err != nil {
		logger.Error("delivery_queue_read_failed", zap.Error(err))
		return
	}
	if len(items) == 0 {
		return
	}
	logger.Info("delivery_queue_processing", zap.Int("pending", len(items)))

	for _, item := range items {
		err := f.SendToInbox(item.FromActor, item.InboxURL, item.ActivityJSON)
		if err == nil {
			telemetry.Deliveries.WithLabelValues("ok").Inc()
			if err := f.store.DeleteDelivery(item.ID); err != nil {
				logger.Error("delivery_dequeue_failed", zap.Error(err))
			}
			continue
		}

		telemetry.Deliveries.WithLabelValues("failed").Inc()
		attempts := item.Attempts + 1
		if attempts >= deliveryMaxAttempts {
			logger.Warn("delivery_abandoned",
				zap.String("inbox", item.InboxURL),
				zap.Int("attempts", attempts),
				zap.Error(err))
			if err := f.store.DeleteDelivery(item.ID); err != nil {
				logger.Error("delivery_dequeue_failed", zap.Error(err))
			}
			continue
		}

		backoff := backoffMinutes[min(attempts-1, len(backoffMinutes)-1)]
		next := time.Now().Add(time.Duration(backoff) * time.Minute)
		logger.Warn("delivery_retry_scheduled",
			zap.String("inbox", item.InboxURL),
			zap.Int("attempt", attempts),
			zap.Int("backoff_minutes", backoff),
			zap.Error(err))
		if err := f.store.UpdateDeliveryAttempt(item, attempts, next); err != nil {
			logger.Error("delivery_update_failed", zap.Error(err))
		}
	}
}
