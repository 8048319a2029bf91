package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/berasid/backend-beras/internal/lock"
	"github.com/berasid/backend-beras/internal/queue"
)

// EnqueueDelivery publishes a webhook delivery task for the queue worker. The
// delivery row itself lives in postgres; the task only carries its ID, so a
// lost task is recovered by the periodic sweep.
func (d Dispatcher) EnqueueDelivery(ctx context.Context, deliveryID string, delay time.Duration, maxAttempts int) error {
	if strings.TrimSpace(deliveryID) == "" {
		return nil
	}
	if d.Queue.R == nil {
		return nil
	}
	if maxAttempts <= 0 {
		maxAttempts = d.DefaultMaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = 6
		}
	}
	task := queue.Task{
		Kind:           queue.KindWebhookDelivery,
		Payload:        []byte(deliveryID),
		IdempotencyKey: deliveryID,
		MaxAttempts:    maxAttempts,
		Delay:          delay,
	}
	return d.Queue.Enqueue(ctx, task)
}

// DeliveryWorker executes queued webhook deliveries under a per-delivery
// redis lock so the queue path and the DB sweep never double-send.
type DeliveryWorker struct {
	Dispatcher *Dispatcher
	Locker     lock.Locker
	LockTTL    time.Duration
	Logger     zerolog.Logger
}

// Handle executes the delivery identified by payload.
func (w DeliveryWorker) Handle(ctx context.Context, payload []byte) error {
	if w.Dispatcher == nil {
		return errors.New("webhook worker: dispatcher not configured")
	}
	deliveryID := strings.TrimSpace(string(payload))
	if deliveryID == "" {
		return nil
	}
	ttl := w.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	key := fmt.Sprintf("lock:webhook:%s", deliveryID)
	err := w.Locker.WithLock(ctx, key, ttl, func(ctx context.Context) error {
		return w.Dispatcher.DeliverByID(ctx, deliveryID)
	})
	if err != nil {
		w.Logger.Warn().Str("delivery_id", deliveryID).Err(err).Msg("webhook delivery attempt failed")
	}
	return err
}
