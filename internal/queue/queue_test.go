package queue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/berasid/backend-beras/internal/queue"
)

func TestEnqueueDequeueWebhookDelivery(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	enq := queue.Enqueuer{R: client, Prefix: "beras"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveryID := "6f1d9f2a-8c3b-4f0e-9a77-5f4f2b6f9d10"
	err = enq.Enqueue(ctx, queue.Task{
		Kind:           queue.KindWebhookDelivery,
		Payload:        []byte(deliveryID),
		IdempotencyKey: deliveryID,
	})
	require.NoError(t, err)

	processed := make(chan queue.Task, 1)
	worker := queue.Worker{
		R:                 client,
		Prefix:            "beras",
		Kind:              queue.KindWebhookDelivery,
		Concurrency:       1,
		VisibilityTimeout: time.Second,
		RetryBase:         10 * time.Millisecond,
		Handler: func(ctx context.Context, task queue.Task) error {
			processed <- task
			cancel()
			return nil
		},
	}

	go func() {
		_ = worker.Run(ctx)
	}()

	select {
	case task := <-processed:
		require.Equal(t, []byte(deliveryID), task.Payload)
		require.Equal(t, deliveryID, task.IdempotencyKey)
		require.Equal(t, 1, task.Attempt)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for delivery task")
	}
}

func TestWorkerRetriesFailedDelivery(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	// the enqueuer default applies when the task carries no attempt budget
	enq := queue.Enqueuer{R: client, Prefix: "beras", MaxAttempts: 3}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, enq.Enqueue(ctx, queue.Task{
		Kind:           queue.KindWebhookDelivery,
		Payload:        []byte("delivery-1"),
		IdempotencyKey: "delivery-1",
	}))

	var attempts atomic.Int32
	var secondAttempt atomic.Int32
	worker := queue.Worker{
		R:                 client,
		Prefix:            "beras",
		Kind:              queue.KindWebhookDelivery,
		Concurrency:       1,
		VisibilityTimeout: time.Second,
		RetryBase:         5 * time.Millisecond,
		RetryJitter:       0.1,
		Handler: func(ctx context.Context, task queue.Task) error {
			if attempts.Add(1) == 1 {
				return errors.New("endpoint unreachable")
			}
			secondAttempt.Store(int32(task.Attempt))
			cancel()
			return nil
		},
	}

	go func() { _ = worker.Run(ctx) }()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not retry in time")
	}

	require.GreaterOrEqual(t, attempts.Load(), int32(2))
	require.Equal(t, int32(2), secondAttempt.Load(), "retry carries the attempt count")
}
