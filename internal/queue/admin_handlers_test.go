package queue_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/berasid/backend-beras/internal/queue"
)

func TestDLQReplay(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newMemoryStore()
	handler := queue.AdminHandler{
		Store:             store,
		Queue:             queue.Enqueuer{R: client, Prefix: "adm", DedupTTL: time.Minute, MaxAttempts: 5},
		PageSize:          10,
		VisibilityTimeout: 60 * time.Second,
	}

	raw, err := json.Marshal(struct {
		Kind        string `json:"kind"`
		Key         string `json:"key"`
		Payload     []byte `json:"payload"`
		Attempt     int    `json:"attempt"`
		MaxAttempts int    `json:"max_attempts"`
		AvailableAt int64  `json:"available_at"`
	}{
		Kind:        "webhook",
		Key:         "dlq1",
		Payload:     []byte("payload"),
		Attempt:     2,
		MaxAttempts: 3,
		AvailableAt: time.Now().UnixNano(),
	})
	require.NoError(t, err)

	entry := queue.DLQEntry{
		Kind:           "webhook",
		IdempotencyKey: "dlq1",
		Payload:        raw,
		Attempts:       2,
		CreatedAt:      time.Now(),
	}
	id, err := store.InsertQueueDlq(context.Background(), entry)
	require.NoError(t, err)

	body := bytes.NewBufferString(`{"ids":["` + id.String() + `"]}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/queue/dlq/replay", body)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	handler.ReplayDLQ(rr, req)

	res := rr.Result()
	require.Equal(t, http.StatusOK, res.StatusCode)
	defer func() { _ = res.Body.Close() }()

	var resp struct {
		Replayed []string          `json:"replayed"`
		Failed   map[string]string `json:"failed"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&resp))
	require.Contains(t, resp.Replayed, id.String())
	require.Empty(t, resp.Failed)

	depth, err := client.ZCard(context.Background(), "adm:queue:webhook").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)

	_, err = store.GetQueueDlq(context.Background(), id)
	require.ErrorIs(t, err, queue.ErrNotFound)
}

func TestDLQListSurfacesWebhookDeliveries(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newMemoryStore()
	handler := queue.AdminHandler{
		Store:    store,
		Queue:    queue.Enqueuer{R: client, Prefix: "adm"},
		PageSize: 10,
	}

	deliveryID := "b7f3a1de-4242-4f61-9a5b-0f2f9a6f1c01"
	raw, err := json.Marshal(map[string]any{
		"kind":         queue.KindWebhookDelivery,
		"key":          deliveryID,
		"payload":      []byte(deliveryID),
		"attempt":      6,
		"max_attempts": 6,
	})
	require.NoError(t, err)

	_, err = store.InsertQueueDlq(context.Background(), queue.DLQEntry{
		Kind:           queue.KindWebhookDelivery,
		IdempotencyKey: deliveryID,
		Payload:        raw,
		Attempts:       6,
		CreatedAt:      time.Now(),
	})
	require.NoError(t, err)
	_, err = store.InsertQueueDlq(context.Background(), queue.DLQEntry{
		Kind:      queue.KindWebhookDelivery,
		Payload:   []byte("not json"),
		Attempts:  1,
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin/queue/dlq?kind="+queue.KindWebhookDelivery, nil)
	rr := httptest.NewRecorder()
	handler.ListDLQ(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Data []struct {
			Kind        string `json:"kind"`
			DeliveryID  string `json:"deliveryId"`
			Undecodable bool   `json:"undecodable"`
		} `json:"data"`
		Total int64 `json:"total"`
	}
	require.NoError(t, json.NewDecoder(rr.Result().Body).Decode(&resp))
	require.Equal(t, int64(2), resp.Total)
	require.Len(t, resp.Data, 2, "undecodable entries stay listable")

	byDelivery := map[string]bool{}
	for _, item := range resp.Data {
		require.Equal(t, queue.KindWebhookDelivery, item.Kind)
		if item.DeliveryID != "" {
			byDelivery[item.DeliveryID] = true
		} else {
			require.True(t, item.Undecodable)
		}
	}
	require.True(t, byDelivery[deliveryID])
}
