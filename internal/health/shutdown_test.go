package health_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/berasid/backend-beras/internal/health"
)

type healthyChecker struct{}

func (healthyChecker) PingDB(context.Context, time.Duration) error    { return nil }
func (healthyChecker) PingRedis(context.Context, time.Duration) error { return nil }

func TestReadinessGateDuringShutdown(t *testing.T) {
	handler := health.Handler{Checker: healthyChecker{}}
	t.Cleanup(func() { health.SetReady(true) })

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)

	health.SetReady(true)
	resp := httptest.NewRecorder()
	handler.Ready(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	health.SetReady(false)
	resp2 := httptest.NewRecorder()
	handler.Ready(resp2, req)
	require.Equal(t, http.StatusServiceUnavailable, resp2.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&body))
	require.Equal(t, "shutting_down", body["status"])
}
