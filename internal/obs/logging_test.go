package obs_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/berasid/backend-beras/internal/obs"
)

func TestRequestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	mw := obs.RequestLogger{Logger: zerolog.New(&buf).Level(zerolog.InfoLevel), Service: "beras-api"}
	handler := mw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/products", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	line := buf.String()
	require.Contains(t, line, `"service":"beras-api"`)
	require.Contains(t, line, `"route":"/products"`)
	require.Contains(t, line, `"client_ip":"192.0.2.1"`)
}

func TestRequestLoggerDemotesProbes(t *testing.T) {
	var buf bytes.Buffer
	mw := obs.RequestLogger{Logger: zerolog.New(&buf).Level(zerolog.InfoLevel)}
	handler := mw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	}
	require.Empty(t, buf.String(), "probe requests log at debug only")
}
