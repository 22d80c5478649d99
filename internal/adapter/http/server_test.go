package http_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	httpadapter "github.com/fernledge/homestream/internal/adapter/http"
	"github.com/fernledge/homestream/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReporter struct {
	ready  bool
	status pipeline.Status
}

func (m *mockReporter) Ready() bool             { return m.ready }
func (m *mockReporter) Status() pipeline.Status { return m.status }

func newTestServer(reporter *mockReporter) *httpadapter.Server {
	return httpadapter.NewServer(":0", reporter, slog.Default())
}

func TestHealthzReturns200(t *testing.T) {
	srv := newTestServer(&mockReporter{ready: true})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	srv := newTestServer(&mockReporter{ready: true})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	srv := newTestServer(&mockReporter{ready: false})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
}

func TestStatusReturnsSnapshot(t *testing.T) {
	srv := newTestServer(&mockReporter{
		ready: true,
		status: pipeline.Status{
			Connection:      "subscribed",
			EverSubscribed:  true,
			EventsExtracted: 42,
			BreakerState:    "closed",
			BatchesFlushed:  3,
		},
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body pipeline.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "subscribed", body.Connection)
	assert.Equal(t, uint64(42), body.EventsExtracted)
	assert.Equal(t, "closed", body.BreakerState)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(&mockReporter{ready: true})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
