package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/modelfleet/sentinel/internal/config"
	"github.com/modelfleet/sentinel/internal/failover"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.Default()
	cfg.Failover.Backup.WarmupTime = 0
	cfg.Failover.Backup.ManageInterval = 10 * time.Millisecond
	cfg.Failover.HealthCheckInterval = 50 * time.Millisecond

	registry := prometheus.NewRegistry()
	system, err := failover.NewSystem(cfg.Failover, registry, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, system.Initialize())
	t.Cleanup(func() { _ = system.Shutdown() })

	return NewServer(&cfg, zap.NewNop(), system, registry)
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

// registerModel registers a model through the API and waits for its standby
// to warm up.
func registerModel(t *testing.T, s *Server, name string) string {
	t.Helper()

	rec := doJSON(t, s, http.MethodPost, "/api/v1/models", map[string]interface{}{
		"name":         name,
		"capabilities": []string{"chat"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp["id"])

	time.Sleep(100 * time.Millisecond)
	return resp["id"]
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestServer_ReadyReflectsCanOperate(t *testing.T) {
	s := newTestServer(t)

	// No standby is ready yet
	rec := doJSON(t, s, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	registerModel(t, s, "gpt-large")

	rec = doJSON(t, s, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sentinel_failover_success_rate")
}

func TestServer_RegisterModelValidation(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/models", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/models", bytes.NewBufferString("{not json"))
	out := httptest.NewRecorder()
	s.Router().ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)
}

func TestServer_ModelFailureFlow(t *testing.T) {
	s := newTestServer(t)
	id := registerModel(t, s, "gpt-large")

	rec := doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/v1/models/%s/failure", id), map[string]string{
		"reason": "latency spike",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var decision failover.Decision
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&decision))
	assert.True(t, decision.Resolved())
	assert.True(t, decision.FromStandby)
}

func TestServer_ModelFailureUnknownModel(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/models/no-such-model/failure", map[string]string{
		"reason": "crash",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ReportHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	id := registerModel(t, s, "gpt-large")

	rec := doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/v1/models/%s/health", id), failover.ModelMetrics{
		ErrorRate: 0.1,
		Load:      0.5,
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/models/unknown/health", failover.ModelMetrics{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_SystemHealthAndReport(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/system/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status failover.SystemHealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))

	rec = doJSON(t, s, http.MethodGet, "/api/v1/system/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report failover.Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.NotEmpty(t, report.Recommendations)
}

func TestServer_EventsEndpoint(t *testing.T) {
	s := newTestServer(t)
	id := registerModel(t, s, "gpt-large")

	rec := doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/v1/models/%s/failure", id), map[string]string{
		"reason": "crash",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/events?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var events []failover.EventRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&events))
	assert.NotEmpty(t, events)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/events?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
