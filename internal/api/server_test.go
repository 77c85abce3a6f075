package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealpipe/dealpipe/internal/api"
	"github.com/dealpipe/dealpipe/internal/breaker"
	"github.com/dealpipe/dealpipe/internal/config"
	"github.com/dealpipe/dealpipe/internal/dailycap"
	"github.com/dealpipe/dealpipe/internal/logger"
	"github.com/dealpipe/dealpipe/internal/metrics"
	"github.com/dealpipe/dealpipe/internal/ratelimit"
)

type healthBody struct {
	Status string `json:"status"`
	Checks map[string]struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	} `json:"checks"`
}

func okPing(context.Context) error { return nil }

func newTestServer(t *testing.T, deps api.Deps) *httptest.Server {
	t.Helper()

	if deps.Log == nil {
		deps.Log = logger.NewNop()
	}
	if deps.Breakers == nil {
		deps.Breakers = breaker.NewRegistry(breaker.Config{})
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.NewLimiter(ratelimit.Config{})
	}
	if deps.Caps == nil {
		deps.Caps = dailycap.NewTracker(dailycap.Config{})
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(deps.Registry)
	}

	server := api.NewServer(config.ServerConfig{Address: ":0"}, "development", deps)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getHealth(t *testing.T, ts *httptest.Server) (int, healthBody) {
	t.Helper()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body healthBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestHealthAllDependenciesUp(t *testing.T) {
	ts := newTestServer(t, api.Deps{DBPing: okPing, CachePing: okPing})

	code, body := getHealth(t, ts)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, api.StatusHealthy, body.Status)
	assert.Equal(t, api.StatusHealthy, body.Checks["database"].Status)
	assert.Equal(t, api.StatusHealthy, body.Checks["cache"].Status)
	assert.Equal(t, api.StatusHealthy, body.Checks["circuits"].Status)
}

func TestHealthDatabaseDownIsUnhealthy(t *testing.T) {
	ts := newTestServer(t, api.Deps{
		DBPing:    func(context.Context) error { return errors.New("connection refused") },
		CachePing: okPing,
	})

	code, body := getHealth(t, ts)

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, api.StatusUnhealthy, body.Status)
	assert.Equal(t, api.StatusUnhealthy, body.Checks["database"].Status)
}

func TestHealthCacheDownIsDegraded(t *testing.T) {
	ts := newTestServer(t, api.Deps{
		DBPing:    okPing,
		CachePing: func(context.Context) error { return errors.New("redis down") },
	})

	code, body := getHealth(t, ts)

	assert.Equal(t, http.StatusOK, code, "a degraded cache must not fail readiness")
	assert.Equal(t, api.StatusDegraded, body.Status)
	assert.Equal(t, api.StatusDegraded, body.Checks["cache"].Status)
}

func TestHealthOpenCircuitIsDegraded(t *testing.T) {
	breakers := breaker.NewRegistry(breaker.Config{FailureThreshold: 2})
	for i := 0; i < 2; i++ {
		breakers.RecordFailure("feed-a")
	}

	ts := newTestServer(t, api.Deps{DBPing: okPing, Breakers: breakers})

	code, body := getHealth(t, ts)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, api.StatusDegraded, body.Status)
	assert.Equal(t, api.StatusDegraded, body.Checks["circuits"].Status)
}

func TestHealthWithoutCacheOmitsCheck(t *testing.T) {
	ts := newTestServer(t, api.Deps{DBPing: okPing})

	code, body := getHealth(t, ts)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, api.StatusHealthy, body.Status)
	_, present := body.Checks["cache"]
	assert.False(t, present)
}

func TestIngestionMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, api.Deps{DBPing: okPing})

	resp, err := http.Get(ts.URL + "/metrics/ingestion")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body, "sources")
	assert.Contains(t, body, "circuits")
	assert.Contains(t, body, "rate_limits")
	assert.Contains(t, body, "daily_caps")
}

func TestPrometheusEndpoint(t *testing.T) {
	ts := newTestServer(t, api.Deps{DBPing: okPing})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
