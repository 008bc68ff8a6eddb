package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dogcatcher/authgw/internal/config"
	"github.com/dogcatcher/authgw/internal/health"
	"github.com/dogcatcher/authgw/internal/observability"
)

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("AUTHGW_TEST_VAR", "from-env")

	assert.Equal(t, "from-env", getEnvOrDefault("AUTHGW_TEST_VAR", "fallback"))
	assert.Equal(t, "fallback", getEnvOrDefault("AUTHGW_TEST_VAR_UNSET", "fallback"))
}

func TestBuildMiddlewareChain(t *testing.T) {
	t.Parallel()

	logger := observability.NopLogger()
	metrics := observability.NewMetrics("authgw_chain_test")
	tracer, err := observability.NewTracer(observability.TracerConfig{ServiceName: "test"})
	require.NoError(t, err)

	t.Run("rate limiting disabled", func(t *testing.T) {
		chain, limiter := buildMiddlewareChain(config.DefaultConfig(), logger, metrics, tracer)
		assert.Len(t, chain, 6)
		assert.Nil(t, limiter)
	})

	t.Run("rate limiting enabled", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.RateLimit = &config.RateLimitConfig{
			Enabled: true, RequestsPerSecond: 10, Burst: 5,
		}

		chain, limiter := buildMiddlewareChain(cfg, logger, metrics, tracer)
		assert.Len(t, chain, 6)
		require.NotNil(t, limiter)
		limiter.Stop()
	})
}

func TestInitTracer_Defaults(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	tracer := initTracer(cfg, observability.NopLogger())
	assert.NotNil(t, tracer)
}

func TestCreateMetricsServer(t *testing.T) {
	t.Parallel()

	metrics := observability.NewMetrics("authgw_metrics_test")
	probes := health.NewHandler("authgw")

	server := createMetricsServer(9090, "/metrics", metrics, probes, observability.NopLogger())
	require.NotNil(t, server)
	assert.Equal(t, ":9090", server.Addr)

	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}
