package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dogcatcher/authgw/internal/util"
)

// gatherFamily returns the named metric family from the registry, or nil.
func gatherFamily(t *testing.T, m *Metrics, name string) *dto.MetricFamily {
	t.Helper()

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

// labelValue returns the value of the named label on a metric, or "".
func labelValue(metric *dto.Metric, name string) string {
	for _, lp := range metric.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestNewMetrics_DefaultNamespace(t *testing.T) {
	t.Parallel()

	m := NewMetrics("")
	assert.NotNil(t, gatherFamily(t, m, "authgw_start_time_seconds"))
}

func TestRecordRequest(t *testing.T) {
	t.Parallel()

	m := NewMetrics("testgw")
	m.RecordRequest(http.MethodGet, "api", "apikey", http.StatusOK, 25*time.Millisecond, 512)
	m.RecordRequest(http.MethodGet, "api", "apikey", http.StatusOK, 5*time.Millisecond, 256)
	m.RecordRequest(http.MethodPost, "public", "none", http.StatusNotFound, time.Millisecond, 64)

	mf := gatherFamily(t, m, "testgw_requests_total")
	require.NotNil(t, mf)
	assert.Equal(t, dto.MetricType_COUNTER, mf.GetType())
	require.Len(t, mf.GetMetric(), 2)

	for _, metric := range mf.GetMetric() {
		switch labelValue(metric, "route") {
		case "api":
			assert.Equal(t, float64(2), metric.GetCounter().GetValue())
			assert.Equal(t, "apikey", labelValue(metric, "mode"))
			assert.Equal(t, "200", labelValue(metric, "status"))
		case "public":
			assert.Equal(t, float64(1), metric.GetCounter().GetValue())
			assert.Equal(t, "404", labelValue(metric, "status"))
		default:
			t.Fatalf("unexpected route label %q", labelValue(metric, "route"))
		}
	}

	hist := gatherFamily(t, m, "testgw_request_duration_seconds")
	require.NotNil(t, hist)
	var observations uint64
	for _, metric := range hist.GetMetric() {
		observations += metric.GetHistogram().GetSampleCount()
	}
	assert.Equal(t, uint64(3), observations)
}

func TestRecordAuthValidation(t *testing.T) {
	t.Parallel()

	m := NewMetrics("testgw")
	m.RecordAuthValidation("jwt", "success", "ok", time.Millisecond)
	m.RecordAuthValidation("jwt", "failure", "token_expired", time.Millisecond)

	mf := gatherFamily(t, m, "testgw_auth_validations_total")
	require.NotNil(t, mf)
	require.Len(t, mf.GetMetric(), 2)

	for _, metric := range mf.GetMetric() {
		assert.Equal(t, "jwt", labelValue(metric, "mode"))
		if labelValue(metric, "result") == "failure" {
			assert.Equal(t, "token_expired", labelValue(metric, "reason"))
		}
	}
}

func TestRecordIntrospection(t *testing.T) {
	t.Parallel()

	m := NewMetrics("testgw")
	m.RecordIntrospection("active", 40*time.Millisecond)
	m.RecordIntrospectionCache("hit")
	m.RecordIntrospectionCache("miss")
	m.RecordIntrospectionCache("miss")

	mf := gatherFamily(t, m, "testgw_oidc_introspection_cache_total")
	require.NotNil(t, mf)
	for _, metric := range mf.GetMetric() {
		switch labelValue(metric, "outcome") {
		case "hit":
			assert.Equal(t, float64(1), metric.GetCounter().GetValue())
		case "miss":
			assert.Equal(t, float64(2), metric.GetCounter().GetValue())
		}
	}

	hist := gatherFamily(t, m, "testgw_oidc_introspection_duration_seconds")
	require.NotNil(t, hist)
	assert.Equal(t, uint64(1), hist.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestRecordRouteCounters(t *testing.T) {
	t.Parallel()

	m := NewMetrics("testgw")
	m.RecordUpstreamError("api")
	m.RecordRateLimitHit("api")
	m.RecordRateLimitHit("api")

	errs := gatherFamily(t, m, "testgw_upstream_errors_total")
	require.NotNil(t, errs)
	assert.Equal(t, float64(1), errs.GetMetric()[0].GetCounter().GetValue())

	hits := gatherFamily(t, m, "testgw_rate_limit_hits_total")
	require.NotNil(t, hits)
	assert.Equal(t, float64(2), hits.GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, "api", labelValue(hits.GetMetric()[0], "route"))
}

func TestSetBuildInfo(t *testing.T) {
	t.Parallel()

	m := NewMetrics("testgw")
	m.SetBuildInfo("1.2.3", "abc1234", "2026-08-29T00:00:00Z")

	mf := gatherFamily(t, m, "testgw_build_info")
	require.NotNil(t, mf)
	require.Len(t, mf.GetMetric(), 1)
	metric := mf.GetMetric()[0]
	assert.Equal(t, float64(1), metric.GetGauge().GetValue())
	assert.Equal(t, "1.2.3", labelValue(metric, "version"))
	assert.Equal(t, "abc1234", labelValue(metric, "commit"))
}

func TestMetricsMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("labels from the dispatcher", func(t *testing.T) {
		t.Parallel()

		m := NewMetrics("testgw")
		handler := MetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			util.SetRouteInfo(r.Context(), "api", "apikey")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("created"))
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/items", nil))
		require.Equal(t, http.StatusCreated, rec.Code)

		mf := gatherFamily(t, m, "testgw_requests_total")
		require.NotNil(t, mf)
		require.Len(t, mf.GetMetric(), 1)
		metric := mf.GetMetric()[0]
		assert.Equal(t, "POST", labelValue(metric, "method"))
		assert.Equal(t, "api", labelValue(metric, "route"))
		assert.Equal(t, "apikey", labelValue(metric, "mode"))
		assert.Equal(t, "201", labelValue(metric, "status"))

		size := gatherFamily(t, m, "testgw_response_size_bytes")
		require.NotNil(t, size)
		assert.Equal(t, float64(len("created")), size.GetMetric()[0].GetHistogram().GetSampleSum())
	})

	t.Run("unmatched request falls back to bounded labels", func(t *testing.T) {
		t.Parallel()

		m := NewMetrics("testgw")
		handler := MetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/no/such/route", nil))

		mf := gatherFamily(t, m, "testgw_requests_total")
		require.NotNil(t, mf)
		metric := mf.GetMetric()[0]
		assert.Equal(t, unmatchedRoute, labelValue(metric, "route"))
		assert.Equal(t, "none", labelValue(metric, "mode"))
		assert.Equal(t, "404", labelValue(metric, "status"))
	})

	t.Run("active requests settle to zero", func(t *testing.T) {
		t.Parallel()

		m := NewMetrics("testgw")
		handler := MetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		mf := gatherFamily(t, m, "testgw_active_requests")
		require.NotNil(t, mf)
		assert.Equal(t, float64(0), mf.GetMetric()[0].GetGauge().GetValue())
	})
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := NewMetrics("testgw")
	m.RecordRequest(http.MethodGet, "api", "apikey", http.StatusOK, time.Millisecond, 10)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "testgw_requests_total")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
