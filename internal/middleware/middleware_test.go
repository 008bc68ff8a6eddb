package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dogcatcher/authgw/internal/observability"
)

// observedLogger adapts a zap observer core to the Logger interface so
// tests can assert on emitted entries.
type observedLogger struct {
	l *zap.Logger
}

func newObservedLogger(t *testing.T) (observability.Logger, *observer.ObservedLogs) {
	t.Helper()

	core, logs := observer.New(zap.DebugLevel)
	return &observedLogger{l: zap.New(core)}, logs
}

func (o *observedLogger) Debug(msg string, fields ...observability.Field) { o.l.Debug(msg, fields...) }
func (o *observedLogger) Info(msg string, fields ...observability.Field)  { o.l.Info(msg, fields...) }
func (o *observedLogger) Warn(msg string, fields ...observability.Field)  { o.l.Warn(msg, fields...) }
func (o *observedLogger) Error(msg string, fields ...observability.Field) { o.l.Error(msg, fields...) }
func (o *observedLogger) Fatal(msg string, fields ...observability.Field) { o.l.Fatal(msg, fields...) }

func (o *observedLogger) With(fields ...observability.Field) observability.Logger {
	return &observedLogger{l: o.l.With(fields...)}
}

func (o *observedLogger) WithContext(context.Context) observability.Logger { return o }

func (o *observedLogger) Sync() error { return nil }

func TestChain_Order(t *testing.T) {
	t.Parallel()

	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mw("outer"), mw("inner"))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestRequestID(t *testing.T) {
	t.Parallel()

	t.Run("generates when absent", func(t *testing.T) {
		t.Parallel()

		var got string
		handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = observability.RequestIDFromContext(r.Context())
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.NotEmpty(t, got)
		assert.Equal(t, got, rec.Header().Get(RequestIDHeader))
	})

	t.Run("honors inbound header", func(t *testing.T) {
		t.Parallel()

		var got string
		handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = observability.RequestIDFromContext(r.Context())
		}))

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(RequestIDHeader, "caller-id-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)

		assert.Equal(t, "caller-id-1", got)
		assert.Equal(t, "caller-id-1", rec.Header().Get(RequestIDHeader))
	})
}

func TestLogging(t *testing.T) {
	t.Parallel()

	logger, logs := newObservedLogger(t)

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	r := httptest.NewRequest(http.MethodGet, "/public/docs", nil)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	assert.Equal(t, "/public/docs", fields["path"])
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
	assert.Equal(t, int64(len("short and stout")), fields["size"])
}

func TestRecovery(t *testing.T) {
	t.Parallel()

	logger, logs := newObservedLogger(t)

	handler := Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
	assert.NotContains(t, rec.Body.String(), "kaboom")

	entries := logs.FilterMessage("panic recovered").All()
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ContextMap()["stack"])
}
