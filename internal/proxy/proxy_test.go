package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dogcatcher/authgw/internal/audit"
	"github.com/dogcatcher/authgw/internal/auth"
	"github.com/dogcatcher/authgw/internal/config"
	"github.com/dogcatcher/authgw/internal/policy"
	"github.com/dogcatcher/authgw/internal/router"
)

// fakeVerifier returns a canned identity or error.
type fakeVerifier struct {
	mode     auth.Mode
	identity *auth.Identity
	err      error
}

func (f *fakeVerifier) Mode() auth.Mode { return f.mode }

func (f *fakeVerifier) Verify(context.Context, *http.Request) (*auth.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.identity, nil
}

// capturedRequest is what the upstream observed.
type capturedRequest struct {
	path   string
	query  string
	header http.Header
}

// captureUpstream records the last request it received.
type captureUpstream struct {
	mu   sync.Mutex
	last *capturedRequest
}

func (c *captureUpstream) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.last = &capturedRequest{
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			header: r.Header.Clone(),
		}
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "upstream ok")
	})
}

func (c *captureUpstream) lastRequest(t *testing.T) *capturedRequest {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotNil(t, c.last, "upstream received no request")
	return c.last
}

// recordingDecisions captures decision events in memory.
type recordingDecisions struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (r *recordingDecisions) Record(_ context.Context, e *audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingDecisions) Close() error { return nil }

func (r *recordingDecisions) all() []*audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*audit.Event, len(r.events))
	copy(out, r.events)
	return out
}

func testRouter(t *testing.T, upstream string) *router.Router {
	t.Helper()

	rt, err := router.New([]config.Route{
		{Name: "public", Prefix: "/public", Mode: "none", Upstream: upstream},
		{Name: "api", Prefix: "/apikey", Mode: "apikey", Upstream: upstream},
		{Name: "certs", Prefix: "/mtls", Mode: "mtls", Upstream: upstream},
		{Name: "tokens", Prefix: "/jwt", Mode: "jwt", Upstream: upstream,
			ClaimsPolicy: `"gateway" in claims.aud`},
		{Name: "sso", Prefix: "/oidc", Mode: "oidc", Upstream: upstream},
		{Name: "stripped", Prefix: "/svc", Mode: "none", StripPrefix: true, Upstream: upstream},
	}, &config.Route{Name: "direct", Mode: "direct", Upstream: upstream})
	require.NoError(t, err)
	return rt
}

func testWiring(t *testing.T) *Wiring {
	t.Helper()

	policies, err := policy.NewEvaluator(map[string]string{
		"tokens": `"gateway" in claims.aud`,
	})
	require.NoError(t, err)

	return &Wiring{
		Verifiers: map[auth.Mode]auth.Verifier{
			auth.ModeAPIKey: &fakeVerifier{
				mode: auth.ModeAPIKey,
				identity: &auth.Identity{
					Mode: auth.ModeAPIKey, Verified: true, Principal: "citizen",
				},
			},
			auth.ModeMutualTLS: &fakeVerifier{
				mode: auth.ModeMutualTLS,
				identity: &auth.Identity{
					Mode: auth.ModeMutualTLS, Verified: true, Principal: "CN=client",
				},
			},
			auth.ModeJWT: &fakeVerifier{
				mode: auth.ModeJWT,
				identity: &auth.Identity{
					Mode: auth.ModeJWT, Verified: true, Principal: "user-1",
					Claims: map[string]any{"aud": []any{"gateway"}},
				},
			},
			auth.ModeOIDC: &fakeVerifier{
				mode: auth.ModeOIDC,
				identity: &auth.Identity{
					Mode: auth.ModeOIDC, Verified: true,
					Principal: "alice", Email: "alice@example.com",
				},
			},
		},
		Policies: policies,
	}
}

func TestPipeline_PublicRoute(t *testing.T) {
	t.Parallel()

	upstream := &captureUpstream{}
	server := httptest.NewServer(upstream.handler())
	defer server.Close()

	p := New(testRouter(t, server.URL), testWiring(t))

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/public/docs", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	got := upstream.lastRequest(t)
	assert.Equal(t, "public", got.header.Get(HeaderAuthMode))
	assert.Equal(t, "true", got.header.Get(HeaderAuthVerified))
	assert.Empty(t, got.header.Get(HeaderJWTSubject))
}

func TestPipeline_SpoofedHeadersStripped(t *testing.T) {
	t.Parallel()

	upstream := &captureUpstream{}
	server := httptest.NewServer(upstream.handler())
	defer server.Close()

	p := New(testRouter(t, server.URL), testWiring(t))

	// Direct mode sets no identity headers, so anything the upstream
	// sees here came from the client.
	r := httptest.NewRequest(http.MethodGet, "/anything", nil)
	r.Header.Set(HeaderAuthVerified, "true")
	r.Header.Set(HeaderAuthMode, "apikey")
	r.Header.Set(HeaderJWTSubject, "admin")

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
	got := upstream.lastRequest(t)
	assert.Empty(t, got.header.Get(HeaderAuthVerified))
	assert.Empty(t, got.header.Get(HeaderAuthMode))
	assert.Empty(t, got.header.Get(HeaderJWTSubject))
}

func TestPipeline_SpoofingDoesNotBypassVerification(t *testing.T) {
	t.Parallel()

	upstream := &captureUpstream{}
	server := httptest.NewServer(upstream.handler())
	defer server.Close()

	wiring := testWiring(t)
	wiring.Verifiers[auth.ModeAPIKey] = &fakeVerifier{
		mode: auth.ModeAPIKey,
		err: auth.WrapError(auth.ErrorTypeCredentialMissing,
			"api_key_missing", "API key required", auth.ErrAPIKeyMissing),
	}
	p := New(testRouter(t, server.URL), wiring)

	r := httptest.NewRequest(http.MethodGet, "/apikey/dogs/", nil)
	r.Header.Set(HeaderAuthVerified, "true")
	r.Header.Set(HeaderAuthMode, "apikey")

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "API key required")
}

func TestPipeline_APIKeyRoute(t *testing.T) {
	t.Parallel()

	upstream := &captureUpstream{}
	server := httptest.NewServer(upstream.handler())
	defer server.Close()

	p := New(testRouter(t, server.URL), testWiring(t))

	r := httptest.NewRequest(http.MethodGet, "/apikey/dogs/?apikey=citizen-api-key-2026", nil)
	r.Header.Set("X-API-Key", "citizen-api-key-2026")

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
	got := upstream.lastRequest(t)
	assert.Equal(t, "apikey", got.header.Get(HeaderAuthMode))
	assert.Equal(t, "true", got.header.Get(HeaderAuthVerified))

	// hideCredentials defaults to true for apikey routes.
	assert.Empty(t, got.header.Get("X-API-Key"))
	assert.NotContains(t, got.query, "citizen-api-key-2026")
}

func TestPipeline_JWTRoute_AuthorizationForwarded(t *testing.T) {
	t.Parallel()

	upstream := &captureUpstream{}
	server := httptest.NewServer(upstream.handler())
	defer server.Close()

	p := New(testRouter(t, server.URL), testWiring(t))

	r := httptest.NewRequest(http.MethodGet, "/jwt/dogs/", nil)
	r.Header.Set("Authorization", "Bearer some-token")

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
	got := upstream.lastRequest(t)
	assert.Equal(t, "jwt", got.header.Get(HeaderAuthMode))
	assert.Equal(t, "user-1", got.header.Get(HeaderJWTSubject))
	assert.Equal(t, "Bearer some-token", got.header.Get("Authorization"))
}

func TestPipeline_OIDCRoute(t *testing.T) {
	t.Parallel()

	upstream := &captureUpstream{}
	server := httptest.NewServer(upstream.handler())
	defer server.Close()

	p := New(testRouter(t, server.URL), testWiring(t))

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oidc/profile", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	got := upstream.lastRequest(t)
	assert.Equal(t, "alice", got.header.Get(HeaderOIDCUser))
	assert.Equal(t, "alice@example.com", got.header.Get(HeaderOIDCEmail))
}

func TestPipeline_VerificationFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		path       string
		err        error
		wantStatus int
	}{
		{
			name: "missing api key",
			path: "/apikey/dogs/",
			err: auth.WrapError(auth.ErrorTypeCredentialMissing,
				"api_key_missing", "API key required", auth.ErrAPIKeyMissing),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "invalid api key",
			path: "/apikey/dogs/",
			err: auth.WrapError(auth.ErrorTypeCredentialInvalid,
				"api_key_invalid", "invalid API key", auth.ErrAPIKeyInvalid),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "expired token",
			path: "/jwt/dogs/",
			err: auth.WrapError(auth.ErrorTypeCredentialInvalid,
				"token_expired", "token expired", auth.ErrTokenExpired),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "untrusted certificate",
			path: "/mtls/dogs/",
			err: auth.WrapError(auth.ErrorTypeCredentialInvalid,
				"certificate_untrusted", "certificate not trusted", auth.ErrCertificateUntrusted),
			wantStatus: http.StatusForbidden,
		},
		{
			name: "provider unavailable",
			path: "/oidc/dogs/",
			err: auth.WrapError(auth.ErrorTypeUpstreamUnavailable,
				"provider_unavailable", "identity provider unavailable", auth.ErrProviderUnavailable),
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			upstream := &captureUpstream{}
			server := httptest.NewServer(upstream.handler())
			defer server.Close()

			wiring := testWiring(t)
			for mode := range wiring.Verifiers {
				wiring.Verifiers[mode] = &fakeVerifier{mode: mode, err: tt.err}
			}

			decisions := &recordingDecisions{}
			p := New(testRouter(t, server.URL), wiring, WithDecisionLog(decisions))

			rec := httptest.NewRecorder()
			p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			events := decisions.all()
			require.Len(t, events, 1)
			assert.Equal(t, audit.OutcomeDenied, events[0].Outcome)
			assert.Equal(t, auth.ReasonOf(tt.err), events[0].Reason)
			assert.Equal(t, tt.wantStatus, events[0].Status)
		})
	}
}

func TestPipeline_PolicyDenied(t *testing.T) {
	t.Parallel()

	upstream := &captureUpstream{}
	server := httptest.NewServer(upstream.handler())
	defer server.Close()

	wiring := testWiring(t)
	wiring.Verifiers[auth.ModeJWT] = &fakeVerifier{
		mode: auth.ModeJWT,
		identity: &auth.Identity{
			Mode: auth.ModeJWT, Verified: true, Principal: "user-1",
			Claims: map[string]any{"aud": []any{"other-service"}},
		},
	}
	p := New(testRouter(t, server.URL), wiring)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jwt/dogs/", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "forbidden", body["error"])
}

func TestPipeline_RouteNotFound(t *testing.T) {
	t.Parallel()

	rt, err := router.New([]config.Route{
		{Name: "public", Prefix: "/public", Mode: "none", Upstream: "http://127.0.0.1:9"},
	}, nil)
	require.NoError(t, err)

	decisions := &recordingDecisions{}
	p := New(rt, testWiring(t), WithDecisionLog(decisions))

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)

	events := decisions.all()
	require.Len(t, events, 1)
	assert.Equal(t, "route_not_found", events[0].Reason)
}

func TestPipeline_VerifierMissingFailsClosed(t *testing.T) {
	t.Parallel()

	upstream := &captureUpstream{}
	server := httptest.NewServer(upstream.handler())
	defer server.Close()

	p := New(testRouter(t, server.URL), &Wiring{})

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/apikey/dogs/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPipeline_StripPrefix(t *testing.T) {
	t.Parallel()

	upstream := &captureUpstream{}
	server := httptest.NewServer(upstream.handler())
	defer server.Close()

	p := New(testRouter(t, server.URL), testWiring(t))

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/svc/v1/dogs", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/v1/dogs", upstream.lastRequest(t).path)
}

func TestPipeline_UpstreamDown(t *testing.T) {
	t.Parallel()

	// A closed server yields a dial failure.
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	p := New(testRouter(t, server.URL), testWiring(t))

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/public/docs", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "bad gateway", body["error"])
}

func TestPipeline_ForwardedHeaders(t *testing.T) {
	t.Parallel()

	upstream := &captureUpstream{}
	server := httptest.NewServer(upstream.handler())
	defer server.Close()

	p := New(testRouter(t, server.URL), testWiring(t))

	r := httptest.NewRequest(http.MethodGet, "/public/docs", nil)
	r.Host = "gw.example.com"
	r.RemoteAddr = "203.0.113.7:51234"

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, r)

	got := upstream.lastRequest(t)
	assert.Equal(t, "http", got.header.Get("X-Forwarded-Proto"))
	assert.Equal(t, "gw.example.com", got.header.Get("X-Forwarded-Host"))
	assert.Contains(t, got.header.Get("X-Forwarded-For"), "203.0.113.7")
}

func TestPipeline_Rewire(t *testing.T) {
	t.Parallel()

	upstream := &captureUpstream{}
	server := httptest.NewServer(upstream.handler())
	defer server.Close()

	wiring := testWiring(t)
	wiring.Verifiers[auth.ModeAPIKey] = &fakeVerifier{
		mode: auth.ModeAPIKey,
		err: auth.WrapError(auth.ErrorTypeCredentialInvalid,
			"api_key_invalid", "invalid API key", auth.ErrAPIKeyInvalid),
	}
	p := New(testRouter(t, server.URL), wiring)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/apikey/dogs/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	p.Rewire(testWiring(t))

	rec = httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/apikey/dogs/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPipeline_CustomKeyCarrierStripped(t *testing.T) {
	t.Parallel()

	upstream := &captureUpstream{}
	server := httptest.NewServer(upstream.handler())
	defer server.Close()

	wiring := testWiring(t)
	wiring.APIKeyHeader = "X-Citizen-Key"
	wiring.APIKeyQuery = "citizen_key"
	p := New(testRouter(t, server.URL), wiring)

	r := httptest.NewRequest(http.MethodGet, "/apikey/dogs/?citizen_key=secret", nil)
	r.Header.Set("X-Citizen-Key", "secret")

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
	got := upstream.lastRequest(t)
	assert.Empty(t, got.header.Get("X-Citizen-Key"))
	assert.NotContains(t, got.query, "secret")
}

func TestSingleJoin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b, want string
	}{
		{"/base", "/path", "/base/path"},
		{"/base/", "/path", "/base/path"},
		{"/base", "path", "/base/path"},
		{"/base/", "path", "/base/path"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, singleJoin(tt.a, tt.b))
	}
}

var _ auth.Verifier = (*fakeVerifier)(nil)
