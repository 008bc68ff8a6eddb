package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dogcatcher/authgw/internal/auth"
)

func TestStripIdentityHeaders(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	h.Set(HeaderAuthMode, "apikey")
	h.Set(HeaderAuthVerified, "true")
	h.Set(HeaderClientCertDN, "CN=attacker")
	h.Set(HeaderClientCertStatus, "true")
	h.Set(HeaderJWTSubject, "admin")
	h.Set(HeaderOIDCUser, "admin")
	h.Set(HeaderOIDCEmail, "admin@example.com")
	h.Set("X-Request-ID", "keep-me")

	stripIdentityHeaders(h)

	for _, name := range identityHeaders {
		assert.Empty(t, h.Get(name), name)
	}
	assert.Equal(t, "keep-me", h.Get("X-Request-ID"))
}

func TestSetIdentityHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		identity *auth.Identity
		want     map[string]string
		absent   []string
	}{
		{
			name:     "public",
			identity: auth.PublicIdentity(),
			want: map[string]string{
				HeaderAuthMode:     "public",
				HeaderAuthVerified: "true",
			},
			absent: []string{HeaderClientCertDN, HeaderJWTSubject, HeaderOIDCUser},
		},
		{
			name: "apikey",
			identity: &auth.Identity{
				Mode: auth.ModeAPIKey, Verified: true, Principal: "citizen",
			},
			want: map[string]string{
				HeaderAuthMode:     "apikey",
				HeaderAuthVerified: "true",
			},
			absent: []string{HeaderClientCertDN, HeaderJWTSubject, HeaderOIDCUser},
		},
		{
			name: "mtls",
			identity: &auth.Identity{
				Mode: auth.ModeMutualTLS, Verified: true, Principal: "CN=client,O=example",
			},
			want: map[string]string{
				HeaderAuthMode:         "mtls",
				HeaderAuthVerified:     "true",
				HeaderClientCertDN:     "CN=client,O=example",
				HeaderClientCertStatus: "true",
			},
			absent: []string{HeaderJWTSubject, HeaderOIDCUser},
		},
		{
			name: "jwt",
			identity: &auth.Identity{
				Mode: auth.ModeJWT, Verified: true, Principal: "user-1",
			},
			want: map[string]string{
				HeaderAuthMode:     "jwt",
				HeaderAuthVerified: "true",
				HeaderJWTSubject:   "user-1",
			},
			absent: []string{HeaderClientCertDN, HeaderOIDCUser},
		},
		{
			name: "oidc with email",
			identity: &auth.Identity{
				Mode: auth.ModeOIDC, Verified: true,
				Principal: "alice", Email: "alice@example.com",
			},
			want: map[string]string{
				HeaderAuthMode:     "oidc",
				HeaderAuthVerified: "true",
				HeaderOIDCUser:     "alice",
				HeaderOIDCEmail:    "alice@example.com",
			},
			absent: []string{HeaderClientCertDN, HeaderJWTSubject},
		},
		{
			name:     "direct sets nothing",
			identity: &auth.Identity{Mode: auth.ModeDirect},
			want:     map[string]string{},
			absent:   identityHeaders,
		},
		{
			name:     "nil identity sets nothing",
			identity: nil,
			want:     map[string]string{},
			absent:   identityHeaders,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := http.Header{}
			setIdentityHeaders(h, tt.identity)

			for name, want := range tt.want {
				assert.Equal(t, want, h.Get(name), name)
			}
			for _, name := range tt.absent {
				assert.Empty(t, h.Get(name), name)
			}
		})
	}
}

func TestStripCredentials(t *testing.T) {
	t.Parallel()

	t.Run("apikey header and query", func(t *testing.T) {
		t.Parallel()

		r := httptest.NewRequest(http.MethodGet, "/apikey/dogs/?apikey=secret&page=2", nil)
		r.Header.Set("X-API-Key", "secret")

		stripCredentials(r, auth.ModeAPIKey, "X-API-Key", "apikey")

		assert.Empty(t, r.Header.Get("X-API-Key"))
		assert.Empty(t, r.URL.Query().Get("apikey"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
	})

	t.Run("jwt drops authorization", func(t *testing.T) {
		t.Parallel()

		r := httptest.NewRequest(http.MethodGet, "/jwt/dogs/", nil)
		r.Header.Set("Authorization", "Bearer token")

		stripCredentials(r, auth.ModeJWT, "X-API-Key", "apikey")

		assert.Empty(t, r.Header.Get("Authorization"))
	})

	t.Run("other modes untouched", func(t *testing.T) {
		t.Parallel()

		r := httptest.NewRequest(http.MethodGet, "/public/", nil)
		r.Header.Set("Authorization", "Bearer token")

		stripCredentials(r, auth.ModeNone, "X-API-Key", "apikey")

		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
	})
}
