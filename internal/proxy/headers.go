package proxy

import (
	"net/http"

	"github.com/dogcatcher/authgw/internal/auth"
)

// Gateway-owned identity headers set toward the upstream. Inbound
// occurrences are always removed before verification.
const (
	HeaderAuthMode         = "X-Auth-Mode"
	HeaderAuthVerified     = "X-Auth-Verified"
	HeaderClientCertDN     = "X-Client-Cert-DN"
	HeaderClientCertStatus = "X-Client-Cert-Verified"
	HeaderJWTSubject       = "X-JWT-Subject"
	HeaderOIDCUser         = "X-OIDC-User"
	HeaderOIDCEmail        = "X-OIDC-Email"
)

// identityHeaders is the strip list applied to every inbound request.
var identityHeaders = []string{
	HeaderAuthMode,
	HeaderAuthVerified,
	HeaderClientCertDN,
	HeaderClientCertStatus,
	HeaderJWTSubject,
	HeaderOIDCUser,
	HeaderOIDCEmail,
}

// hopHeaders are connection-scoped headers never forwarded upstream.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// stripIdentityHeaders removes every gateway-owned header from h.
func stripIdentityHeaders(h http.Header) {
	for _, name := range identityHeaders {
		h.Del(name)
	}
}

// setIdentityHeaders renders the verified identity into the upstream
// headers. Only the matched mode's headers are set; direct mode sets
// none.
func setIdentityHeaders(h http.Header, id *auth.Identity) {
	if id == nil || id.Mode == auth.ModeDirect {
		return
	}

	h.Set(HeaderAuthMode, id.Mode.HeaderValue())
	h.Set(HeaderAuthVerified, "true")

	switch id.Mode {
	case auth.ModeMutualTLS:
		h.Set(HeaderClientCertDN, id.Principal)
		h.Set(HeaderClientCertStatus, "true")
	case auth.ModeJWT:
		h.Set(HeaderJWTSubject, id.Principal)
	case auth.ModeOIDC:
		h.Set(HeaderOIDCUser, id.Principal)
		if id.Email != "" {
			h.Set(HeaderOIDCEmail, id.Email)
		}
	}
}

// stripCredentials removes the request's credential before forwarding,
// for routes with hideCredentials. API key routes drop the key header
// and query parameter; bearer modes drop Authorization.
func stripCredentials(r *http.Request, mode auth.Mode, keyHeader, keyQuery string) {
	switch mode {
	case auth.ModeAPIKey:
		r.Header.Del(keyHeader)
		q := r.URL.Query()
		if q.Has(keyQuery) {
			q.Del(keyQuery)
			r.URL.RawQuery = q.Encode()
		}
	case auth.ModeJWT, auth.ModeOIDC:
		r.Header.Del("Authorization")
	}
}
