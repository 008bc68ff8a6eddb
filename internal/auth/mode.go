// Package auth defines the authentication modes, the identity produced by
// a successful verification, and the error taxonomy shared by all
// strategy verifiers.
package auth

import "fmt"

// Mode identifies one authentication strategy. Exactly one mode applies
// to a request, selected by the path dispatcher.
type Mode string

const (
	// ModeNone performs no verification; the request is public.
	ModeNone Mode = "none"
	// ModeAPIKey verifies an API key against the consumer registry.
	ModeAPIKey Mode = "apikey"
	// ModeMutualTLS verifies the TLS peer certificate chain.
	ModeMutualTLS Mode = "mtls"
	// ModeJWT verifies a bearer JWT locally against configured keys.
	ModeJWT Mode = "jwt"
	// ModeOIDC verifies a bearer token against an identity provider.
	ModeOIDC Mode = "oidc"
	// ModeDirect forwards without gateway verification; the backend
	// authenticates the request itself.
	ModeDirect Mode = "direct"
)

// ParseMode parses a configuration mode name. "public" is accepted as an
// alias for none.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "none", "public":
		return ModeNone, nil
	case "apikey":
		return ModeAPIKey, nil
	case "mtls":
		return ModeMutualTLS, nil
	case "jwt":
		return ModeJWT, nil
	case "oidc":
		return ModeOIDC, nil
	case "direct":
		return ModeDirect, nil
	default:
		return "", fmt.Errorf("unknown authentication mode %q", s)
	}
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeNone, ModeAPIKey, ModeMutualTLS, ModeJWT, ModeOIDC, ModeDirect:
		return true
	}
	return false
}

// String returns the mode name.
func (m Mode) String() string {
	return string(m)
}

// HeaderValue returns the value carried in the X-Auth-Mode header toward
// the upstream. None maps to "public"; direct mode sets no header and
// returns "".
func (m Mode) HeaderValue() string {
	switch m {
	case ModeNone:
		return "public"
	case ModeDirect:
		return ""
	default:
		return string(m)
	}
}

// RequiresVerifier reports whether the mode runs a strategy verifier
// before forwarding.
func (m Mode) RequiresVerifier() bool {
	switch m {
	case ModeAPIKey, ModeMutualTLS, ModeJWT, ModeOIDC:
		return true
	}
	return false
}
