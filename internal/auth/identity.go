package auth

import (
	"context"
	"time"
)

// Identity is the authentication context produced by a successful
// verification and rendered into the upstream identity headers.
//
// Verified is set only by the verifier that ran for the request's mode;
// a request never reaches the upstream carrying a verifier-backed mode
// with Verified false.
type Identity struct {
	// Mode is the strategy that produced this identity.
	Mode Mode

	// Verified reports that the mode's verification succeeded. Always
	// true for identities returned by verifiers; public identities are
	// verified by definition (there is nothing to check).
	Verified bool

	// Principal is the derived identity: consumer username for API
	// keys, certificate subject DN for mutual TLS, the JWT subject
	// claim, or the OIDC username.
	Principal string

	// Email is set for OIDC identities when the provider reports one.
	Email string

	// Claims carries the raw verified claims, when the strategy
	// produces any (JWT and OIDC).
	Claims map[string]any

	// ExpiresAt is the credential expiry, when known.
	ExpiresAt time.Time

	// VerifiedAt is when the verification completed.
	VerifiedAt time.Time
}

// PublicIdentity returns the identity attached to requests on public
// routes.
func PublicIdentity() *Identity {
	return &Identity{
		Mode:       ModeNone,
		Verified:   true,
		VerifiedAt: time.Now(),
	}
}

// HasClaim reports whether the named claim is present.
func (id *Identity) HasClaim(name string) bool {
	if id == nil || id.Claims == nil {
		return false
	}
	_, ok := id.Claims[name]
	return ok
}

// StringClaim returns the named claim as a string, or "".
func (id *Identity) StringClaim(name string) string {
	if id == nil || id.Claims == nil {
		return ""
	}
	if v, ok := id.Claims[name].(string); ok {
		return v
	}
	return ""
}

// identityContextKey is the context key for the verified identity.
type identityContextKey struct{}

// ContextWithIdentity attaches a verified identity to the context.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the verified identity attached to ctx, or
// nil if the request carried none.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey{}).(*Identity)
	return id
}
