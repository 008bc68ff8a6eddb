// Package oidc verifies bearer tokens against an OpenID Connect
// provider.
//
// Provider endpoints come from the discovery document, cached with a
// TTL and required to name the configured issuer. Opaque tokens are
// checked through RFC 7662 introspection behind a circuit breaker, with
// successful results cached under a hash of the token. With local
// validation enabled, JWT-shaped tokens are instead verified against
// the provider's JWKS without calling the provider per request.
package oidc
