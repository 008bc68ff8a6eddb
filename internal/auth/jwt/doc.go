// Package jwt verifies bearer JWTs locally against configured keys.
//
// Tokens arrive as compact serialization in the Authorization header.
// The signing algorithm must appear on the configured allow-list; the
// unsigned "none" form is always rejected. Verification keys come from
// a static secret or PEM public key, or from a JWKS endpoint cached
// with a TTL and served stale when a refresh fails.
package jwt
