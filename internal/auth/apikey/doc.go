// Package apikey verifies API keys against a consumer registry.
//
// Keys arrive in the X-API-Key header or the apikey query parameter and
// are matched against consumers seeded from configuration or loaded from
// Vault. Stored keys may be plaintext, SHA-256, SHA-512, or bcrypt;
// comparisons are constant time. A matched key yields the consumer's
// username as the request principal.
package apikey
