package config

import "time"

// Verifier configuration defaults.
const (
	DefaultAPIKeyHeader     = "X-API-Key"
	DefaultAPIKeyQueryParam = "apikey"

	DefaultClockSkew    = 30 * time.Second
	DefaultJWKSCacheTTL = 15 * time.Minute

	DefaultDiscoveryCacheTTL     = time.Hour
	DefaultIntrospectionTimeout  = 5 * time.Second
	DefaultIntrospectionCacheTTL = 5 * time.Minute
)

// APIKeyAuthConfig configures the apikey verifier and its consumer
// registry.
type APIKeyAuthConfig struct {
	// Header is the header carrying the key, default X-API-Key.
	Header string `yaml:"header,omitempty"`

	// QueryParam is the fallback query parameter, default apikey.
	QueryParam string `yaml:"queryParam,omitempty"`

	// HashAlgorithm is how stored keys are compared: plaintext, sha256,
	// sha512, or bcrypt. Default plaintext.
	HashAlgorithm string `yaml:"hashAlgorithm,omitempty"`

	// Consumers seeds the static registry.
	Consumers []Consumer `yaml:"consumers,omitempty"`

	// Store optionally loads consumers from an external store.
	Store *ConsumerStoreConfig `yaml:"store,omitempty"`
}

// Consumer is one API key owner in the registry.
type Consumer struct {
	// Username is the consumer identity forwarded as the principal.
	Username string `yaml:"username"`

	// CustomID is an optional operator-assigned identifier.
	CustomID string `yaml:"customId,omitempty"`

	// Key is the plaintext key. Mutually exclusive with KeyHash.
	Key string `yaml:"key,omitempty"`

	// KeyHash is the hashed key under the configured algorithm.
	KeyHash string `yaml:"keyHash,omitempty"`
}

// ConsumerStoreConfig configures an external consumer registry source.
type ConsumerStoreConfig struct {
	// Type is static or vault.
	Type string `yaml:"type"`

	// Path is the Vault KV v2 path holding the consumers.
	Path string `yaml:"path,omitempty"`

	// Refresh is how often the store is re-read. Zero disables refresh.
	Refresh Duration `yaml:"refresh,omitempty"`
}

// GetEffectiveHeader returns the key header or its default.
func (c *APIKeyAuthConfig) GetEffectiveHeader() string {
	if c != nil && c.Header != "" {
		return c.Header
	}
	return DefaultAPIKeyHeader
}

// GetEffectiveQueryParam returns the key query parameter or its default.
func (c *APIKeyAuthConfig) GetEffectiveQueryParam() string {
	if c != nil && c.QueryParam != "" {
		return c.QueryParam
	}
	return DefaultAPIKeyQueryParam
}

// GetEffectiveHashAlgorithm returns the hash algorithm or plaintext.
func (c *APIKeyAuthConfig) GetEffectiveHashAlgorithm() string {
	if c != nil && c.HashAlgorithm != "" {
		return c.HashAlgorithm
	}
	return "plaintext"
}

// MTLSConfig configures the mutual TLS trust store and revocation
// checking.
type MTLSConfig struct {
	// CAFiles are the PEM bundles forming the trust store.
	CAFiles []string `yaml:"caFiles"`

	// Reload re-reads the bundles when the files change.
	Reload bool `yaml:"reload,omitempty"`

	// Revocation configures revocation checking. The field is required
	// whenever mtls routes exist so that disabled checking is an
	// explicit, visible choice rather than a silent gap.
	Revocation *RevocationConfig `yaml:"revocation,omitempty"`
}

// RevocationConfig configures certificate revocation checking.
type RevocationConfig struct {
	// Enabled turns revocation checking on.
	Enabled bool `yaml:"enabled"`

	// CRLFile is the PEM or DER encoded certificate revocation list.
	CRLFile string `yaml:"crlFile,omitempty"`
}

// JWTConfig configures the bearer JWT verifier.
type JWTConfig struct {
	// Algorithms is the allow-list of accepted signing algorithms.
	Algorithms []string `yaml:"algorithms"`

	// Secret is the HMAC secret for HS* algorithms.
	Secret string `yaml:"secret,omitempty"`

	// PublicKeyFile is a PEM file holding the RSA or EC public key for
	// RS*/ES* algorithms.
	PublicKeyFile string `yaml:"publicKeyFile,omitempty"`

	// PublicKey is the inline PEM public key.
	PublicKey string `yaml:"publicKey,omitempty"`

	// JWKSURL fetches verification keys from a JWKS endpoint.
	JWKSURL string `yaml:"jwksUrl,omitempty"`

	// JWKSCacheTTL is the JWKS cache lifetime, default 15m.
	JWKSCacheTTL Duration `yaml:"jwksCacheTtl,omitempty"`

	// Issuer, when set, must exactly match the token's iss claim.
	Issuer string `yaml:"issuer,omitempty"`

	// Audience, when set, must be contained in the token's aud claim.
	Audience string `yaml:"audience,omitempty"`

	// ClockSkew is the tolerance applied to exp and nbf, default 30s.
	ClockSkew Duration `yaml:"clockSkew,omitempty"`
}

// GetEffectiveClockSkew returns the clock skew tolerance or its default.
func (c *JWTConfig) GetEffectiveClockSkew() time.Duration {
	if c != nil && c.ClockSkew > 0 {
		return c.ClockSkew.Duration()
	}
	return DefaultClockSkew
}

// GetEffectiveJWKSCacheTTL returns the JWKS cache TTL or its default.
func (c *JWTConfig) GetEffectiveJWKSCacheTTL() time.Duration {
	if c != nil && c.JWKSCacheTTL > 0 {
		return c.JWKSCacheTTL.Duration()
	}
	return DefaultJWKSCacheTTL
}

// OIDCConfig configures the OIDC verifier.
type OIDCConfig struct {
	// IssuerURL is the provider base URL; the discovery document is
	// fetched from <issuer>/.well-known/openid-configuration.
	IssuerURL string `yaml:"issuerUrl"`

	// ClientID and ClientSecret authenticate introspection calls.
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret,omitempty"`

	// ClientSecretRef resolves the secret through the secrets provider
	// instead of embedding it in the configuration.
	ClientSecretRef string `yaml:"clientSecretRef,omitempty"`

	// LocalValidation verifies JWT-shaped tokens against the provider's
	// JWKS instead of calling the introspection endpoint.
	LocalValidation bool `yaml:"localValidation,omitempty"`

	// IntrospectionTimeout bounds one introspection round trip,
	// default 5s.
	IntrospectionTimeout Duration `yaml:"introspectionTimeout,omitempty"`

	// DiscoveryCacheTTL is the discovery document cache lifetime,
	// default 1h.
	DiscoveryCacheTTL Duration `yaml:"discoveryCacheTtl,omitempty"`

	// CacheTTL caps how long a successful introspection is cached. The
	// effective TTL is further capped by the token's remaining validity.
	CacheTTL Duration `yaml:"cacheTtl,omitempty"`
}

// GetEffectiveIntrospectionTimeout returns the introspection timeout or
// its default.
func (c *OIDCConfig) GetEffectiveIntrospectionTimeout() time.Duration {
	if c != nil && c.IntrospectionTimeout > 0 {
		return c.IntrospectionTimeout.Duration()
	}
	return DefaultIntrospectionTimeout
}

// GetEffectiveDiscoveryCacheTTL returns the discovery cache TTL or its
// default.
func (c *OIDCConfig) GetEffectiveDiscoveryCacheTTL() time.Duration {
	if c != nil && c.DiscoveryCacheTTL > 0 {
		return c.DiscoveryCacheTTL.Duration()
	}
	return DefaultDiscoveryCacheTTL
}

// GetEffectiveCacheTTL returns the introspection cache TTL or its
// default.
func (c *OIDCConfig) GetEffectiveCacheTTL() time.Duration {
	if c != nil && c.CacheTTL > 0 {
		return c.CacheTTL.Duration()
	}
	return DefaultIntrospectionCacheTTL
}
