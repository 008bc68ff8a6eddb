package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dogcatcher/authgw/internal/auth"
	"github.com/dogcatcher/authgw/internal/auth/jwt"
	"github.com/dogcatcher/authgw/internal/cache"
	"github.com/dogcatcher/authgw/internal/config"
	"github.com/dogcatcher/authgw/internal/observability"
)

// cacheKeyPrefix namespaces introspection results in the shared cache.
const cacheKeyPrefix = "oidc:introspection:"

// Verifier implements the oidc strategy.
type Verifier struct {
	cfg          *config.OIDCConfig
	clientSecret string
	discovery    *Discovery
	introspector *introspector
	results      cache.Cache
	cacheTTL     time.Duration
	logger       observability.Logger
	httpClient   *http.Client

	// localMu guards the lazily built JWKS-backed verifier used when
	// local validation is enabled.
	localMu       sync.Mutex
	localVerifier *jwt.Verifier
}

// VerifierOption configures the verifier.
type VerifierOption func(*Verifier)

// WithLogger sets the verifier logger.
func WithLogger(logger observability.Logger) VerifierOption {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// WithClientSecret supplies the introspection client secret resolved
// through the secrets provider, overriding the configured one.
func WithClientSecret(secret string) VerifierOption {
	return func(v *Verifier) {
		v.clientSecret = secret
	}
}

// WithHTTPClient overrides the HTTP client used for discovery and
// introspection.
func WithHTTPClient(client *http.Client) VerifierOption {
	return func(v *Verifier) {
		v.httpClient = client
	}
}

// NewVerifier creates the oidc verifier. The results cache may be nil,
// which disables introspection caching.
func NewVerifier(cfg *config.OIDCConfig, results cache.Cache, opts ...VerifierOption) (*Verifier, error) {
	if cfg == nil {
		return nil, fmt.Errorf("oidc configuration is required")
	}
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("issuer URL is required")
	}

	v := &Verifier{
		cfg:          cfg,
		clientSecret: cfg.ClientSecret,
		results:      results,
		cacheTTL:     cfg.GetEffectiveCacheTTL(),
		logger:       observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}

	discoveryOpts := []DiscoveryOption{WithDiscoveryLogger(v.logger)}
	if v.httpClient != nil {
		discoveryOpts = append(discoveryOpts, WithDiscoveryHTTPClient(v.httpClient))
	}
	v.discovery = NewDiscovery(cfg.IssuerURL, cfg.GetEffectiveDiscoveryCacheTTL(), discoveryOpts...)
	v.introspector = newIntrospector(cfg.ClientID, v.clientSecret,
		cfg.GetEffectiveIntrospectionTimeout(), v.httpClient, v.logger)

	return v, nil
}

// Mode returns the strategy this verifier implements.
func (v *Verifier) Mode() auth.Mode {
	return auth.ModeOIDC
}

// Verify checks the bearer token against the provider: locally against
// its JWKS when local validation is enabled, otherwise through the
// introspection endpoint with result caching.
func (v *Verifier) Verify(ctx context.Context, r *http.Request) (*auth.Identity, error) {
	token := jwt.BearerToken(r)
	if token == "" {
		return nil, auth.WrapError(auth.ErrorTypeCredentialMissing,
			"token_missing", "bearer token required", auth.ErrTokenMissing)
	}

	if v.cfg.LocalValidation {
		return v.verifyLocal(ctx, token)
	}
	return v.verifyIntrospection(ctx, token)
}

// verifyLocal validates a JWT-shaped token against the provider's JWKS.
func (v *Verifier) verifyLocal(ctx context.Context, token string) (*auth.Identity, error) {
	local, err := v.jwksVerifier(ctx)
	if err != nil {
		return nil, auth.WrapError(auth.ErrorTypeUpstreamUnavailable,
			"provider_unavailable", "identity provider unavailable",
			fmt.Errorf("%w: %w", auth.ErrProviderUnavailable, err))
	}

	parsed, err := jwt.Parse(token)
	if err != nil {
		return nil, auth.WrapError(auth.ErrorTypeCredentialInvalid,
			"token_malformed", "malformed token",
			fmt.Errorf("%w: %w", auth.ErrTokenMalformed, err))
	}

	identity, err := local.VerifyToken(ctx, parsed)
	if err != nil {
		return nil, err
	}

	return v.finishIdentity(identity.Claims, identity.ExpiresAt), nil
}

// jwksVerifier builds the JWKS-backed verifier on first use, resolving
// the JWKS endpoint through discovery.
func (v *Verifier) jwksVerifier(ctx context.Context) (*jwt.Verifier, error) {
	v.localMu.Lock()
	defer v.localMu.Unlock()

	if v.localVerifier != nil {
		return v.localVerifier, nil
	}

	doc, err := v.discovery.Document(ctx)
	if err != nil {
		return nil, err
	}
	if doc.JWKSURI == "" {
		return nil, fmt.Errorf("provider advertises no JWKS endpoint")
	}

	local, err := jwt.NewVerifier(&config.JWTConfig{
		Algorithms: []string{jwt.AlgRS256, jwt.AlgRS384, jwt.AlgRS512, jwt.AlgES256, jwt.AlgES384, jwt.AlgES512},
		JWKSURL:    doc.JWKSURI,
		Issuer:     v.discovery.IssuerURL(),
	}, jwt.WithLogger(v.logger))
	if err != nil {
		return nil, err
	}

	v.localVerifier = local
	return local, nil
}

// cachedResult is the serialized form of a cached introspection.
type cachedResult struct {
	Principal string         `json:"principal"`
	Email     string         `json:"email,omitempty"`
	Claims    map[string]any `json:"claims,omitempty"`
	ExpiresAt time.Time      `json:"expiresAt,omitempty"`
}

// verifyIntrospection checks the token through the provider's
// introspection endpoint, consulting the result cache first.
func (v *Verifier) verifyIntrospection(ctx context.Context, token string) (*auth.Identity, error) {
	key := cacheKeyPrefix + cache.HashKey(token)

	if v.results != nil {
		if data, err := v.results.Get(ctx, key); err == nil {
			var cached cachedResult
			if err := json.Unmarshal(data, &cached); err == nil {
				return &auth.Identity{
					Mode:       auth.ModeOIDC,
					Verified:   true,
					Principal:  cached.Principal,
					Email:      cached.Email,
					Claims:     cached.Claims,
					ExpiresAt:  cached.ExpiresAt,
					VerifiedAt: time.Now(),
				}, nil
			}
		}
	}

	doc, err := v.discovery.Document(ctx)
	if err != nil {
		return nil, auth.WrapError(auth.ErrorTypeUpstreamUnavailable,
			"provider_unavailable", "identity provider unavailable",
			fmt.Errorf("%w: %w", auth.ErrProviderUnavailable, err))
	}
	if doc.IntrospectionEndpoint == "" {
		return nil, auth.WrapError(auth.ErrorTypeUpstreamUnavailable,
			"provider_unavailable", "provider advertises no introspection endpoint",
			auth.ErrProviderUnavailable)
	}

	result, err := v.introspector.Introspect(ctx, doc.IntrospectionEndpoint, token)
	if err != nil {
		return nil, auth.WrapError(auth.ErrorTypeUpstreamUnavailable,
			"provider_unavailable", "identity provider unavailable",
			fmt.Errorf("%w: %w", auth.ErrProviderUnavailable, err))
	}

	// Inactive results are not cached: a token rejected now may become
	// valid before any negative TTL expires, and callers presenting
	// garbage should not fill the cache.
	if !result.Active {
		return nil, auth.WrapError(auth.ErrorTypeCredentialInvalid,
			"token_rejected", "token rejected by identity provider", auth.ErrTokenRejected)
	}

	identity := v.finishIdentity(result.Extra, result.ExpiresAt)

	if v.results != nil {
		if ttl := v.resultTTL(result.ExpiresAt); ttl > 0 {
			data, err := json.Marshal(cachedResult{
				Principal: identity.Principal,
				Email:     identity.Email,
				Claims:    identity.Claims,
				ExpiresAt: identity.ExpiresAt,
			})
			if err == nil {
				if err := v.results.Set(ctx, key, data, ttl); err != nil {
					v.logger.Warn("failed to cache introspection result",
						observability.Error(err),
					)
				}
			}
		}
	}

	return identity, nil
}

// resultTTL caps the configured cache TTL by the token's remaining
// validity.
func (v *Verifier) resultTTL(expiresAt time.Time) time.Duration {
	ttl := v.cacheTTL
	if !expiresAt.IsZero() {
		if remaining := time.Until(expiresAt); remaining < ttl {
			ttl = remaining
		}
	}
	return ttl
}

// finishIdentity derives the principal from the verified claims:
// username, then email, then subject.
func (v *Verifier) finishIdentity(claims map[string]any, expiresAt time.Time) *auth.Identity {
	identity := &auth.Identity{
		Mode:       auth.ModeOIDC,
		Verified:   true,
		Claims:     claims,
		ExpiresAt:  expiresAt,
		VerifiedAt: time.Now(),
	}

	stringClaim := func(name string) string {
		if s, ok := claims[name].(string); ok {
			return s
		}
		return ""
	}

	identity.Email = stringClaim("email")

	switch {
	case stringClaim("username") != "":
		identity.Principal = stringClaim("username")
	case stringClaim("preferred_username") != "":
		identity.Principal = stringClaim("preferred_username")
	case identity.Email != "":
		identity.Principal = identity.Email
	default:
		identity.Principal = stringClaim("sub")
	}

	return identity
}

// Close releases the lazily built JWKS verifier.
func (v *Verifier) Close() error {
	v.localMu.Lock()
	defer v.localMu.Unlock()

	if v.localVerifier != nil {
		return v.localVerifier.Close()
	}
	return nil
}

// Ensure Verifier implements auth.Verifier.
var _ auth.Verifier = (*Verifier)(nil)
