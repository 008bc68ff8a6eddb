package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/dogcatcher/authgw/internal/auth"
	"github.com/dogcatcher/authgw/internal/util"
)

// Validate checks the configuration for structural errors. Verifier
// sections are validated only when a route actually uses the mode, with
// one exception: any mtls route requires a configured trust store, so a
// deployment cannot advertise an mtls path without enforcing it.
func Validate(cfg *Config) error {
	if cfg == nil {
		return util.NewConfigError("", "configuration is nil")
	}

	if err := validateListeners(cfg); err != nil {
		return err
	}
	if err := validateRoutes(cfg); err != nil {
		return err
	}
	if err := validateVerifiers(cfg); err != nil {
		return err
	}
	if err := validateRateLimit(cfg.RateLimit); err != nil {
		return err
	}
	if err := validateCache(cfg.Cache); err != nil {
		return err
	}
	return validateSecrets(cfg.Secrets)
}

func validateListeners(cfg *Config) error {
	if len(cfg.Listeners) == 0 {
		return util.NewConfigError("listeners", "at least one listener is required")
	}

	ports := make(map[int]string, len(cfg.Listeners))
	for i, l := range cfg.Listeners {
		field := fmt.Sprintf("listeners[%d]", i)

		if l.Name == "" {
			return util.NewConfigError(field+".name", "listener name is required")
		}
		if l.Port <= 0 || l.Port > 65535 {
			return util.NewConfigError(field+".port", fmt.Sprintf("invalid port %d", l.Port))
		}
		if existing, dup := ports[l.Port]; dup {
			return util.NewConfigError(field+".port",
				fmt.Sprintf("port %d already used by listener %s", l.Port, existing))
		}
		ports[l.Port] = l.Name

		switch l.Protocol {
		case ProtocolPlain:
		case ProtocolTLS, ProtocolMutualTLS:
			if l.TLS == nil || l.TLS.CertFile == "" || l.TLS.KeyFile == "" {
				return util.NewConfigError(field+".tls",
					fmt.Sprintf("%s listener requires certFile and keyFile", l.Protocol))
			}
			if l.Protocol == ProtocolMutualTLS && (cfg.MTLS == nil || len(cfg.MTLS.CAFiles) == 0) {
				return util.NewConfigError(field,
					"mtls listener requires a configured trust store (mtls.caFiles)")
			}
		default:
			return util.NewConfigError(field+".protocol",
				fmt.Sprintf("unknown protocol %q", l.Protocol))
		}
	}

	return nil
}

func validateRoutes(cfg *Config) error {
	if len(cfg.Routes) == 0 && cfg.DefaultRoute == nil {
		return util.NewConfigError("routes", "at least one route is required")
	}

	names := make(map[string]bool, len(cfg.Routes))
	for i := range cfg.Routes {
		field := fmt.Sprintf("routes[%d]", i)
		r := &cfg.Routes[i]

		if r.Name == "" {
			return util.NewConfigError(field+".name", "route name is required")
		}
		if names[r.Name] {
			return util.NewConfigError(field+".name",
				fmt.Sprintf("duplicate route name %q", r.Name))
		}
		names[r.Name] = true

		if !strings.HasPrefix(r.Prefix, "/") {
			return util.NewConfigError(field+".prefix",
				fmt.Sprintf("prefix %q must start with /", r.Prefix))
		}
		if err := validateRouteCommon(field, r); err != nil {
			return err
		}
	}

	if cfg.DefaultRoute != nil {
		if err := validateRouteCommon("defaultRoute", cfg.DefaultRoute); err != nil {
			return err
		}
	}

	return nil
}

func validateRouteCommon(field string, r *Route) error {
	if _, err := auth.ParseMode(r.Mode); err != nil {
		return util.NewConfigErrorWithCause(field+".mode", "invalid mode", err)
	}
	if r.Upstream == "" {
		return util.NewConfigError(field+".upstream", "upstream is required")
	}
	u, err := url.Parse(r.Upstream)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return util.NewConfigError(field+".upstream",
			fmt.Sprintf("upstream %q is not an absolute URL", r.Upstream))
	}
	return nil
}

func validateVerifiers(cfg *Config) error {
	if cfg.HasMode("apikey") {
		if err := validateAPIKeyAuth(cfg.APIKeyAuth); err != nil {
			return err
		}
	}
	if cfg.HasMode("mtls") {
		if err := validateMTLS(cfg.MTLS); err != nil {
			return err
		}
	}
	if cfg.HasMode("jwt") {
		if err := validateJWT(cfg.JWT); err != nil {
			return err
		}
	}
	if cfg.HasMode("oidc") {
		if err := validateOIDC(cfg.OIDC); err != nil {
			return err
		}
	}
	return nil
}

func validateAPIKeyAuth(c *APIKeyAuthConfig) error {
	if c == nil {
		return util.NewConfigError("apiKeyAuth", "apikey routes require the apiKeyAuth section")
	}

	switch alg := c.GetEffectiveHashAlgorithm(); alg {
	case "plaintext", "sha256", "sha512", "bcrypt":
	default:
		return util.NewConfigError("apiKeyAuth.hashAlgorithm",
			fmt.Sprintf("unknown hash algorithm %q", alg))
	}

	hasVaultStore := c.Store != nil && c.Store.Type == SecretsProviderVault
	if len(c.Consumers) == 0 && !hasVaultStore {
		return util.NewConfigError("apiKeyAuth.consumers",
			"at least one consumer or an external store is required")
	}
	if c.Store != nil {
		switch c.Store.Type {
		case "static":
		case SecretsProviderVault:
			if c.Store.Path == "" {
				return util.NewConfigError("apiKeyAuth.store.path",
					"vault store requires a path")
			}
		default:
			return util.NewConfigError("apiKeyAuth.store.type",
				fmt.Sprintf("unknown store type %q", c.Store.Type))
		}
	}

	for i, consumer := range c.Consumers {
		field := fmt.Sprintf("apiKeyAuth.consumers[%d]", i)
		if consumer.Username == "" {
			return util.NewConfigError(field+".username", "consumer username is required")
		}
		if consumer.Key == "" && consumer.KeyHash == "" {
			return util.NewConfigError(field, "consumer requires key or keyHash")
		}
	}

	return nil
}

func validateMTLS(c *MTLSConfig) error {
	if c == nil || len(c.CAFiles) == 0 {
		// Mandatory by construction: an mtls route without a trust
		// store would advertise enforcement it cannot perform.
		return util.NewConfigError("mtls.caFiles",
			"mtls routes require a configured trust store")
	}
	if c.Revocation == nil {
		return util.NewConfigError("mtls.revocation",
			"mtls routes require an explicit revocation section (enabled: false is accepted)")
	}
	if c.Revocation.Enabled && c.Revocation.CRLFile == "" {
		return util.NewConfigError("mtls.revocation.crlFile",
			"revocation checking requires a CRL file")
	}
	return nil
}

// allowed JWT signing algorithms; "none" is rejected by omission.
var jwtAlgorithms = map[string]bool{
	"HS256": true, "HS384": true, "HS512": true,
	"RS256": true, "RS384": true, "RS512": true,
	"ES256": true, "ES384": true, "ES512": true,
}

func validateJWT(c *JWTConfig) error {
	if c == nil {
		return util.NewConfigError("jwt", "jwt routes require the jwt section")
	}
	if len(c.Algorithms) == 0 {
		return util.NewConfigError("jwt.algorithms", "at least one algorithm is required")
	}

	needsSecret := false
	needsPublicKey := false
	for _, alg := range c.Algorithms {
		if !jwtAlgorithms[alg] {
			return util.NewConfigError("jwt.algorithms",
				fmt.Sprintf("unsupported algorithm %q", alg))
		}
		if strings.HasPrefix(alg, "HS") {
			needsSecret = true
		} else {
			needsPublicKey = true
		}
	}

	if needsSecret && c.Secret == "" {
		return util.NewConfigError("jwt.secret", "HMAC algorithms require a secret")
	}
	if needsPublicKey && c.PublicKey == "" && c.PublicKeyFile == "" && c.JWKSURL == "" {
		return util.NewConfigError("jwt",
			"asymmetric algorithms require publicKey, publicKeyFile, or jwksUrl")
	}

	return nil
}

func validateOIDC(c *OIDCConfig) error {
	if c == nil {
		return util.NewConfigError("oidc", "oidc routes require the oidc section")
	}
	if c.IssuerURL == "" {
		return util.NewConfigError("oidc.issuerUrl", "issuer URL is required")
	}
	u, err := url.Parse(c.IssuerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return util.NewConfigError("oidc.issuerUrl",
			fmt.Sprintf("issuer URL %q is not an absolute URL", c.IssuerURL))
	}
	if c.ClientID == "" {
		return util.NewConfigError("oidc.clientId", "client ID is required")
	}
	if !c.LocalValidation && c.ClientSecret == "" && c.ClientSecretRef == "" {
		return util.NewConfigError("oidc.clientSecret",
			"introspection requires clientSecret or clientSecretRef")
	}
	return nil
}

func validateRateLimit(c *RateLimitConfig) error {
	if c == nil || !c.Enabled {
		return nil
	}
	if c.RequestsPerSecond <= 0 {
		return util.NewConfigError("rateLimit.requestsPerSecond", "must be positive")
	}
	if c.Burst <= 0 {
		return util.NewConfigError("rateLimit.burst", "must be positive")
	}
	return nil
}

func validateCache(c *CacheConfig) error {
	if c == nil {
		return nil
	}
	switch c.GetEffectiveBackend() {
	case CacheBackendMemory, CacheBackendDisabled:
	case CacheBackendRedis:
		if c.Redis == nil || c.Redis.Address == "" {
			return util.NewConfigError("cache.redis.address",
				"redis backend requires an address")
		}
	default:
		return util.NewConfigError("cache.backend",
			fmt.Sprintf("unknown cache backend %q", c.Backend))
	}
	return nil
}

func validateSecrets(c *SecretsConfig) error {
	if c == nil {
		return nil
	}
	switch c.GetEffectiveProvider() {
	case SecretsProviderEnv:
	case SecretsProviderVault:
		if c.Vault == nil || c.Vault.Address == "" {
			return util.NewConfigError("secrets.vault.address",
				"vault provider requires an address")
		}
		switch c.Vault.AuthMethod {
		case "", "token":
		case "approle":
			if c.Vault.AppRole == nil || c.Vault.AppRole.RoleID == "" {
				return util.NewConfigError("secrets.vault.appRole",
					"approle auth requires roleId")
			}
		default:
			return util.NewConfigError("secrets.vault.authMethod",
				fmt.Sprintf("unknown auth method %q", c.Vault.AuthMethod))
		}
	default:
		return util.NewConfigError("secrets.provider",
			fmt.Sprintf("unknown secrets provider %q", c.Provider))
	}
	return nil
}
