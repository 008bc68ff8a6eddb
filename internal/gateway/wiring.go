package gateway

import (
	"context"
	"fmt"
	"io"

	"github.com/dogcatcher/authgw/internal/auth"
	"github.com/dogcatcher/authgw/internal/auth/apikey"
	"github.com/dogcatcher/authgw/internal/auth/jwt"
	"github.com/dogcatcher/authgw/internal/auth/mtls"
	"github.com/dogcatcher/authgw/internal/auth/oidc"
	"github.com/dogcatcher/authgw/internal/cache"
	"github.com/dogcatcher/authgw/internal/config"
	"github.com/dogcatcher/authgw/internal/observability"
	"github.com/dogcatcher/authgw/internal/policy"
	"github.com/dogcatcher/authgw/internal/proxy"
	"github.com/dogcatcher/authgw/internal/secrets"
	"github.com/dogcatcher/authgw/internal/vault"
)

// wiring bundles the verifier set built from one configuration together
// with the handles the gateway needs beyond the proxy: the trust store
// for listener TLS, the apikey verifier for the registry readiness
// check, and the closers releasing the set on the next reload.
type wiring struct {
	proxy      *proxy.Wiring
	trustStore *mtls.TrustStore
	apiKey     *apikey.Verifier
	closers    []io.Closer

	// ownsTrust marks the set holding the trust store's lifetime. A
	// reload reuses the store and takes ownership, so the outgoing set's
	// delayed close never tears down the pool the listeners resolve.
	ownsTrust bool
}

// close releases every verifier in the set, and the trust store when
// this set owns it.
func (w *wiring) close() {
	for _, c := range w.closers {
		_ = c.Close()
	}
	if w.ownsTrust && w.trustStore != nil {
		_ = w.trustStore.Close()
	}
}

// buildWiring constructs the verifiers and compiled policies for cfg.
// Each verifier is built only when some route uses its mode, so a
// configuration without mtls routes never requires CA files. A non-nil
// trust store is reused instead of rebuilt, keeping the pool the mtls
// listeners resolve per handshake alive across reloads.
func buildWiring(
	ctx context.Context,
	cfg *config.Config,
	results cache.Cache,
	trust *mtls.TrustStore,
	logger observability.Logger,
) (*wiring, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	w := &wiring{
		proxy: &proxy.Wiring{
			Verifiers:    make(map[auth.Mode]auth.Verifier),
			APIKeyHeader: cfg.APIKeyAuth.GetEffectiveHeader(),
			APIKeyQuery:  cfg.APIKeyAuth.GetEffectiveQueryParam(),
		},
	}

	ok := false
	defer func() {
		if !ok {
			w.close()
		}
	}()

	if cfg.HasMode(auth.ModeAPIKey.String()) {
		var vaultClient vault.Client
		if cfg.APIKeyAuth != nil && cfg.APIKeyAuth.Store != nil &&
			cfg.APIKeyAuth.Store.Type == "vault" {
			if cfg.Secrets == nil || cfg.Secrets.Vault == nil {
				return nil, fmt.Errorf("vault consumer store requires secrets.vault configuration")
			}
			client, err := vault.New(cfg.Secrets.Vault, logger)
			if err != nil {
				return nil, fmt.Errorf("failed to create vault client: %w", err)
			}
			if err := client.Authenticate(ctx); err != nil {
				return nil, fmt.Errorf("vault authentication failed: %w", err)
			}
			vaultClient = client
		}

		verifier, err := apikey.NewVerifier(ctx, cfg.APIKeyAuth, vaultClient,
			apikey.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create apikey verifier: %w", err)
		}
		w.proxy.Verifiers[auth.ModeAPIKey] = verifier
		w.apiKey = verifier
		w.closers = append(w.closers, verifier)
	}

	if cfg.HasMode(auth.ModeMutualTLS.String()) {
		if trust == nil {
			created, err := mtls.NewTrustStore(cfg.MTLS, mtls.WithTrustStoreLogger(logger))
			if err != nil {
				return nil, fmt.Errorf("failed to create trust store: %w", err)
			}
			trust = created
			w.ownsTrust = true
		}
		w.trustStore = trust
		if err := trust.Start(); err != nil {
			return nil, fmt.Errorf("failed to start trust store: %w", err)
		}

		verifier, err := mtls.NewVerifier(cfg.MTLS,
			mtls.WithLogger(logger), mtls.WithTrustStore(trust))
		if err != nil {
			return nil, fmt.Errorf("failed to create mtls verifier: %w", err)
		}
		w.proxy.Verifiers[auth.ModeMutualTLS] = verifier
		w.closers = append(w.closers, verifier)
	}

	if cfg.HasMode(auth.ModeJWT.String()) {
		verifier, err := jwt.NewVerifier(cfg.JWT, jwt.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create jwt verifier: %w", err)
		}
		w.proxy.Verifiers[auth.ModeJWT] = verifier
		w.closers = append(w.closers, verifier)
	}

	if cfg.HasMode(auth.ModeOIDC.String()) {
		opts := []oidc.VerifierOption{oidc.WithLogger(logger)}
		if cfg.OIDC != nil && cfg.OIDC.ClientSecretRef != "" {
			secret, err := resolveSecret(ctx, cfg, cfg.OIDC.ClientSecretRef, logger)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve OIDC client secret: %w", err)
			}
			opts = append(opts, oidc.WithClientSecret(secret))
		}

		verifier, err := oidc.NewVerifier(cfg.OIDC, results, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create oidc verifier: %w", err)
		}
		w.proxy.Verifiers[auth.ModeOIDC] = verifier
		w.closers = append(w.closers, verifier)
	}

	policies, err := policy.NewEvaluator(policyExpressions(cfg),
		policy.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	w.proxy.Policies = policies

	ok = true
	return w, nil
}

// policyExpressions collects the per-route CEL sources from the table.
func policyExpressions(cfg *config.Config) map[string]string {
	exprs := make(map[string]string)
	for i := range cfg.Routes {
		if cfg.Routes[i].ClaimsPolicy != "" {
			exprs[cfg.Routes[i].Name] = cfg.Routes[i].ClaimsPolicy
		}
	}
	if cfg.DefaultRoute != nil && cfg.DefaultRoute.ClaimsPolicy != "" {
		name := cfg.DefaultRoute.Name
		if name == "" {
			name = "default"
		}
		exprs[name] = cfg.DefaultRoute.ClaimsPolicy
	}
	return exprs
}

// resolveSecret resolves ref through the configured secrets provider.
func resolveSecret(
	ctx context.Context,
	cfg *config.Config,
	ref string,
	logger observability.Logger,
) (string, error) {
	provider, err := secrets.NewProvider(cfg.Secrets, logger)
	if err != nil {
		return "", err
	}

	secret, err := provider.Get(ctx, ref)
	if err != nil {
		return "", err
	}

	value := secret.Value("")
	if value == "" {
		return "", fmt.Errorf("secret %s has no value", ref)
	}
	return value, nil
}
