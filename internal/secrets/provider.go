// Package secrets resolves secret references from the environment or
// from Vault, keeping credentials out of the configuration file.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dogcatcher/authgw/internal/config"
	"github.com/dogcatcher/authgw/internal/observability"
	"github.com/dogcatcher/authgw/internal/vault"
)

// ErrSecretNotFound indicates the referenced secret does not exist.
var ErrSecretNotFound = errors.New("secret not found")

// Secret is resolved secret material.
type Secret struct {
	// Data maps field names to values. Env-sourced secrets carry a
	// single "value" field.
	Data map[string]string
}

// Value returns the named field, or the "value" field when name is
// empty.
func (s *Secret) Value(name string) string {
	if s == nil {
		return ""
	}
	if name == "" {
		name = "value"
	}
	return s.Data[name]
}

// Provider resolves a secret reference to its material.
type Provider interface {
	// Get resolves the secret at ref.
	Get(ctx context.Context, ref string) (*Secret, error)
}

// NewProvider creates the provider named by the configuration. A nil
// configuration yields the env provider.
func NewProvider(cfg *config.SecretsConfig, logger observability.Logger) (Provider, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	switch provider := cfg.GetEffectiveProvider(); provider {
	case config.SecretsProviderEnv:
		return &envProvider{}, nil

	case config.SecretsProviderVault:
		client, err := vault.New(cfg.Vault, logger)
		if err != nil {
			return nil, err
		}
		return &vaultProvider{client: client, logger: logger}, nil

	default:
		return nil, fmt.Errorf("unknown secrets provider %q", provider)
	}
}

// envProvider resolves references as environment variable names.
type envProvider struct{}

// Get reads the environment variable named by ref.
func (p *envProvider) Get(_ context.Context, ref string) (*Secret, error) {
	value, ok := os.LookupEnv(ref)
	if !ok {
		return nil, fmt.Errorf("%w: environment variable %s is not set", ErrSecretNotFound, ref)
	}
	return &Secret{Data: map[string]string{"value": value}}, nil
}

// vaultProvider resolves references as KV v2 paths.
type vaultProvider struct {
	client        vault.Client
	logger        observability.Logger
	authenticated bool
}

// Get reads the KV v2 secret at ref, authenticating on first use.
func (p *vaultProvider) Get(ctx context.Context, ref string) (*Secret, error) {
	if !p.authenticated {
		if err := p.client.Authenticate(ctx); err != nil {
			return nil, err
		}
		p.authenticated = true
	}

	data, err := p.client.ReadKV2(ctx, ref)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, ref)
		}
		return nil, err
	}

	secret := &Secret{Data: make(map[string]string, len(data))}
	for k, v := range data {
		if s, ok := v.(string); ok {
			secret.Data[k] = s
		}
	}
	return secret, nil
}
