// Package vault provides a thin client over the HashiCorp Vault API for
// reading KV v2 secrets.
package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/dogcatcher/authgw/internal/config"
	"github.com/dogcatcher/authgw/internal/observability"
)

// Common client errors.
var (
	// ErrNotAuthenticated indicates no valid token is held.
	ErrNotAuthenticated = errors.New("vault client not authenticated")

	// ErrSecretNotFound indicates the path holds no secret.
	ErrSecretNotFound = errors.New("vault secret not found")
)

// Client reads secrets from Vault.
type Client interface {
	// Authenticate obtains a token using the configured auth method.
	Authenticate(ctx context.Context) error

	// ReadKV2 reads the data of a KV v2 secret at path.
	ReadKV2(ctx context.Context, path string) (map[string]interface{}, error)

	// Health reports whether Vault is initialized and unsealed.
	Health(ctx context.Context) error
}

// client implements Client.
type client struct {
	cfg    *config.VaultConfig
	api    *vaultapi.Client
	logger observability.Logger
}

// New creates a Vault client from the configuration.
func New(cfg *config.VaultConfig, logger observability.Logger) (Client, error) {
	if cfg == nil || cfg.Address == "" {
		return nil, fmt.Errorf("vault address is required")
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	apiCfg := vaultapi.DefaultConfig()
	apiCfg.Address = cfg.Address
	apiCfg.Timeout = cfg.GetEffectiveTimeout()
	apiCfg.MaxRetries = cfg.GetEffectiveMaxRetries()

	api, err := vaultapi.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	if cfg.Namespace != "" {
		api.SetNamespace(cfg.Namespace)
	}

	return &client{
		cfg:    cfg,
		api:    api,
		logger: logger,
	}, nil
}

// Authenticate obtains a token via the configured method. The token
// method requires the token to be present in configuration (usually via
// ${VAULT_TOKEN} substitution); approle performs a login.
func (c *client) Authenticate(ctx context.Context) error {
	switch c.cfg.AuthMethod {
	case "", "token":
		if c.cfg.Token == "" {
			return fmt.Errorf("%w: token auth requires a token", ErrNotAuthenticated)
		}
		c.api.SetToken(c.cfg.Token)
		return nil

	case "approle":
		data := map[string]interface{}{
			"role_id": c.cfg.AppRole.RoleID,
		}
		if c.cfg.AppRole.SecretID != "" {
			data["secret_id"] = c.cfg.AppRole.SecretID
		}

		secret, err := c.api.Logical().WriteWithContext(ctx, "auth/approle/login", data)
		if err != nil {
			return fmt.Errorf("approle login failed: %w", err)
		}
		if secret == nil || secret.Auth == nil || secret.Auth.ClientToken == "" {
			return fmt.Errorf("%w: approle login returned no token", ErrNotAuthenticated)
		}

		c.api.SetToken(secret.Auth.ClientToken)
		c.logger.Info("authenticated with vault",
			observability.String("auth_method", "approle"),
			observability.Duration("lease", time.Duration(secret.Auth.LeaseDuration)*time.Second),
		)
		return nil

	default:
		return fmt.Errorf("unknown vault auth method %q", c.cfg.AuthMethod)
	}
}

// ReadKV2 reads a KV v2 secret's data.
func (c *client) ReadKV2(ctx context.Context, path string) (map[string]interface{}, error) {
	if c.api.Token() == "" {
		return nil, ErrNotAuthenticated
	}

	secret, err := c.api.KVv2(c.cfg.GetEffectiveMountPath()).Get(ctx, path)
	if err != nil {
		if errors.Is(err, vaultapi.ErrSecretNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, path)
		}
		return nil, fmt.Errorf("failed to read secret %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, path)
	}

	return secret.Data, nil
}

// Health reports an error when Vault is unreachable, sealed, or not
// initialized.
func (c *client) Health(ctx context.Context) error {
	resp, err := c.api.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if !resp.Initialized {
		return errors.New("vault is not initialized")
	}
	if resp.Sealed {
		return errors.New("vault is sealed")
	}
	return nil
}
