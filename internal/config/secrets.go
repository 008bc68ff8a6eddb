package config

import "time"

// Secrets provider names.
const (
	SecretsProviderEnv   = "env"
	SecretsProviderVault = "vault"
)

// Vault client defaults.
const (
	DefaultVaultTimeout    = 10 * time.Second
	DefaultVaultMaxRetries = 2
	DefaultVaultMountPath  = "secret"
)

// SecretsConfig configures secret resolution.
type SecretsConfig struct {
	// Provider is env or vault. Default env.
	Provider string `yaml:"provider,omitempty"`

	// Vault configures the vault provider.
	Vault *VaultConfig `yaml:"vault,omitempty"`
}

// VaultConfig configures the Vault client.
type VaultConfig struct {
	// Address is the Vault server URL.
	Address string `yaml:"address"`

	// AuthMethod is token or approle.
	AuthMethod string `yaml:"authMethod,omitempty"`

	// Token authenticates the token method. ${VAR} substitution keeps
	// it out of the file.
	Token string `yaml:"token,omitempty"`

	// AppRole authenticates the approle method.
	AppRole *AppRoleConfig `yaml:"appRole,omitempty"`

	// MountPath is the KV v2 mount, default secret.
	MountPath string `yaml:"mountPath,omitempty"`

	// Namespace is the Vault enterprise namespace.
	Namespace string `yaml:"namespace,omitempty"`

	// Timeout bounds one Vault request, default 10s.
	Timeout Duration `yaml:"timeout,omitempty"`

	// MaxRetries retries transient failures, default 2.
	MaxRetries int `yaml:"maxRetries,omitempty"`
}

// AppRoleConfig holds AppRole credentials.
type AppRoleConfig struct {
	RoleID   string `yaml:"roleId"`
	SecretID string `yaml:"secretId"`
}

// GetEffectiveProvider returns the secrets provider or env.
func (s *SecretsConfig) GetEffectiveProvider() string {
	if s != nil && s.Provider != "" {
		return s.Provider
	}
	return SecretsProviderEnv
}

// GetEffectiveTimeout returns the Vault request timeout or its default.
func (v *VaultConfig) GetEffectiveTimeout() time.Duration {
	if v != nil && v.Timeout > 0 {
		return v.Timeout.Duration()
	}
	return DefaultVaultTimeout
}

// GetEffectiveMountPath returns the KV mount or its default.
func (v *VaultConfig) GetEffectiveMountPath() string {
	if v != nil && v.MountPath != "" {
		return v.MountPath
	}
	return DefaultVaultMountPath
}

// GetEffectiveMaxRetries returns the retry count or its default.
func (v *VaultConfig) GetEffectiveMaxRetries() int {
	if v != nil && v.MaxRetries > 0 {
		return v.MaxRetries
	}
	return DefaultVaultMaxRetries
}
