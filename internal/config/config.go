// Package config loads, validates, and watches the authentication router
// configuration. Configuration is YAML with ${VAR} and ${VAR:-default}
// environment substitution applied before unmarshaling.
package config

import (
	"time"

	"github.com/dogcatcher/authgw/internal/audit"
)

// Default configuration values.
const (
	DefaultListenerPort = 8080
	DefaultMetricsPort  = 9090

	DefaultShutdownTimeout = 30 * time.Second
)

// Config is the top-level router configuration.
type Config struct {
	// Name identifies the router instance in logs and health output.
	Name string `yaml:"name"`

	// Listeners are the inbound HTTP(S) listeners.
	Listeners []Listener `yaml:"listeners"`

	// Routes is the ordered route table. Routes are tested in
	// configuration order; the first matching prefix wins. The operator
	// lists more specific prefixes first, the table is never auto-sorted.
	Routes []Route `yaml:"routes"`

	// DefaultRoute handles paths matching no route prefix. When absent,
	// unmatched paths are rejected with 404.
	DefaultRoute *Route `yaml:"defaultRoute,omitempty"`

	// APIKeyAuth configures the apikey verifier and consumer registry.
	APIKeyAuth *APIKeyAuthConfig `yaml:"apiKeyAuth,omitempty"`

	// MTLS configures the mutual TLS verifier trust store.
	MTLS *MTLSConfig `yaml:"mtls,omitempty"`

	// JWT configures the bearer JWT verifier.
	JWT *JWTConfig `yaml:"jwt,omitempty"`

	// OIDC configures the OIDC verifier.
	OIDC *OIDCConfig `yaml:"oidc,omitempty"`

	// RateLimit configures inbound rate limiting. Disabled by default.
	RateLimit *RateLimitConfig `yaml:"rateLimit,omitempty"`

	// Cache configures the verification result cache backend.
	Cache *CacheConfig `yaml:"cache,omitempty"`

	// Secrets configures the secret resolution providers.
	Secrets *SecretsConfig `yaml:"secrets,omitempty"`

	// Observability configures logging, metrics, and tracing.
	Observability ObservabilityConfig `yaml:"observability"`

	// Audit configures the authentication decision log.
	Audit *audit.Config `yaml:"audit,omitempty"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout Duration `yaml:"shutdownTimeout,omitempty"`
}

// ObservabilityConfig groups the ambient observability settings.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty"`
}

// RateLimitConfig configures inbound token-bucket rate limiting.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`

	// RequestsPerSecond is the sustained rate per client.
	RequestsPerSecond int `yaml:"requestsPerSecond"`

	// Burst is the burst size per client.
	Burst int `yaml:"burst"`

	// PerClient applies the limit per client IP instead of globally.
	PerClient bool `yaml:"perClient"`
}

// DefaultConfig returns a configuration with defaults applied: one plain
// listener, JSON logging at info, metrics enabled on the default port.
func DefaultConfig() *Config {
	return &Config{
		Name: "authgw",
		Listeners: []Listener{
			{Name: "http", Port: DefaultListenerPort, Protocol: ProtocolPlain},
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
			Metrics: MetricsConfig{Enabled: true, Port: DefaultMetricsPort, Path: "/metrics"},
			Tracing: TracingConfig{SamplingRate: 1.0},
		},
		ShutdownTimeout: Duration(DefaultShutdownTimeout),
	}
}

// GetEffectiveShutdownTimeout returns the shutdown timeout or its default.
func (c *Config) GetEffectiveShutdownTimeout() time.Duration {
	if c.ShutdownTimeout > 0 {
		return c.ShutdownTimeout.Duration()
	}
	return DefaultShutdownTimeout
}

// GetEffectiveMetricsPort returns the metrics port or its default.
func (m MetricsConfig) GetEffectiveMetricsPort() int {
	if m.Port > 0 {
		return m.Port
	}
	return DefaultMetricsPort
}

// GetEffectiveMetricsPath returns the metrics path or "/metrics".
func (m MetricsConfig) GetEffectiveMetricsPath() string {
	if m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// HasMode reports whether any route (including the default route) uses
// the named authentication mode.
func (c *Config) HasMode(mode string) bool {
	for i := range c.Routes {
		if c.Routes[i].Mode == mode {
			return true
		}
	}
	return c.DefaultRoute != nil && c.DefaultRoute.Mode == mode
}
