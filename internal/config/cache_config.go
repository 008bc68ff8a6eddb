package config

import "time"

// Cache backend names.
const (
	CacheBackendMemory   = "memory"
	CacheBackendRedis    = "redis"
	CacheBackendDisabled = "disabled"
)

// Cache defaults.
const (
	DefaultCacheTTL        = 5 * time.Minute
	DefaultCacheMaxEntries = 10000
)

// CacheConfig configures the verification result cache.
type CacheConfig struct {
	// Backend is memory, redis, or disabled. Default memory.
	Backend string `yaml:"backend,omitempty"`

	// TTL is the default entry lifetime.
	TTL Duration `yaml:"ttl,omitempty"`

	// MaxEntries bounds the memory backend.
	MaxEntries int `yaml:"maxEntries,omitempty"`

	// Redis configures the redis backend.
	Redis *RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig configures the redis cache backend.
type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db,omitempty"`
	KeyPrefix string `yaml:"keyPrefix,omitempty"`
}

// GetEffectiveBackend returns the cache backend or memory.
func (c *CacheConfig) GetEffectiveBackend() string {
	if c != nil && c.Backend != "" {
		return c.Backend
	}
	return CacheBackendMemory
}

// GetEffectiveTTL returns the entry TTL or its default.
func (c *CacheConfig) GetEffectiveTTL() time.Duration {
	if c != nil && c.TTL > 0 {
		return c.TTL.Duration()
	}
	return DefaultCacheTTL
}

// GetEffectiveMaxEntries returns the memory backend bound or its default.
func (c *CacheConfig) GetEffectiveMaxEntries() int {
	if c != nil && c.MaxEntries > 0 {
		return c.MaxEntries
	}
	return DefaultCacheMaxEntries
}
