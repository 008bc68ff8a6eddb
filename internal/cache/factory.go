package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dogcatcher/authgw/internal/config"
	"github.com/dogcatcher/authgw/internal/observability"
)

// New creates the cache backend named by the configuration. A nil
// configuration yields a memory cache with defaults; the disabled
// backend yields a cache that misses on every read.
func New(ctx context.Context, cfg *config.CacheConfig, logger observability.Logger) (Cache, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if cfg == nil {
		cfg = &config.CacheConfig{}
	}

	switch backend := cfg.GetEffectiveBackend(); backend {
	case config.CacheBackendMemory:
		return newMemoryCache(cfg, logger), nil
	case config.CacheBackendRedis:
		return newRedisCache(ctx, cfg, logger)
	case config.CacheBackendDisabled:
		return disabledCache{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, backend)
	}
}

// disabledCache satisfies Cache without storing anything.
type disabledCache struct{}

func (disabledCache) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

func (disabledCache) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

func (disabledCache) Delete(context.Context, string) error {
	return nil
}

func (disabledCache) Close() error {
	return nil
}
