package cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dogcatcher/authgw/internal/config"
	"github.com/dogcatcher/authgw/internal/observability"
)

// defaultTTLJitter spreads expirations by ±10% to avoid synchronized
// re-introspection bursts against the identity provider.
const defaultTTLJitter = 0.1

// redisCache is a Redis-backed cache.
type redisCache struct {
	logger     observability.Logger
	client     *redis.Client
	keyPrefix  string
	defaultTTL time.Duration
	ttlJitter  float64

	hits   int64
	misses int64
}

// newRedisCache creates a Redis cache and verifies connectivity.
func newRedisCache(ctx context.Context, cfg *config.CacheConfig, logger observability.Logger) (*redisCache, error) {
	if cfg.Redis == nil || cfg.Redis.Address == "" {
		return nil, fmt.Errorf("%w: redis backend requires an address", ErrInvalidConfig)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Address, err)
	}

	keyPrefix := cfg.Redis.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "authgw:"
	}

	logger.Info("redis cache initialized",
		observability.String("address", cfg.Redis.Address),
		observability.String("key_prefix", keyPrefix),
		observability.Duration("default_ttl", cfg.GetEffectiveTTL()),
	)

	return &redisCache{
		logger:     logger,
		client:     client,
		keyPrefix:  keyPrefix,
		defaultTTL: cfg.GetEffectiveTTL(),
		ttlJitter:  defaultTTLJitter,
	}, nil
}

// Get retrieves a value.
func (c *redisCache) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "cache.Get",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("cache.backend", "redis")),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		GetMetrics().operationDuration.WithLabelValues("redis", "get").
			Observe(time.Since(start).Seconds())
	}()

	value, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			atomic.AddInt64(&c.misses, 1)
			GetMetrics().missesTotal.WithLabelValues("redis").Inc()
			span.SetAttributes(attribute.Bool("cache.hit", false))
			return nil, ErrCacheMiss
		}
		GetMetrics().errorsTotal.WithLabelValues("redis", "get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	atomic.AddInt64(&c.hits, 1)
	GetMetrics().hitsTotal.WithLabelValues("redis").Inc()
	span.SetAttributes(attribute.Bool("cache.hit", true))

	return value, nil
}

// Set stores a value with jittered TTL.
func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "cache.Set",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("cache.backend", "redis")),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		GetMetrics().operationDuration.WithLabelValues("redis", "set").
			Observe(time.Since(start).Seconds())
	}()

	if ttl == 0 {
		ttl = c.defaultTTL
	}

	if err := c.client.Set(ctx, c.keyPrefix+key, value, applyTTLJitter(ttl, c.ttlJitter)).Err(); err != nil {
		GetMetrics().errorsTotal.WithLabelValues("redis", "set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a value.
func (c *redisCache) Delete(ctx context.Context, key string) error {
	start := time.Now()
	defer func() {
		GetMetrics().operationDuration.WithLabelValues("redis", "delete").
			Observe(time.Since(start).Seconds())
	}()

	if err := c.client.Del(ctx, c.keyPrefix+key).Err(); err != nil {
		GetMetrics().errorsTotal.WithLabelValues("redis", "delete").Inc()
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Close closes the client connection.
func (c *redisCache) Close() error {
	return c.client.Close()
}

// Stats returns cache statistics. Entry count is not tracked for the
// redis backend.
func (c *redisCache) Stats() Stats {
	return Stats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
	}
}

// applyTTLJitter varies ttl by ±jitterFactor.
func applyTTLJitter(ttl time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 || ttl <= 0 {
		return ttl
	}
	if jitterFactor > 1.0 {
		jitterFactor = 1.0
	}
	//nolint:gosec // TTL jitter does not require cryptographic randomness
	jitter := time.Duration(float64(ttl) * jitterFactor * (2*rand.Float64() - 1))
	result := ttl + jitter
	if result <= 0 {
		return ttl
	}
	return result
}
