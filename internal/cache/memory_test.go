package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dogcatcher/authgw/internal/config"
	"github.com/dogcatcher/authgw/internal/observability"
)

func newTestMemoryCache(t *testing.T, maxEntries int) *memoryCache {
	t.Helper()
	c := newMemoryCache(&config.CacheConfig{MaxEntries: maxEntries}, observability.NopLogger())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMemoryCache_SetGet(t *testing.T) {
	t.Parallel()

	c := newTestMemoryCache(t, 10)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))

	value, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)
}

func TestMemoryCache_Miss(t *testing.T) {
	t.Parallel()

	c := newTestMemoryCache(t, 10)

	_, err := c.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_Expiry(t *testing.T) {
	t.Parallel()

	c := newTestMemoryCache(t, 10)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), 10*time.Millisecond))

	time.Sleep(30 * time.Millisecond)

	_, err := c.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	t.Parallel()

	c := newTestMemoryCache(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Minute))
	}

	// Touch k0 so k1 becomes the eviction candidate.
	_, err := c.Get(ctx, "k0")
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "k3", []byte("v"), time.Minute))

	_, err = c.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	_, err = c.Get(ctx, "k0")
	assert.NoError(t, err)
}

func TestMemoryCache_Overwrite(t *testing.T) {
	t.Parallel()

	c := newTestMemoryCache(t, 10)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))
	require.NoError(t, c.Set(ctx, "k1", []byte("v2"), time.Minute))

	value, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), value)
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestMemoryCache_Delete(t *testing.T) {
	t.Parallel()

	c := newTestMemoryCache(t, 10)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))
	require.NoError(t, c.Delete(ctx, "k1"))
	require.NoError(t, c.Delete(ctx, "k1"))

	_, err := c.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_Stats(t *testing.T) {
	t.Parallel()

	c := newTestMemoryCache(t, 10)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))

	_, _ = c.Get(ctx, "k1")
	_, _ = c.Get(ctx, "absent")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
}

func TestMemoryCache_Sweep(t *testing.T) {
	t.Parallel()

	c := newTestMemoryCache(t, 10)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), 5*time.Millisecond))
	require.NoError(t, c.Set(ctx, "k2", []byte("v2"), time.Minute))

	time.Sleep(20 * time.Millisecond)
	c.sweep()

	assert.Equal(t, 1, c.Stats().Entries)
}

func TestMemoryCache_CloseIdempotent(t *testing.T) {
	t.Parallel()

	c := newMemoryCache(&config.CacheConfig{}, observability.NopLogger())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestHashKey(t *testing.T) {
	t.Parallel()

	h := HashKey("token-value")
	assert.Len(t, h, 64)
	assert.Equal(t, h, HashKey("token-value"))
	assert.NotEqual(t, h, HashKey("other-token"))
	assert.NotContains(t, h, "token")
}
