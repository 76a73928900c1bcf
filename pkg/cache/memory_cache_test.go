package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemoryCache(t *testing.T, config Config) *MemoryCache {
	t.Helper()
	c, err := NewMemoryCache(config)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := newTestMemoryCache(t, Config{})
	ctx := context.Background()

	_, found, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "k", []byte("value"), 0))

	got, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("value"), got)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, int64(5), stats.Size)
}

func TestMemoryCacheTTL(t *testing.T) {
	c := newTestMemoryCache(t, Config{})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 10*time.Millisecond))

	_, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)

	time.Sleep(20 * time.Millisecond)

	_, found, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found, "expired entry dropped on access")
	assert.Equal(t, int64(0), c.Stats().Size)
}

func TestMemoryCacheLRUEviction(t *testing.T) {
	c := newTestMemoryCache(t, Config{MaxSize: 10})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("aaaaa"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("bbbbb"), 0))

	// Touch "a" so "b" becomes the eviction candidate.
	_, _, err := c.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "c", []byte("ccccc"), 0))

	_, found, _ := c.Get(ctx, "a")
	assert.True(t, found)
	_, found, _ = c.Get(ctx, "b")
	assert.False(t, found, "least recently used entry evicted")
	_, found, _ = c.Get(ctx, "c")
	assert.True(t, found)
}

func TestMemoryCacheOversizedValue(t *testing.T) {
	c := newTestMemoryCache(t, Config{MaxSize: 4})
	err := c.Set(context.Background(), "k", []byte("too large"), 0)
	assert.Error(t, err)
}

func TestMemoryCacheDeleteAndClear(t *testing.T) {
	c := newTestMemoryCache(t, Config{})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))

	require.NoError(t, c.Delete(ctx, "a"))
	_, found, _ := c.Get(ctx, "a")
	assert.False(t, found)
	assert.Equal(t, int64(1), c.Stats().Deletes)

	require.NoError(t, c.Clear(ctx))
	_, found, _ = c.Get(ctx, "b")
	assert.False(t, found)
	assert.Equal(t, int64(0), c.Stats().Size)
}

func TestMemoryCacheCloseIdempotent(t *testing.T) {
	c, err := NewMemoryCache(Config{})
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
