package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemCacheBasic(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	cache := NewMemCacheStore(10, time.Hour)

	val, err := cache.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(val)

	require.NoError(t, cache.Set(ctx, "k", "v", time.Minute))
	val, err = cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal("v", val)

	require.NoError(t, cache.Purge(ctx, "k"))
	val, err = cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Empty(val)
}

func TestMemCachePerEntryTTL(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	cache := NewMemCacheStore(10, time.Hour)

	require.NoError(t, cache.Set(ctx, "short", "v", 20*time.Millisecond))
	require.NoError(t, cache.Set(ctx, "long", "v", time.Minute))

	time.Sleep(50 * time.Millisecond)

	val, err := cache.Get(ctx, "short")
	require.NoError(t, err)
	assert.Empty(val, "entry past its own deadline must be absent")

	val, err = cache.Get(ctx, "long")
	require.NoError(t, err)
	assert.Equal("v", val)
}

func TestMemCacheTakeIsSingleUse(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	cache := NewMemCacheStore(10, time.Hour)

	require.NoError(t, cache.Set(ctx, "k", "v", time.Minute))

	val, err := cache.Take(ctx, "k")
	require.NoError(t, err)
	assert.Equal("v", val)

	val, err = cache.Take(ctx, "k")
	require.NoError(t, err)
	assert.Empty(val)

	val, err = cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Empty(val)
}
