package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), RedisConfig{
		Addr:      mr.Addr(),
		KeyPrefix: "trustgate:test:",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store, mr
}

func TestRedisStore_SetGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	require.NoError(t, store.Set(ctx, "k", "v", time.Minute))

	value, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", value)

	_, ok, err = store.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_SetNX(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	stored, err := store.SetNX(ctx, "k", "first", time.Minute)
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = store.SetNX(ctx, "k", "second", time.Minute)
	require.NoError(t, err)
	assert.False(t, stored)

	value, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", value, "losing SetNX must not overwrite")
}

func TestRedisStore_SetNXAfterExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	stored, err := store.SetNX(ctx, "k", "first", time.Minute)
	require.NoError(t, err)
	require.True(t, stored)

	mr.FastForward(2 * time.Minute)

	stored, err = store.SetNX(ctx, "k", "second", time.Minute)
	require.NoError(t, err)
	assert.True(t, stored, "expired key must be claimable again")
}

func TestRedisStore_GetDel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	require.NoError(t, store.Set(ctx, "once", "v", time.Minute))

	value, ok, err := store.GetDel(ctx, "once")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", value)

	_, ok, err = store.GetDel(ctx, "once")
	require.NoError(t, err)
	assert.False(t, ok, "second GetDel must observe absence")
}

func TestRedisStore_Incr(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	for want := int64(1); want <= 3; want++ {
		got, err := store.Incr(ctx, "counter", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// Counter resets once the window TTL lapses.
	mr.FastForward(2 * time.Minute)

	got, err := store.Incr(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestRedisStore_Health(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	require.NoError(t, store.Health(ctx))

	mr.Close()
	assert.Error(t, store.Health(ctx))
}
