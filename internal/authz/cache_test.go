package authz

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, ttl time.Duration) (*RedisSnapshotCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisSnapshotCache(client, ttl), mr
}

func TestRedisSnapshotCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	_, hit, err := cache.Get(ctx, 1)
	require.NoError(t, err)
	require.False(t, hit)

	snapshot := Snapshot{
		Static:    []string{"article.edit", "article.view"},
		Overrides: map[string]bool{"article.publish": false},
	}
	require.NoError(t, cache.Set(ctx, 1, snapshot))

	got, hit, err := cache.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, snapshot, got)
}

func TestRedisSnapshotCacheInvalidate(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, 1, Snapshot{Static: []string{"a.b"}}))
	require.NoError(t, cache.Set(ctx, 2, Snapshot{Static: []string{"c.d"}}))

	require.NoError(t, cache.Invalidate(ctx, 1))

	_, hit, err := cache.Get(ctx, 1)
	require.NoError(t, err)
	require.False(t, hit)

	_, hit, err = cache.Get(ctx, 2)
	require.NoError(t, err)
	require.True(t, hit)
}

func TestRedisSnapshotCacheInvalidateAll(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, 1, Snapshot{Static: []string{"a.b"}}))
	require.NoError(t, cache.Set(ctx, 2, Snapshot{Static: []string{"c.d"}}))

	require.NoError(t, cache.InvalidateAll(ctx))

	for _, userID := range []int64{1, 2} {
		_, hit, err := cache.Get(ctx, userID)
		require.NoError(t, err)
		require.False(t, hit)
	}

	// The bumped keyspace stays writable.
	require.NoError(t, cache.Set(ctx, 1, Snapshot{Static: []string{"e.f"}}))
	_, hit, err := cache.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, hit)
}

func TestRedisSnapshotCacheTTLExpiry(t *testing.T) {
	cache, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, 1, Snapshot{Static: []string{"a.b"}}))
	mr.FastForward(time.Minute + time.Second)

	_, hit, err := cache.Get(ctx, 1)
	require.NoError(t, err)
	require.False(t, hit)
}
