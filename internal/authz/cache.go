package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SnapshotCache memoizes the static portion of a user's permission state.
// Implementations must be safe for concurrent use. The cache is a
// constructed component, never an ambient singleton; tests inject
// NopSnapshotCache.
type SnapshotCache interface {
	Get(ctx context.Context, userID int64) (Snapshot, bool, error)
	Set(ctx context.Context, userID int64, snapshot Snapshot) error
	Invalidate(ctx context.Context, userIDs ...int64) error
	// InvalidateAll drops every cached snapshot. It is the over-invalidation
	// fallback when a role-level fan-out cannot be computed: a stale Deny is
	// safer than a stale Allow.
	InvalidateAll(ctx context.Context) error
}

const snapshotVersionKey = "authz:snapshot:version"

// RedisSnapshotCache stores snapshots in Redis under a versioned keyspace.
// Per-user invalidation deletes the key; InvalidateAll bumps the version so
// every existing key becomes unreachable at once.
type RedisSnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// DefaultSnapshotTTL bounds staleness observed by non-mutating callers.
const DefaultSnapshotTTL = 5 * time.Minute

// NewRedisSnapshotCache instantiates the cache. A zero ttl falls back to
// DefaultSnapshotTTL.
func NewRedisSnapshotCache(client *redis.Client, ttl time.Duration) *RedisSnapshotCache {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &RedisSnapshotCache{client: client, ttl: ttl}
}

func (c *RedisSnapshotCache) key(ctx context.Context, userID int64) (string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("authz:snapshot:%d:%d", ver, userID), nil
}

func (c *RedisSnapshotCache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, snapshotVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, snapshotVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Get loads a cached snapshot, reporting a miss when absent.
func (c *RedisSnapshotCache) Get(ctx context.Context, userID int64) (Snapshot, bool, error) {
	key, err := c.key(ctx, userID)
	if err != nil {
		return Snapshot{}, false, err
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	var snapshot Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return Snapshot{}, false, err
	}
	return snapshot, true, nil
}

// Set stores a snapshot under the cache TTL.
func (c *RedisSnapshotCache) Set(ctx context.Context, userID int64, snapshot Snapshot) error {
	key, err := c.key(ctx, userID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, c.ttl).Err()
}

// Invalidate drops cached snapshots for the given users.
func (c *RedisSnapshotCache) Invalidate(ctx context.Context, userIDs ...int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(userIDs))
	for _, userID := range userIDs {
		key, err := c.key(ctx, userID)
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}
	return c.client.Del(ctx, keys...).Err()
}

// InvalidateAll bumps the keyspace version.
func (c *RedisSnapshotCache) InvalidateAll(ctx context.Context) error {
	return c.client.Incr(ctx, snapshotVersionKey).Err()
}

// NopSnapshotCache never hits. Used in tests and as the explicit opt-out.
type NopSnapshotCache struct{}

// Get implements SnapshotCache.
func (NopSnapshotCache) Get(context.Context, int64) (Snapshot, bool, error) {
	return Snapshot{}, false, nil
}

// Set implements SnapshotCache.
func (NopSnapshotCache) Set(context.Context, int64, Snapshot) error { return nil }

// Invalidate implements SnapshotCache.
func (NopSnapshotCache) Invalidate(context.Context, ...int64) error { return nil }

// InvalidateAll implements SnapshotCache.
func (NopSnapshotCache) InvalidateAll(context.Context) error { return nil }
