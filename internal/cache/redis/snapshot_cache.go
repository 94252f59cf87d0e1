package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bountypool/internal/domain"
)

// SnapshotCache implements domain.SnapshotCache with plain string keys.
//
// Key schema:
//
//	{prefix}:snapshot:{key} - rendered JSON
type SnapshotCache struct {
	c *Client
}

// NewSnapshotCache creates a SnapshotCache backed by the given Client.
func NewSnapshotCache(c *Client) *SnapshotCache {
	return &SnapshotCache{c: c}
}

// Get returns the cached bytes or domain.ErrNotFound.
func (sc *SnapshotCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := sc.c.rdb.Get(ctx, sc.c.key("snapshot", key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get snapshot %s: %w", key, err)
	}
	return data, nil
}

// Set stores data under key for ttl.
func (sc *SnapshotCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := sc.c.rdb.Set(ctx, sc.c.key("snapshot", key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", key, err)
	}
	return nil
}

// Delete removes keys. Missing keys are not an error.
func (sc *SnapshotCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = sc.c.key("snapshot", k)
	}
	if err := sc.c.rdb.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis: delete snapshot: %w", err)
	}
	return nil
}

var _ domain.SnapshotCache = (*SnapshotCache)(nil)
