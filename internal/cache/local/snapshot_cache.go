package local

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/bountypool/internal/domain"
)

// SnapshotCache is a process-local domain.SnapshotCache.
type SnapshotCache struct {
	mu      sync.Mutex
	entries map[string]snapshot
	clock   func() time.Time
}

type snapshot struct {
	data    []byte
	expires time.Time // zero means no expiry
}

// NewSnapshotCache creates a SnapshotCache.
func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{entries: make(map[string]snapshot), clock: time.Now}
}

func (c *SnapshotCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !e.expires.IsZero() && !c.clock().Before(e.expires) {
		delete(c.entries, key)
		return nil, domain.ErrNotFound
	}
	return slices.Clone(e.data), nil
}

func (c *SnapshotCache) Set(_ context.Context, key string, data []byte, ttl time.Duration) error {
	e := snapshot{data: slices.Clone(data)}
	if ttl > 0 {
		e.expires = c.clock().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

func (c *SnapshotCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

var (
	_ domain.SnapshotCache = (*SnapshotCache)(nil)
	_ domain.EventHistory  = (*EventBus)(nil)
	_ domain.EventBus      = (*EventBus)(nil)
	_ domain.Deduper       = (*Deduper)(nil)
	_ domain.RateLimiter   = (*RateLimiter)(nil)
	_ domain.LockManager   = (*LockManager)(nil)
)
