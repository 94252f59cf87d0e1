package domain

import (
	"context"
	"time"
)

// RateLimiter provides rate limiting keyed by an arbitrary string.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides mutual exclusion across processes.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// Deduper remembers keys for a while. Seen records key and reports whether
// it had already been recorded within ttl. Forget drops key so the next Seen
// reports it as new.
type Deduper interface {
	Seen(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, key string) error
}

// EventBus provides fire-and-forget pub/sub.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// EventHistory keeps a bounded tail of published payloads per channel.
// Recent returns up to n payloads, oldest first.
type EventHistory interface {
	Recent(ctx context.Context, channel string, n int) ([][]byte, error)
}

// SnapshotCache stores rendered read models. Get returns ErrNotFound on a
// miss.
type SnapshotCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}
