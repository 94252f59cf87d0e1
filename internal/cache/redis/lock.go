package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bountypool/internal/domain"
)

// unlockLua deletes the lock only if it still holds the caller's token, so
// a holder whose TTL lapsed cannot release someone else's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager with SET NX and a TTL.
type LockManager struct {
	c        *Client
	unlockSc *redis.Script
	logger   *slog.Logger
}

// NewLockManager creates a LockManager.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		c:        c,
		unlockSc: redis.NewScript(unlockLua),
		logger:   slog.Default().With(slog.String("component", "redis_lock")),
	}
}

// WithLogger sets the logger unlock failures are reported on.
func (lm *LockManager) WithLogger(logger *slog.Logger) *LockManager {
	lm.logger = logger.With(slog.String("component", "redis_lock"))
	return lm
}

// Acquire takes the lock for key or returns domain.ErrLockHeld. The returned
// unlock func may be called more than once.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lm.c.key("lock", key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lm.unlockSc.Run(unlockCtx, lm.c.rdb, []string{lk}, token).Err(); err != nil {
				// The lock stays held until its TTL lapses.
				lm.logger.WarnContext(unlockCtx, "release lock failed",
					slog.String("key", key),
					slog.Duration("ttl", ttl),
					slog.String("error", err.Error()),
				)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
