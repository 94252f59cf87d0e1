// Package local provides in-process implementations of the domain cache
// interfaces for single-replica deployments and tests.
package local

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/bountypool/internal/domain"
)

// LockManager is a process-local domain.LockManager with TTL expiry.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]lease
	clock func() time.Time
	seq   uint64
}

type lease struct {
	id      uint64
	expires time.Time
}

// NewLockManager creates a LockManager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]lease), clock: time.Now}
}

// Acquire takes key for ttl or returns domain.ErrLockHeld.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.clock()
	if l, ok := lm.held[key]; ok && now.Before(l.expires) {
		return nil, domain.ErrLockHeld
	}
	lm.seq++
	id := lm.seq
	lm.held[key] = lease{id: id, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if l, ok := lm.held[key]; ok && l.id == id {
				delete(lm.held, key)
			}
		})
	}, nil
}

// RateLimiter is a process-local domain.RateLimiter built on token buckets:
// limit tokens refilled evenly over window.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[limiterKey]*rate.Limiter
}

type limiterKey struct {
	key    string
	limit  int
	window time.Duration
}

// NewRateLimiter creates a RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{limiters: make(map[limiterKey]*rate.Limiter)}
}

// Allow reports whether one more request for key fits.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return false, nil
	}
	k := limiterKey{key: key, limit: limit, window: window}

	rl.mu.Lock()
	lim, ok := rl.limiters[k]
	if !ok {
		lim = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
		rl.limiters[k] = lim
	}
	rl.mu.Unlock()

	return lim.Allow(), nil
}

// Deduper is a process-local domain.Deduper.
type Deduper struct {
	mu    sync.Mutex
	seen  map[string]time.Time // key -> expiry
	clock func() time.Time
}

// NewDeduper creates a Deduper.
func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]time.Time), clock: time.Now}
}

// Seen records key and reports whether it was recorded within ttl.
func (d *Deduper) Seen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock()
	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		return true, nil
	}
	d.seen[key] = now.Add(ttl)
	return false, nil
}

// Forget drops key.
func (d *Deduper) Forget(_ context.Context, key string) error {
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
	return nil
}

// Cleanup removes expired entries.
func (d *Deduper) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock()
	for k, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, k)
		}
	}
}

var (
	_ domain.LockManager = (*LockManager)(nil)
	_ domain.RateLimiter = (*RateLimiter)(nil)
	_ domain.Deduper     = (*Deduper)(nil)
)
