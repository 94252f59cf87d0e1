package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/bountypool/internal/domain"
)

// inflight admits one distribution per (repository, issue). The local set
// rejects concurrent calls inside this process; the optional LockManager
// extends that across replicas.
type inflight struct {
	mu    sync.Mutex
	busy  map[string]struct{}
	locks domain.LockManager
	ttl   time.Duration
}

func newInflight(ttl time.Duration) *inflight {
	return &inflight{busy: make(map[string]struct{}), ttl: ttl}
}

func guardKey(repositoryID, issueID string) string {
	return "distribute:" + repositoryID + "#" + issueID
}

// acquire returns a release func, or ErrDistributionInProgress when the pair
// is already being distributed.
func (g *inflight) acquire(ctx context.Context, repositoryID, issueID string) (func(), error) {
	key := guardKey(repositoryID, issueID)

	g.mu.Lock()
	if _, ok := g.busy[key]; ok {
		g.mu.Unlock()
		return nil, domain.ErrDistributionInProgress
	}
	g.busy[key] = struct{}{}
	g.mu.Unlock()

	local := func() {
		g.mu.Lock()
		delete(g.busy, key)
		g.mu.Unlock()
	}

	if g.locks == nil {
		return local, nil
	}
	unlock, err := g.locks.Acquire(ctx, key, g.ttl)
	if err != nil {
		local()
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, domain.ErrDistributionInProgress
		}
		return nil, fmt.Errorf("engine: acquire %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unlock()
			local()
		})
	}, nil
}

func (g *inflight) active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.busy)
}
