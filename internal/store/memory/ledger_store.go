// Package memory provides in-process implementations of the domain stores,
// used in local mode and in tests.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/bountypool/internal/domain"
)

// LedgerStore keeps pools, rewards, and funding logs in memory.
type LedgerStore struct {
	mu    sync.Mutex
	repos map[string]*repoState
}

type repoState struct {
	mu      sync.Mutex
	pool    *domain.PoolDocument
	rewards map[string]domain.IssueReward
	funding []domain.FundingTx
}

// NewLedgerStore creates an empty LedgerStore.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{repos: make(map[string]*repoState)}
}

func (s *LedgerStore) repo(id string) *repoState {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.repos[id]
	if !ok {
		rs = &repoState{rewards: make(map[string]domain.IssueReward)}
		s.repos[id] = rs
	}
	return rs
}

func (s *LedgerStore) snapshot() []*repoState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*repoState, 0, len(s.repos))
	for _, rs := range s.repos {
		out = append(out, rs)
	}
	return out
}

// WithinRepo runs fn while holding repositoryID's lock. Writes are staged
// and applied only when fn returns nil.
func (s *LedgerStore) WithinRepo(ctx context.Context, repositoryID string, fn func(tx domain.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rs := s.repo(repositoryID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	tx := &ledgerTx{repo: repositoryID, rs: rs, rewards: make(map[string]domain.IssueReward)}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// GetPool returns the stored pool document.
func (s *LedgerStore) GetPool(_ context.Context, repositoryID string) (domain.PoolDocument, error) {
	rs := s.repo(repositoryID)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.pool == nil {
		return domain.PoolDocument{}, domain.ErrNotFound
	}
	return copyDoc(*rs.pool), nil
}

// GetReward returns one issue record.
func (s *LedgerStore) GetReward(_ context.Context, repositoryID, issueID string) (domain.IssueReward, error) {
	rs := s.repo(repositoryID)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	r, ok := rs.rewards[issueID]
	if !ok {
		return domain.IssueReward{}, domain.ErrNotFound
	}
	return r.Clone(), nil
}

// ListRewards returns a repository's issue records ordered by issue id.
func (s *LedgerStore) ListRewards(_ context.Context, repositoryID string, opts domain.ListOpts) ([]domain.IssueReward, error) {
	rs := s.repo(repositoryID)
	rs.mu.Lock()
	out := make([]domain.IssueReward, 0, len(rs.rewards))
	for _, r := range rs.rewards {
		out = append(out, r.Clone())
	}
	rs.mu.Unlock()
	slices.SortFunc(out, func(a, b domain.IssueReward) int { return strings.Compare(a.IssueID, b.IssueID) })
	return page(out, opts), nil
}

// ListFunding returns a repository's funding log in sequence order.
func (s *LedgerStore) ListFunding(_ context.Context, repositoryID string, opts domain.ListOpts) ([]domain.FundingTx, error) {
	rs := s.repo(repositoryID)
	rs.mu.Lock()
	out := make([]domain.FundingTx, 0, len(rs.funding))
	for _, f := range rs.funding {
		if inRange(f.Timestamp, opts) {
			out = append(out, f)
		}
	}
	rs.mu.Unlock()
	return page(out, opts), nil
}

// ListFundingBefore returns funding entries of every repository older than
// before.
func (s *LedgerStore) ListFundingBefore(_ context.Context, before time.Time) ([]domain.FundingTx, error) {
	var out []domain.FundingTx
	for _, rs := range s.snapshot() {
		rs.mu.Lock()
		for _, f := range rs.funding {
			if f.Timestamp.Before(before) {
				out = append(out, f)
			}
		}
		rs.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b domain.FundingTx) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.RepositoryID, b.RepositoryID)
	})
	return out, nil
}

// ledgerTx stages writes against one repoState whose lock is held.
type ledgerTx struct {
	repo    string
	rs      *repoState
	pool    *domain.PoolDocument
	rewards map[string]domain.IssueReward
	funding []domain.FundingTx
}

func (t *ledgerTx) LoadPool(_ context.Context) (domain.PoolDocument, error) {
	if t.pool != nil {
		return copyDoc(*t.pool), nil
	}
	if t.rs.pool == nil {
		return domain.PoolDocument{}, domain.ErrNotFound
	}
	return copyDoc(*t.rs.pool), nil
}

func (t *ledgerTx) SavePool(_ context.Context, doc domain.PoolDocument) error {
	d := copyDoc(doc)
	d.RepositoryID = t.repo
	t.pool = &d
	return nil
}

func (t *ledgerTx) LoadReward(_ context.Context, issueID string) (domain.IssueReward, error) {
	if r, ok := t.rewards[issueID]; ok {
		return r.Clone(), nil
	}
	r, ok := t.rs.rewards[issueID]
	if !ok {
		return domain.IssueReward{}, domain.ErrNotFound
	}
	return r.Clone(), nil
}

func (t *ledgerTx) SaveReward(_ context.Context, r domain.IssueReward) error {
	r.RepositoryID = t.repo
	t.rewards[r.IssueID] = r.Clone()
	return nil
}

func (t *ledgerTx) AppendFunding(_ context.Context, f domain.FundingTx) (int64, error) {
	f.RepositoryID = t.repo
	f.Sequence = int64(len(t.rs.funding)+len(t.funding)) + 1
	t.funding = append(t.funding, f)
	return f.Sequence, nil
}

func (t *ledgerTx) FundingSince(_ context.Context, since time.Time) ([]domain.FundingTx, error) {
	var out []domain.FundingTx
	for _, f := range slices.Concat(t.rs.funding, t.funding) {
		if !f.Timestamp.Before(since) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (t *ledgerTx) commit() {
	if t.pool != nil {
		t.rs.pool = t.pool
	}
	for id, r := range t.rewards {
		t.rs.rewards[id] = r
	}
	t.rs.funding = append(t.rs.funding, t.funding...)
}

// PutPoolDocument stores doc as-is, bypassing the ledger. Used to seed
// documents written by older versions.
func (s *LedgerStore) PutPoolDocument(doc domain.PoolDocument) {
	rs := s.repo(doc.RepositoryID)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	d := copyDoc(doc)
	rs.pool = &d
}

func copyDoc(d domain.PoolDocument) domain.PoolDocument {
	d.State = slices.Clone(d.State)
	return d
}

func inRange(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && !t.Before(*opts.Until) {
		return false
	}
	return true
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return []T{}
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
