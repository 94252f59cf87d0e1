package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PoolDocument is the stored, versioned form of a Pool. State holds the
// encoding that matches SchemaVersion; decoding and upgrading it is the
// ledger's job.
type PoolDocument struct {
	RepositoryID  string
	SchemaVersion int
	State         []byte
	UpdatedAt     time.Time
}

// LedgerTx is the view of one repository's ledger state inside WithinRepo.
// Writes become visible only if the enclosing function returns nil.
type LedgerTx interface {
	LoadPool(ctx context.Context) (PoolDocument, error)
	SavePool(ctx context.Context, doc PoolDocument) error
	LoadReward(ctx context.Context, issueID string) (IssueReward, error)
	SaveReward(ctx context.Context, r IssueReward) error
	AppendFunding(ctx context.Context, f FundingTx) (int64, error)
	FundingSince(ctx context.Context, since time.Time) ([]FundingTx, error)
}

// LedgerStore persists pools, issue rewards, and the funding log.
type LedgerStore interface {
	// WithinRepo runs fn with exclusive access to repositoryID's state.
	// Calls for the same repository are serialised; calls for different
	// repositories may run concurrently.
	WithinRepo(ctx context.Context, repositoryID string, fn func(tx LedgerTx) error) error

	GetPool(ctx context.Context, repositoryID string) (PoolDocument, error)
	GetReward(ctx context.Context, repositoryID, issueID string) (IssueReward, error)
	ListRewards(ctx context.Context, repositoryID string, opts ListOpts) ([]IssueReward, error)
	ListFunding(ctx context.Context, repositoryID string, opts ListOpts) ([]FundingTx, error)
	ListFundingBefore(ctx context.Context, before time.Time) ([]FundingTx, error)
}

// DistributionStore persists confirmed payout legs and async jobs.
type DistributionStore interface {
	ConfirmedLegs(ctx context.Context, repositoryID, issueID string, round int) ([]DistributionLeg, error)
	SaveLeg(ctx context.Context, leg DistributionLeg) error
	SaveJob(ctx context.Context, job DistributionJob) error
	GetJob(ctx context.Context, id string) (DistributionJob, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
