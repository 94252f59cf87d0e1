package domain

import (
	"context"
	"fmt"
	"math/big"
	"time"
)

// TransferLeg names one of the transfers made when a bounty is distributed.
type TransferLeg string

const (
	LegPlatformFee    TransferLeg = "platform_fee"
	LegContributorFee TransferLeg = "contributor_fee"
	LegPayout         TransferLeg = "payout"
)

// Transfer is a single value movement requested from the chain adapter.
// Key is stable across retries of the same logical transfer.
type Transfer struct {
	Key      string
	Currency Currency
	To       string
	Amount   *big.Int
}

// TransferKey builds the idempotency key of a distribution leg.
func TransferKey(repositoryID, issueID string, round int, leg TransferLeg) string {
	return fmt.Sprintf("%s/%s/%d/%s", repositoryID, issueID, round, leg)
}

// Receipt is a confirmed on-chain execution.
type Receipt struct {
	Hash        string `json:"hash"`
	BlockHeight uint64 `json:"block_height"`
}

// ChainAdapter submits transfers to the underlying ledger and blocks until
// they are confirmed or fail. Implementations may be invoked more than once
// for the same Transfer.Key; failures are reported as *ChainError.
type ChainAdapter interface {
	Execute(ctx context.Context, t Transfer) (Receipt, error)
}

// DistributionLeg is a confirmed transfer belonging to a distribution.
type DistributionLeg struct {
	RepositoryID string
	IssueID      string
	Round        int
	Leg          TransferLeg
	To           string
	Currency     Currency
	Amount       *big.Int
	Receipt      Receipt
	ConfirmedAt  time.Time
}

// DistributionResult summarises a completed payout.
type DistributionResult struct {
	RepositoryID   string
	IssueID        string
	Currency       Currency
	Contributor    string
	RewardAmount   *big.Int
	PlatformFee    *big.Int
	ContributorFee *big.Int
	NetPayout      *big.Int
	Receipt        Receipt
	Legs           []DistributionLeg
}

// JobStatus is the state of an asynchronous distribution.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// DistributionJob records an asynchronous distribute request and its outcome.
type DistributionJob struct {
	ID           string
	RepositoryID string
	IssueID      string
	Actor        string
	Status       JobStatus
	Result       *DistributionResult
	Error        string
	StartedAt    time.Time
	FinishedAt   *time.Time
}
