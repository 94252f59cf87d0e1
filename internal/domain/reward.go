package domain

import (
	"math/big"
	"time"
)

// RewardStatus tracks the bounty lifecycle of an issue.
type RewardStatus string

const (
	RewardUnfunded RewardStatus = "UNFUNDED"
	RewardEscrowed RewardStatus = "ESCROWED"
	RewardClaimed  RewardStatus = "CLAIMED"
	RewardApproved RewardStatus = "APPROVED"
	RewardPaid     RewardStatus = "PAID"
	RewardRevoked  RewardStatus = "REVOKED"
)

// Terminal reports whether no further transition is possible from s.
func (s RewardStatus) Terminal() bool {
	return s == RewardPaid || s == RewardRevoked
}

// Holding reports whether a record in status s still holds escrowed funds.
func (s RewardStatus) Holding() bool {
	switch s {
	case RewardEscrowed, RewardClaimed, RewardApproved:
		return true
	}
	return false
}

// rewardTransitions lists the legal next states for each status.
var rewardTransitions = map[RewardStatus][]RewardStatus{
	RewardUnfunded: {RewardEscrowed},
	RewardEscrowed: {RewardClaimed, RewardRevoked},
	RewardClaimed:  {RewardApproved, RewardRevoked},
	RewardApproved: {RewardPaid},
}

// CanTransition reports whether from → to is a legal lifecycle step.
func CanTransition(from, to RewardStatus) bool {
	for _, s := range rewardTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IssueReward is the bounty record of one issue. A record is keyed by
// (RepositoryID, IssueID); Round increases each time a terminal record is
// allocated again.
type IssueReward struct {
	RepositoryID string
	IssueID      string
	Round        int
	Currency     Currency
	Amount       *big.Int // nil while UNFUNDED
	Status       RewardStatus
	Contributor  string
	Receipt      string // payout tx hash once PAID
	RequestedBy  string
	AllocatedBy  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Clone returns a deep copy of r.
func (r IssueReward) Clone() IssueReward {
	out := r
	if r.Amount != nil {
		out.Amount = new(big.Int).Set(r.Amount)
	}
	return out
}
