package domain

import "time"

// ChannelLedger is the event bus channel carrying LedgerEvent payloads.
const ChannelLedger = "ledger:events"

// LedgerEventType names a ledger state change.
type LedgerEventType string

const (
	EventManagerAdded       LedgerEventType = "manager_added"
	EventManagerRemoved     LedgerEventType = "manager_removed"
	EventPoolFunded         LedgerEventType = "pool_funded"
	EventBountyRequested    LedgerEventType = "bounty_requested"
	EventBountyAllocated    LedgerEventType = "bounty_allocated"
	EventBountyClaimed      LedgerEventType = "bounty_claimed"
	EventBountyApproved     LedgerEventType = "bounty_approved"
	EventBountyRevoked      LedgerEventType = "bounty_revoked"
	EventBountyPaid         LedgerEventType = "bounty_paid"
	EventDistributionFailed LedgerEventType = "distribution_failed"
)

// LedgerEvent is published after a ledger mutation commits. Amounts are in
// display form.
type LedgerEvent struct {
	ID           string          `json:"id"`
	Type         LedgerEventType `json:"type"`
	RepositoryID string          `json:"repository_id"`
	IssueID      string          `json:"issue_id,omitempty"`
	Actor        string          `json:"actor,omitempty"`
	Currency     Currency        `json:"currency,omitempty"`
	Amount       string          `json:"amount,omitempty"`
	Status       RewardStatus    `json:"status,omitempty"`
	Detail       string          `json:"detail,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}
