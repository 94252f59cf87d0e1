package handler

import (
	"math/big"
	"time"

	"github.com/alanyoungcy/bountypool/internal/currency"
	"github.com/alanyoungcy/bountypool/internal/domain"
)

// Amounts leave the API in display form ("12.5"), never as raw units.

type currencyView struct {
	Balance        string `json:"balance"`
	FundedToday    string `json:"funded_today"`
	DailyCap       string `json:"daily_cap"`
	DailyRemaining string `json:"daily_remaining"`
}

type poolView struct {
	RepositoryID  string                           `json:"repository_id"`
	Managers      []string                         `json:"managers"`
	Contributors  []string                         `json:"contributors"`
	Currencies    map[domain.Currency]currencyView `json:"currencies"`
	SchemaVersion int                              `json:"schema_version"`
	CreatedAt     time.Time                        `json:"created_at"`
	UpdatedAt     time.Time                        `json:"updated_at"`
}

func newPoolView(p domain.Pool, caps func(domain.Currency) *big.Int, now time.Time) poolView {
	day := domain.UTCDay(now)
	v := poolView{
		RepositoryID:  p.RepositoryID,
		Managers:      nonNil(p.Managers),
		Contributors:  nonNil(p.Contributors),
		Currencies:    make(map[domain.Currency]currencyView, len(domain.Currencies)),
		SchemaVersion: p.SchemaVersion,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
	for _, c := range domain.Currencies {
		funded := p.FundedOn(c, day)
		limit := caps(c)
		remaining := new(big.Int).Sub(limit, funded)
		if remaining.Sign() < 0 {
			remaining.SetInt64(0)
		}
		v.Currencies[c] = currencyView{
			Balance:        currency.ToDisplay(p.Balance(c), c),
			FundedToday:    currency.ToDisplay(funded, c),
			DailyCap:       currency.ToDisplay(limit, c),
			DailyRemaining: currency.ToDisplay(remaining, c),
		}
	}
	return v
}

type fundingView struct {
	Sequence  int64           `json:"sequence"`
	Currency  domain.Currency `json:"currency"`
	Amount    string          `json:"amount"`
	Actor     string          `json:"actor"`
	Timestamp time.Time       `json:"timestamp"`
}

func newFundingView(f domain.FundingTx) fundingView {
	return fundingView{
		Sequence:  f.Sequence,
		Currency:  f.Currency,
		Amount:    currency.ToDisplay(f.Amount, f.Currency),
		Actor:     f.Actor,
		Timestamp: f.Timestamp,
	}
}

type receiptView struct {
	RepositoryID   string          `json:"repository_id"`
	Currency       domain.Currency `json:"currency"`
	Amount         string          `json:"amount"`
	NewBalance     string          `json:"new_balance"`
	DailyRemaining string          `json:"daily_remaining"`
	Sequence       int64           `json:"sequence"`
}

func newReceiptView(r domain.FundingReceipt) receiptView {
	return receiptView{
		RepositoryID:   r.RepositoryID,
		Currency:       r.Currency,
		Amount:         currency.ToDisplay(r.Amount, r.Currency),
		NewBalance:     currency.ToDisplay(r.NewBalance, r.Currency),
		DailyRemaining: currency.ToDisplay(r.DailyRemaining, r.Currency),
		Sequence:       r.Sequence,
	}
}

type rewardView struct {
	RepositoryID string              `json:"repository_id"`
	IssueID      string              `json:"issue_id"`
	Round        int                 `json:"round"`
	Status       domain.RewardStatus `json:"status"`
	Currency     domain.Currency     `json:"currency,omitempty"`
	Amount       string              `json:"amount,omitempty"`
	Contributor  string              `json:"contributor,omitempty"`
	Receipt      string              `json:"receipt,omitempty"`
	RequestedBy  string              `json:"requested_by,omitempty"`
	AllocatedBy  string              `json:"allocated_by,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

func newRewardView(r domain.IssueReward) rewardView {
	v := rewardView{
		RepositoryID: r.RepositoryID,
		IssueID:      r.IssueID,
		Round:        r.Round,
		Status:       r.Status,
		Currency:     r.Currency,
		Contributor:  r.Contributor,
		Receipt:      r.Receipt,
		RequestedBy:  r.RequestedBy,
		AllocatedBy:  r.AllocatedBy,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.Amount != nil {
		v.Amount = currency.ToDisplay(r.Amount, r.Currency)
	}
	return v
}

type legView struct {
	Leg         domain.TransferLeg `json:"leg"`
	To          string             `json:"to"`
	Amount      string             `json:"amount"`
	TxHash      string             `json:"tx_hash"`
	BlockHeight uint64             `json:"block_height"`
}

type resultView struct {
	Currency       domain.Currency `json:"currency"`
	Contributor    string          `json:"contributor"`
	RewardAmount   string          `json:"reward_amount"`
	PlatformFee    string          `json:"platform_fee"`
	ContributorFee string          `json:"contributor_fee"`
	NetPayout      string          `json:"net_payout"`
	Receipt        domain.Receipt  `json:"receipt"`
	Legs           []legView       `json:"legs"`
}

type jobView struct {
	ID           string           `json:"job_id"`
	RepositoryID string           `json:"repository_id"`
	IssueID      string           `json:"issue_id"`
	Actor        string           `json:"actor"`
	Status       domain.JobStatus `json:"status"`
	Result       *resultView      `json:"result,omitempty"`
	Error        string           `json:"error,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
}

func newJobView(j domain.DistributionJob) jobView {
	v := jobView{
		ID:           j.ID,
		RepositoryID: j.RepositoryID,
		IssueID:      j.IssueID,
		Actor:        j.Actor,
		Status:       j.Status,
		Error:        j.Error,
		StartedAt:    j.StartedAt,
		FinishedAt:   j.FinishedAt,
	}
	if res := j.Result; res != nil {
		c := res.Currency
		rv := &resultView{
			Currency:       c,
			Contributor:    res.Contributor,
			RewardAmount:   currency.ToDisplay(res.RewardAmount, c),
			PlatformFee:    currency.ToDisplay(res.PlatformFee, c),
			ContributorFee: currency.ToDisplay(res.ContributorFee, c),
			NetPayout:      currency.ToDisplay(res.NetPayout, c),
			Receipt:        res.Receipt,
			Legs:           make([]legView, 0, len(res.Legs)),
		}
		for _, l := range res.Legs {
			rv.Legs = append(rv.Legs, legView{
				Leg:         l.Leg,
				To:          l.To,
				Amount:      currency.ToDisplay(l.Amount, c),
				TxHash:      l.Receipt.Hash,
				BlockHeight: l.Receipt.BlockHeight,
			})
		}
		v.Result = rv
	}
	return v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
