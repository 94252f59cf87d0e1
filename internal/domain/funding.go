package domain

import (
	"math/big"
	"time"
)

// FundingTx is one append-only entry of a repository's funding log.
type FundingTx struct {
	RepositoryID string
	Sequence     int64
	Currency     Currency
	Amount       *big.Int
	Actor        string
	Timestamp    time.Time
}

// FundingReceipt is returned by a successful Fund call.
type FundingReceipt struct {
	RepositoryID   string
	Currency       Currency
	Amount         *big.Int
	NewBalance     *big.Int
	DailyRemaining *big.Int
	Sequence       int64
}
