package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bountypool/internal/domain"
)

func TestWithinRepo_DiscardsWritesOnError(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	boom := errors.New("boom")

	err := s.WithinRepo(ctx, "a/b", func(tx domain.LedgerTx) error {
		require.NoError(t, tx.SavePool(ctx, domain.PoolDocument{SchemaVersion: 2, State: []byte(`{}`)}))
		require.NoError(t, tx.SaveReward(ctx, domain.IssueReward{IssueID: "1", Status: domain.RewardEscrowed}))
		_, err := tx.AppendFunding(ctx, domain.FundingTx{Currency: domain.CurrencyXDC, Amount: big.NewInt(1)})
		require.NoError(t, err)

		// Staged writes are visible inside the transaction.
		r, err := tx.LoadReward(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, domain.RewardEscrowed, r.Status)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetPool(ctx, "a/b")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetReward(ctx, "a/b", "1")
	require.ErrorIs(t, err, domain.ErrNotFound)
	log, err := s.ListFunding(ctx, "a/b", domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, log)
}

func TestWithinRepo_CommitsAndSequences(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		err := s.WithinRepo(ctx, "a/b", func(tx domain.LedgerTx) error {
			seq, err := tx.AppendFunding(ctx, domain.FundingTx{
				Currency:  domain.CurrencyXDC,
				Amount:    big.NewInt(int64(i + 1)),
				Timestamp: t0.Add(time.Duration(i) * time.Hour),
			})
			assert.Equal(t, int64(i+1), seq)
			return err
		})
		require.NoError(t, err)
	}

	err := s.WithinRepo(ctx, "a/b", func(tx domain.LedgerTx) error {
		since, err := tx.FundingSince(ctx, t0.Add(time.Hour))
		require.NoError(t, err)
		assert.Len(t, since, 2)
		return nil
	})
	require.NoError(t, err)

	older, err := s.ListFundingBefore(ctx, t0.Add(90*time.Minute))
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, "a/b", older[0].RepositoryID)

	paged, err := s.ListFunding(ctx, "a/b", domain.ListOpts{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, int64(2), paged[0].Sequence)
}

func TestWithinRepo_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := NewLedgerStore().WithinRepo(ctx, "a/b", func(domain.LedgerTx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestDistributionStore(t *testing.T) {
	ctx := context.Background()
	s := NewDistributionStore()

	leg := domain.DistributionLeg{RepositoryID: "a/b", IssueID: "1", Round: 1, Leg: domain.LegPayout, Receipt: domain.Receipt{Hash: "0x1"}}
	require.NoError(t, s.SaveLeg(ctx, leg))
	leg.Receipt = domain.Receipt{Hash: "0x2"}
	require.NoError(t, s.SaveLeg(ctx, leg))

	legs, err := s.ConfirmedLegs(ctx, "a/b", "1", 1)
	require.NoError(t, err)
	require.Len(t, legs, 1)
	assert.Equal(t, "0x1", legs[0].Receipt.Hash)

	legs, err = s.ConfirmedLegs(ctx, "a/b", "1", 2)
	require.NoError(t, err)
	assert.Empty(t, legs)

	_, err = s.GetJob(ctx, "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.ErrorIs(t, s.SaveJob(ctx, domain.DistributionJob{}), domain.ErrInvalidInput)
}
