package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bountypool/internal/chain/simulated"
	"github.com/alanyoungcy/bountypool/internal/currency"
	"github.com/alanyoungcy/bountypool/internal/domain"
	"github.com/alanyoungcy/bountypool/internal/engine"
	"github.com/alanyoungcy/bountypool/internal/ledger"
	"github.com/alanyoungcy/bountypool/internal/store/memory"
)

const (
	operator          = "0x1111111111111111111111111111111111111111"
	manager           = "0x2222222222222222222222222222222222222222"
	outsider          = "0x3333333333333333333333333333333333333333"
	contributor       = "0x4444444444444444444444444444444444444444"
	platformCollector = "0x6666666666666666666666666666666666666666"
	feeCollector      = "0x7777777777777777777777777777777777777777"
	repo              = "roxonn/demo"
)

var testFees = engine.FeeConfig{
	PlatformFeeBps:          250,
	ContributorFeeBps:       100,
	PlatformCollector:       platformCollector,
	ContributorFeeCollector: feeCollector,
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type fixture struct {
	ledger   *ledger.Ledger
	chain    *simulated.Adapter
	store    *memory.DistributionStore
	engine   *engine.Engine
	notifier *recordingNotifier
}

func newFixture(t *testing.T, cfg engine.Config) *fixture {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	l, err := ledger.New(memory.NewLedgerStore(), ledger.Config{Operators: []string{operator}}, logger)
	require.NoError(t, err)

	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = time.Millisecond
	}
	chain := simulated.New(1000)
	store := memory.NewDistributionStore()
	notifier := &recordingNotifier{}
	e, err := engine.New(l, chain, store, testFees, cfg, logger)
	require.NoError(t, err)
	e.WithNotifier(notifier)

	return &fixture{ledger: l, chain: chain, store: store, engine: e, notifier: notifier}
}

// approved drives issue to APPROVED with a reward of amount XDC.
func (f *fixture) approved(t *testing.T, issue, amount string) *big.Int {
	t.Helper()
	ctx := context.Background()
	amt, err := currency.ToCanonical(amount, domain.CurrencyXDC)
	require.NoError(t, err)

	if ok, _ := f.ledger.IsManager(ctx, repo, manager); !ok {
		_, err = f.ledger.RegisterManager(ctx, repo, manager, operator)
		require.NoError(t, err)
		_, err = f.ledger.Fund(ctx, repo, domain.CurrencyXDC, currency.Units(500, domain.CurrencyXDC), manager)
		require.NoError(t, err)
	}
	_, err = f.ledger.Allocate(ctx, repo, issue, domain.CurrencyXDC, amt, manager)
	require.NoError(t, err)
	_, err = f.ledger.Claim(ctx, repo, issue, contributor)
	require.NoError(t, err)
	_, err = f.ledger.Approve(ctx, repo, issue, manager)
	require.NoError(t, err)
	return amt
}

func (f *fixture) status(t *testing.T, issue string) domain.RewardStatus {
	t.Helper()
	r, err := f.ledger.Reward(context.Background(), repo, issue)
	require.NoError(t, err)
	return r.Status
}

func TestDistribute_PaysEveryLeg(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, engine.Config{})
	amount := f.approved(t, "1", "100")

	res, err := f.engine.Distribute(ctx, repo, "1", manager)
	require.NoError(t, err)

	split := engine.ComputeSplit(amount, testFees)
	assert.Equal(t, currency.Units(100, domain.CurrencyXDC), res.RewardAmount)
	assert.Equal(t, "2.5", currency.ToDisplay(res.PlatformFee, domain.CurrencyXDC))
	assert.Equal(t, "1", currency.ToDisplay(res.ContributorFee, domain.CurrencyXDC))
	assert.Equal(t, "96.5", currency.ToDisplay(res.NetPayout, domain.CurrencyXDC))
	require.Len(t, res.Legs, 3)
	assert.Equal(t, res.Legs[2].Receipt, res.Receipt)

	assert.Equal(t, split.PlatformFee, f.chain.Received(domain.CurrencyXDC, platformCollector))
	assert.Equal(t, split.ContributorFee, f.chain.Received(domain.CurrencyXDC, feeCollector))
	assert.Equal(t, split.Net, f.chain.Received(domain.CurrencyXDC, contributor))

	r, err := f.ledger.Reward(ctx, repo, "1")
	require.NoError(t, err)
	assert.Equal(t, domain.RewardPaid, r.Status)
	assert.Equal(t, res.Receipt.Hash, r.Receipt)

	// Paid rewards cannot be distributed again.
	_, err = f.engine.Distribute(ctx, repo, "1", manager)
	require.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Len(t, f.chain.Calls(), 3)
}

func TestDistribute_Authorization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, engine.Config{})
	f.approved(t, "1", "10")

	_, err := f.engine.Distribute(ctx, repo, "1", outsider)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.engine.Distribute(ctx, repo, "1", operator)
	require.NoError(t, err)
}

func TestDistribute_RequiresApproved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, engine.Config{})
	f.approved(t, "1", "10")
	_, err := f.ledger.Allocate(ctx, repo, "2", domain.CurrencyXDC, currency.Units(1, domain.CurrencyXDC), manager)
	require.NoError(t, err)

	_, err = f.engine.Distribute(ctx, repo, "2", manager)
	require.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = f.engine.Distribute(ctx, repo, "missing", manager)
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, f.chain.Calls())
}

func TestDistribute_RevertIsNotRetriedAndRetryResumes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, engine.Config{MaxAttempts: 5})
	amount := f.approved(t, "7", "10")
	f.chain.FailNext("payout", domain.ChainReverted)

	_, err := f.engine.Distribute(ctx, repo, "7", manager)
	require.ErrorIs(t, err, domain.ErrChainExecutionFailed)
	var ce *domain.ChainError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, domain.ChainReverted, ce.Kind)

	assert.Equal(t, domain.RewardApproved, f.status(t, "7"))
	assert.Len(t, f.chain.Calls(), 3, "revert must not be retried")
	assert.Equal(t, 1, f.notifier.count())

	legs, err := f.store.ConfirmedLegs(ctx, repo, "7", 1)
	require.NoError(t, err)
	assert.Len(t, legs, 2)

	// Operator retry sends only the missing leg.
	res, err := f.engine.Distribute(ctx, repo, "7", operator)
	require.NoError(t, err)
	calls := f.chain.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, domain.TransferKey(repo, "7", 1, domain.LegPayout), calls[3].Key)
	assert.Equal(t, domain.RewardPaid, f.status(t, "7"))

	split := engine.ComputeSplit(amount, testFees)
	assert.Equal(t, split.PlatformFee, f.chain.Received(domain.CurrencyXDC, platformCollector))
	assert.Equal(t, split.Net, res.NetPayout)
}

// totalSent sums what every leg recipient received in XDC.
func (f *fixture) totalSent() *big.Int {
	total := new(big.Int)
	for _, addr := range []string{platformCollector, feeCollector, contributor} {
		total.Add(total, f.chain.Received(domain.CurrencyXDC, addr))
	}
	return total
}

func TestDistribute_RetryAfterFeeChangeKeepsTotal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, engine.Config{})
	amount := f.approved(t, "8", "100")
	f.chain.FailNext("payout", domain.ChainReverted)

	_, err := f.engine.Distribute(ctx, repo, "8", manager)
	require.ErrorIs(t, err, domain.ErrChainExecutionFailed)

	// Fees reloaded to zero before the operator retries.
	require.NoError(t, f.engine.UpdateFees(engine.FeeConfig{}))

	res, err := f.engine.Distribute(ctx, repo, "8", operator)
	require.NoError(t, err)
	assert.Equal(t, "2.5", currency.ToDisplay(res.PlatformFee, domain.CurrencyXDC))
	assert.Equal(t, "1", currency.ToDisplay(res.ContributorFee, domain.CurrencyXDC))
	assert.Equal(t, "96.5", currency.ToDisplay(res.NetPayout, domain.CurrencyXDC))
	assert.Equal(t, "96.5", currency.ToDisplay(f.chain.Received(domain.CurrencyXDC, contributor), domain.CurrencyXDC))
	assert.Equal(t, amount.String(), f.totalSent().String())
	assert.Equal(t, domain.RewardPaid, f.status(t, "8"))
}

func TestDistribute_RetryAfterFeeIncreaseUsesRemainder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, engine.Config{})
	amount := f.approved(t, "9", "100")
	f.chain.FailNext("contributor_fee", domain.ChainReverted)

	_, err := f.engine.Distribute(ctx, repo, "9", manager)
	require.ErrorIs(t, err, domain.ErrChainExecutionFailed)

	raised := testFees
	raised.PlatformFeeBps = 500
	raised.ContributorFeeBps = 200
	require.NoError(t, f.engine.UpdateFees(raised))

	res, err := f.engine.Distribute(ctx, repo, "9", operator)
	require.NoError(t, err)
	// The platform fee was already paid at the old rate; the unsent
	// contributor fee uses the new rate and the payout takes the rest.
	assert.Equal(t, "2.5", currency.ToDisplay(res.PlatformFee, domain.CurrencyXDC))
	assert.Equal(t, "2", currency.ToDisplay(res.ContributorFee, domain.CurrencyXDC))
	assert.Equal(t, "95.5", currency.ToDisplay(res.NetPayout, domain.CurrencyXDC))
	assert.Equal(t, amount.String(), f.totalSent().String())
}

func TestDistribute_TimeoutIsRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, engine.Config{MaxAttempts: 3})
	f.approved(t, "3", "10")
	f.chain.FailNext("payout", domain.ChainTimeout, domain.ChainTimeout)

	_, err := f.engine.Distribute(ctx, repo, "3", manager)
	require.NoError(t, err)
	assert.Len(t, f.chain.Calls(), 5)
	assert.Equal(t, domain.RewardPaid, f.status(t, "3"))
	assert.Zero(t, f.notifier.count())
}

func TestDistribute_TimeoutExhausted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, engine.Config{MaxAttempts: 2})
	f.approved(t, "3", "10")
	f.chain.FailNext("platform_fee", domain.ChainTimeout, domain.ChainTimeout)

	_, err := f.engine.Distribute(ctx, repo, "3", manager)
	var ce *domain.ChainError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, domain.ChainTimeout, ce.Kind)
	assert.Len(t, f.chain.Calls(), 2)
	assert.Equal(t, domain.RewardApproved, f.status(t, "3"))
	assert.Equal(t, 1, f.notifier.count())
}

func TestDistribute_InsufficientGasNotRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, engine.Config{MaxAttempts: 4})
	f.approved(t, "4", "10")
	f.chain.FailNext("contributor_fee", domain.ChainInsufficientGas)

	_, err := f.engine.Distribute(ctx, repo, "4", manager)
	require.ErrorIs(t, err, domain.ErrChainExecutionFailed)
	assert.Len(t, f.chain.Calls(), 2)
}

func TestDistribute_ConcurrentCallFailsFast(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, engine.Config{})
	f.approved(t, "9", "10")
	f.chain.WithLatency(100 * time.Millisecond)

	first := make(chan error, 1)
	go func() {
		_, err := f.engine.Distribute(ctx, repo, "9", manager)
		first <- err
	}()
	require.Eventually(t, func() bool { return f.engine.InFlight() == 1 }, time.Second, time.Millisecond)

	_, err := f.engine.Distribute(ctx, repo, "9", manager)
	require.ErrorIs(t, err, domain.ErrDistributionInProgress)

	require.NoError(t, <-first)
	assert.Zero(t, f.engine.InFlight())
	assert.Len(t, f.chain.Calls(), 3)
}

func TestSubmit_RunsInBackground(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, engine.Config{})
	f.approved(t, "5", "10")
	f.chain.WithLatency(20 * time.Millisecond)

	job, err := f.engine.Submit(ctx, repo, "5", manager)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, job.Status)

	_, err = f.engine.Submit(ctx, repo, "5", manager)
	require.ErrorIs(t, err, domain.ErrDistributionInProgress)

	f.engine.Wait()
	got, err := f.engine.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobSucceeded, got.Status)
	require.NotNil(t, got.Result)
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, domain.RewardPaid, f.status(t, "5"))

	_, err = f.engine.Job(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSubmit_RecordsFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, engine.Config{})
	f.approved(t, "6", "10")
	f.chain.FailNext("payout", domain.ChainReverted)

	job, err := f.engine.Submit(ctx, repo, "6", manager)
	require.NoError(t, err)
	f.engine.Wait()

	got, err := f.engine.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, got.Status)
	assert.Contains(t, got.Error, "reverted")
}

type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func TestDistribute_DistributedLockHeldElsewhere(t *testing.T) {
	f := newFixture(t, engine.Config{})
	f.approved(t, "8", "10")
	f.engine.WithLockManager(heldLocks{})

	_, err := f.engine.Distribute(context.Background(), repo, "8", manager)
	require.ErrorIs(t, err, domain.ErrDistributionInProgress)
	assert.Zero(t, f.engine.InFlight())
}

type recordingLocks struct {
	mu   sync.Mutex
	ttls []time.Duration
}

func (r *recordingLocks) Acquire(_ context.Context, _ string, ttl time.Duration) (func(), error) {
	r.mu.Lock()
	r.ttls = append(r.ttls, ttl)
	r.mu.Unlock()
	return func() {}, nil
}

func TestDistribute_LockOutlivesJobTimeout(t *testing.T) {
	f := newFixture(t, engine.Config{LockTTL: time.Minute, JobTimeout: 20 * time.Minute})
	f.approved(t, "10", "10")
	locks := &recordingLocks{}
	f.engine.WithLockManager(locks)

	_, err := f.engine.Distribute(context.Background(), repo, "10", manager)
	require.NoError(t, err)

	locks.mu.Lock()
	defer locks.mu.Unlock()
	require.Len(t, locks.ttls, 1)
	assert.Greater(t, locks.ttls[0], 20*time.Minute)
}

func TestUpdateFees(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, engine.Config{})
	f.approved(t, "1", "10")

	require.Error(t, f.engine.UpdateFees(engine.FeeConfig{PlatformFeeBps: 9000, ContributorFeeBps: 2000,
		PlatformCollector: platformCollector, ContributorFeeCollector: feeCollector}))
	require.NoError(t, f.engine.UpdateFees(engine.FeeConfig{}))

	res, err := f.engine.Distribute(ctx, repo, "1", manager)
	require.NoError(t, err)
	assert.Zero(t, res.PlatformFee.Sign())
	assert.Zero(t, res.ContributorFee.Sign())
	require.Len(t, res.Legs, 1, "zero-amount legs are skipped")
	assert.Equal(t, domain.LegPayout, res.Legs[0].Leg)
}
