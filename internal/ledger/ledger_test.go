package ledger_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bountypool/internal/currency"
	"github.com/alanyoungcy/bountypool/internal/domain"
	"github.com/alanyoungcy/bountypool/internal/ledger"
	"github.com/alanyoungcy/bountypool/internal/store/memory"
)

const (
	operator    = "0x1111111111111111111111111111111111111111"
	manager     = "0x2222222222222222222222222222222222222222"
	outsider    = "0x3333333333333333333333333333333333333333"
	contributor = "0x4444444444444444444444444444444444444444"
	repo        = "roxonn/demo"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type recordingBus struct {
	mu     sync.Mutex
	events []domain.LedgerEvent
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	if channel != domain.ChannelLedger {
		return fmt.Errorf("unexpected channel %s", channel)
	}
	var ev domain.LedgerEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}

func (b *recordingBus) types() []domain.LedgerEventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.LedgerEventType, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	ledger *ledger.Ledger
	store  *memory.LedgerStore
	audit  *memory.AuditStore
	bus    *recordingBus
	clock  *clock
}

func newFixture(t *testing.T, caps map[domain.Currency]*big.Int) *fixture {
	t.Helper()
	store := memory.NewLedgerStore()
	audit := memory.NewAuditStore()
	bus := &recordingBus{}
	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	l, err := ledger.New(store, ledger.Config{DailyCaps: caps, Operators: []string{operator}}, logger)
	require.NoError(t, err)
	l.WithAuditStore(audit).WithEventBus(bus).WithClock(clk.Now)
	return &fixture{ledger: l, store: store, audit: audit, bus: bus, clock: clk}
}

// withPool registers manager and funds units of XDC.
func (f *fixture) withPool(t *testing.T, units int64) {
	t.Helper()
	ctx := context.Background()
	_, err := f.ledger.RegisterManager(ctx, repo, manager, operator)
	require.NoError(t, err)
	if units > 0 {
		_, err = f.ledger.Fund(ctx, repo, domain.CurrencyXDC, currency.Units(units, domain.CurrencyXDC), manager)
		require.NoError(t, err)
	}
}

func xdc(units int64) *big.Int { return currency.Units(units, domain.CurrencyXDC) }

func balance(t *testing.T, f *fixture, c domain.Currency) *big.Int {
	t.Helper()
	p, err := f.ledger.Pool(context.Background(), repo)
	require.NoError(t, err)
	return p.Balance(c)
}

func TestNew_RejectsBadOperator(t *testing.T) {
	_, err := ledger.New(memory.NewLedgerStore(), ledger.Config{Operators: []string{"nope"}}, slog.Default())
	require.ErrorIs(t, err, domain.ErrInvalidAddress)
}

func TestRegisterManager(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.ledger.RegisterManager(ctx, repo, manager, outsider)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	p, err := f.ledger.RegisterManager(ctx, repo, "xdc2222222222222222222222222222222222222222", operator)
	require.NoError(t, err)
	assert.Equal(t, []string{manager}, p.Managers)

	// Existing managers can add others.
	p, err = f.ledger.RegisterManager(ctx, repo, outsider, manager)
	require.NoError(t, err)
	assert.Equal(t, []string{manager, outsider}, p.Managers)

	ok, err := f.ledger.IsManager(ctx, repo, outsider)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.ledger.RemoveManager(ctx, repo, outsider, manager)
	require.NoError(t, err)
	_, err = f.ledger.RemoveManager(ctx, repo, manager, manager)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	ok, err = f.ledger.IsManager(ctx, "other/repo", manager)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []domain.LedgerEventType{
		domain.EventManagerAdded, domain.EventManagerAdded, domain.EventManagerRemoved,
	}, f.bus.types())
}

func TestFund_Authorization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	// No pool yet: nobody is a manager.
	_, err := f.ledger.Fund(ctx, repo, domain.CurrencyXDC, xdc(1), manager)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	f.withPool(t, 0)
	_, err = f.ledger.Fund(ctx, repo, domain.CurrencyXDC, xdc(1), outsider)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Zero(t, balance(t, f, domain.CurrencyXDC).Sign())
}

func TestFund_InvalidAmount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.withPool(t, 0)

	for _, amt := range []*big.Int{nil, big.NewInt(0), big.NewInt(-5)} {
		_, err := f.ledger.Fund(ctx, repo, domain.CurrencyXDC, amt, manager)
		require.ErrorIs(t, err, domain.ErrInvalidAmount)
	}
	_, err := f.ledger.Fund(ctx, repo, domain.Currency("DOGE"), xdc(1), manager)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestFund_DailyCapResetsAtUTCMidnight(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[domain.Currency]*big.Int{domain.CurrencyXDC: xdc(100)})
	f.withPool(t, 0)

	rcpt, err := f.ledger.Fund(ctx, repo, domain.CurrencyXDC, xdc(60), manager)
	require.NoError(t, err)
	assert.Equal(t, xdc(60), rcpt.NewBalance)
	assert.Equal(t, xdc(40), rcpt.DailyRemaining)
	assert.Equal(t, int64(1), rcpt.Sequence)

	_, err = f.ledger.Fund(ctx, repo, domain.CurrencyXDC, xdc(41), manager)
	require.ErrorIs(t, err, domain.ErrDailyCapExceeded)
	assert.Equal(t, xdc(60), balance(t, f, domain.CurrencyXDC))

	rcpt, err = f.ledger.Fund(ctx, repo, domain.CurrencyXDC, xdc(40), manager)
	require.NoError(t, err)
	assert.Zero(t, rcpt.DailyRemaining.Sign())

	// Other currencies have their own counter.
	_, err = f.ledger.Fund(ctx, repo, domain.CurrencyUSDC, currency.Units(500, domain.CurrencyUSDC), manager)
	require.NoError(t, err)

	f.clock.Set(time.Date(2024, 5, 1, 23, 59, 59, 0, time.UTC))
	_, err = f.ledger.Fund(ctx, repo, domain.CurrencyXDC, big.NewInt(1), manager)
	require.ErrorIs(t, err, domain.ErrDailyCapExceeded)

	f.clock.Set(time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))
	rcpt, err = f.ledger.Fund(ctx, repo, domain.CurrencyXDC, xdc(100), manager)
	require.NoError(t, err)
	assert.Equal(t, xdc(200), rcpt.NewBalance)

	log, err := f.ledger.Funding(ctx, repo, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, log, 4)
	assert.Equal(t, int64(4), log[3].Sequence)
}

func TestSetDailyCaps(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.withPool(t, 0)

	assert.Equal(t, xdc(ledger.DefaultDailyCapUnits), f.ledger.DailyCap(domain.CurrencyXDC))
	f.ledger.SetDailyCaps(map[domain.Currency]*big.Int{domain.CurrencyXDC: xdc(5)})

	_, err := f.ledger.Fund(ctx, repo, domain.CurrencyXDC, xdc(6), manager)
	require.ErrorIs(t, err, domain.ErrDailyCapExceeded)
	assert.Equal(t, currency.Units(ledger.DefaultDailyCapUnits, domain.CurrencyROXN), f.ledger.DailyCap(domain.CurrencyROXN))
}

func TestAllocate_InsufficientBalanceLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.withPool(t, 10)

	_, err := f.ledger.Allocate(ctx, repo, "7", domain.CurrencyXDC, xdc(11), manager)
	require.ErrorIs(t, err, domain.ErrInsufficientPoolBalance)
	assert.Equal(t, xdc(10), balance(t, f, domain.CurrencyXDC))

	_, err = f.ledger.Reward(ctx, repo, "7")
	require.ErrorIs(t, err, domain.ErrNotFound)

	// Balances are per currency.
	_, err = f.ledger.Allocate(ctx, repo, "7", domain.CurrencyROXN, currency.Units(1, domain.CurrencyROXN), manager)
	require.ErrorIs(t, err, domain.ErrInsufficientPoolBalance)
}

func TestAllocate_Rules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.withPool(t, 10)

	_, err := f.ledger.Allocate(ctx, repo, "1", domain.CurrencyXDC, xdc(1), outsider)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.ledger.Allocate(ctx, repo, "1", domain.CurrencyXDC, big.NewInt(0), manager)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	r, err := f.ledger.Allocate(ctx, repo, "1", domain.CurrencyXDC, xdc(4), manager)
	require.NoError(t, err)
	assert.Equal(t, domain.RewardEscrowed, r.Status)
	assert.Equal(t, 1, r.Round)
	assert.Equal(t, xdc(6), balance(t, f, domain.CurrencyXDC))

	_, err = f.ledger.Allocate(ctx, repo, "1", domain.CurrencyXDC, xdc(1), manager)
	require.ErrorIs(t, err, domain.ErrIssueAlreadyFunded)
	assert.Equal(t, xdc(6), balance(t, f, domain.CurrencyXDC))
}

func TestRequestBountyThenAllocate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.withPool(t, 10)

	r, created, err := f.ledger.RequestBounty(ctx, repo, "9", contributor)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.RewardUnfunded, r.Status)
	assert.Nil(t, r.Amount)

	_, created, err = f.ledger.RequestBounty(ctx, repo, "9", outsider)
	require.NoError(t, err)
	assert.False(t, created)

	r, err = f.ledger.Allocate(ctx, repo, "9", domain.CurrencyXDC, xdc(2), manager)
	require.NoError(t, err)
	assert.Equal(t, domain.RewardEscrowed, r.Status)
	assert.Equal(t, 1, r.Round)
	assert.Equal(t, contributor, r.RequestedBy)
	assert.Equal(t, manager, r.AllocatedBy)

	// UNFUNDED records cannot be claimed.
	_, _, err = f.ledger.RequestBounty(ctx, repo, "10", contributor)
	require.NoError(t, err)
	_, err = f.ledger.Claim(ctx, repo, "10", contributor)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestRevoke_RestoresBalanceExactly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.withPool(t, 10)

	amount, err := currency.ToCanonical("3.000000000000000001", domain.CurrencyXDC)
	require.NoError(t, err)
	before := balance(t, f, domain.CurrencyXDC)

	_, err = f.ledger.Allocate(ctx, repo, "5", domain.CurrencyXDC, amount, manager)
	require.NoError(t, err)
	_, err = f.ledger.Claim(ctx, repo, "5", contributor)
	require.NoError(t, err)

	_, err = f.ledger.Revoke(ctx, repo, "5", outsider)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	r, err := f.ledger.Revoke(ctx, repo, "5", manager)
	require.NoError(t, err)
	assert.Equal(t, domain.RewardRevoked, r.Status)
	assert.Equal(t, before, balance(t, f, domain.CurrencyXDC))

	_, err = f.ledger.Revoke(ctx, repo, "5", manager)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	// A terminal record can be funded again in a new round.
	r, err = f.ledger.Allocate(ctx, repo, "5", domain.CurrencyXDC, xdc(1), manager)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Round)
	assert.Empty(t, r.Contributor)
}

func TestLifecycle_ToPaid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.withPool(t, 10)

	_, err := f.ledger.Allocate(ctx, repo, "42", domain.CurrencyXDC, xdc(5), manager)
	require.NoError(t, err)

	_, err = f.ledger.Approve(ctx, repo, "42", manager)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	r, err := f.ledger.Claim(ctx, repo, "42", contributor)
	require.NoError(t, err)
	assert.Equal(t, domain.RewardClaimed, r.Status)
	assert.Equal(t, contributor, r.Contributor)

	_, err = f.ledger.Claim(ctx, repo, "42", outsider)
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	_, err = f.ledger.MarkPaid(ctx, repo, "42", "0xabc")
	require.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = f.ledger.Approve(ctx, repo, "42", outsider)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	r, err = f.ledger.Approve(ctx, repo, "42", manager)
	require.NoError(t, err)
	assert.Equal(t, domain.RewardApproved, r.Status)

	_, err = f.ledger.Revoke(ctx, repo, "42", manager)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	r, err = f.ledger.MarkPaid(ctx, repo, "42", "0xabc")
	require.NoError(t, err)
	assert.Equal(t, domain.RewardPaid, r.Status)
	assert.Equal(t, "0xabc", r.Receipt)

	again, err := f.ledger.MarkPaid(ctx, repo, "42", "0xabc")
	require.NoError(t, err)
	assert.Equal(t, r.UpdatedAt, again.UpdatedAt)

	_, err = f.ledger.MarkPaid(ctx, repo, "42", "0xdef")
	require.ErrorIs(t, err, domain.ErrInvalidState)

	p, err := f.ledger.Pool(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, []string{contributor}, p.Contributors)
	assert.Equal(t, xdc(5), p.Balance(domain.CurrencyXDC))

	types := f.bus.types()
	assert.Equal(t, []domain.LedgerEventType{
		domain.EventManagerAdded,
		domain.EventPoolFunded,
		domain.EventBountyAllocated,
		domain.EventBountyClaimed,
		domain.EventBountyApproved,
		domain.EventBountyPaid,
	}, types)

	entries, err := f.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, entries, len(types))
	assert.Equal(t, string(domain.EventBountyPaid), entries[0].Event)
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.withPool(t, 1)

	_, err := f.ledger.Claim(ctx, repo, "404", contributor)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.ledger.Pool(ctx, "missing/repo")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.ledger.Approve(ctx, "", "1", manager)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestConcurrentAllocationsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.withPool(t, 10)

	const workers = 25
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.ledger.Allocate(ctx, repo, fmt.Sprintf("issue-%d", i), domain.CurrencyXDC, xdc(1), manager)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrInsufficientPoolBalance)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Zero(t, balance(t, f, domain.CurrencyXDC).Sign())

	rewards, err := f.ledger.Rewards(ctx, repo, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, rewards, 10)
}

func TestConcurrentFundingRespectsCap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[domain.Currency]*big.Int{domain.CurrencyXDC: xdc(7)})
	f.withPool(t, 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.ledger.Fund(ctx, repo, domain.CurrencyXDC, xdc(1), manager)
		}()
	}
	wg.Wait()
	assert.Equal(t, xdc(7), balance(t, f, domain.CurrencyXDC))
}
