package service_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bountypool/internal/cache/local"
	"github.com/alanyoungcy/bountypool/internal/command"
	"github.com/alanyoungcy/bountypool/internal/currency"
	"github.com/alanyoungcy/bountypool/internal/domain"
	"github.com/alanyoungcy/bountypool/internal/ledger"
	"github.com/alanyoungcy/bountypool/internal/service"
	"github.com/alanyoungcy/bountypool/internal/store/memory"
)

const (
	operator = "0x1111111111111111111111111111111111111111"
	manager  = "0x2222222222222222222222222222222222222222"
	outsider = "0x3333333333333333333333333333333333333333"
	repo     = "roxonn/demo"
)

func setup(t *testing.T) (*service.CommandService, *ledger.Ledger) {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	l, err := ledger.New(memory.NewLedgerStore(), ledger.Config{Operators: []string{operator}}, logger)
	require.NoError(t, err)
	_, err = l.RegisterManager(ctx, repo, manager, operator)
	require.NoError(t, err)
	_, err = l.Fund(ctx, repo, domain.CurrencyXDC, currency.Units(500, domain.CurrencyXDC), manager)
	require.NoError(t, err)

	svc := service.NewCommandService(command.New(command.Options{}), l, logger).
		WithDeduper(local.NewDeduper(), time.Hour)
	return svc, l
}

func TestHandleAllocate(t *testing.T) {
	svc, l := setup(t)
	ctx := context.Background()

	res, err := svc.Handle(ctx, service.CommentEvent{
		CommentID: "c1", RepositoryID: repo, IssueID: "42", Actor: manager,
		Body: "Thanks! /bounty 25.5 xdc",
	})
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeAllocated, res.Outcome)
	require.NotNil(t, res.Reward)
	assert.Equal(t, domain.RewardEscrowed, res.Reward.Status)
	assert.Equal(t, "25.5", currency.ToDisplay(res.Reward.Amount, domain.CurrencyXDC))

	p, err := l.Pool(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, "474.5", currency.ToDisplay(p.Balance(domain.CurrencyXDC), domain.CurrencyXDC))
}

func TestHandleDuplicateCommentAppliesOnce(t *testing.T) {
	svc, l := setup(t)
	ctx := context.Background()
	ev := service.CommentEvent{CommentID: "c1", RepositoryID: repo, IssueID: "1", Actor: manager, Body: "/bounty 10 XDC"}

	res, err := svc.Handle(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeAllocated, res.Outcome)

	res, err = svc.Handle(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeDuplicate, res.Outcome)

	p, err := l.Pool(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, "490", currency.ToDisplay(p.Balance(domain.CurrencyXDC), domain.CurrencyXDC))
}

func TestHandleRequest(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	res, err := svc.Handle(ctx, service.CommentEvent{CommentID: "c1", RepositoryID: repo, IssueID: "7", Actor: outsider, Body: "@roxonn bounty"})
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeRequested, res.Outcome)
	assert.Equal(t, domain.RewardUnfunded, res.Reward.Status)

	res, err = svc.Handle(ctx, service.CommentEvent{CommentID: "c2", RepositoryID: repo, IssueID: "7", Actor: outsider, Body: "/bounty"})
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeExisting, res.Outcome)
}

func TestHandleIgnoresNonCommands(t *testing.T) {
	svc, _ := setup(t)
	for _, body := range []string{"looks good to me", "/bounty 10 DOGE", "/bounty 0 XDC", "/bounty 2000000 XDC"} {
		res, err := svc.Handle(context.Background(), service.CommentEvent{CommentID: body, RepositoryID: repo, IssueID: "1", Actor: manager, Body: body})
		require.NoError(t, err, body)
		assert.Equal(t, service.OutcomeIgnored, res.Outcome, body)
		assert.Nil(t, res.Reward, body)
	}
}

func TestHandlePropagatesLedgerErrors(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	_, err := svc.Handle(ctx, service.CommentEvent{CommentID: "c1", RepositoryID: repo, IssueID: "1", Actor: outsider, Body: "/bounty 5 XDC"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = svc.Handle(ctx, service.CommentEvent{CommentID: "c2", RepositoryID: repo, IssueID: "1", Actor: manager, Body: "/bounty 600 XDC"})
	assert.ErrorIs(t, err, domain.ErrInsufficientPoolBalance)

	_, err = svc.Handle(ctx, service.CommentEvent{CommentID: "c3", RepositoryID: repo, IssueID: "1", Actor: manager, Body: "/bounty 5.1234567 USDC"})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.Handle(ctx, service.CommentEvent{CommentID: "c4", Body: "/bounty"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestHandleRateLimitsPerActor(t *testing.T) {
	svc, _ := setup(t)
	svc.WithRateLimit(local.NewRateLimiter(), 2, time.Hour)
	ctx := context.Background()

	for i, issue := range []string{"1", "2"} {
		_, err := svc.Handle(ctx, service.CommentEvent{CommentID: issue, RepositoryID: repo, IssueID: issue, Actor: outsider, Body: "/bounty"})
		require.NoError(t, err, i)
	}
	_, err := svc.Handle(ctx, service.CommentEvent{CommentID: "3", RepositoryID: repo, IssueID: "3", Actor: outsider, Body: "/bounty"})
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	res, err := svc.Handle(ctx, service.CommentEvent{CommentID: "4", RepositoryID: repo, IssueID: "3", Actor: outsider, Body: "just chatting"})
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeIgnored, res.Outcome)
}

func TestHandleRedeliveryAfterRateLimitIsApplied(t *testing.T) {
	svc, l := setup(t)
	svc.WithRateLimit(local.NewRateLimiter(), 1, 50*time.Millisecond)
	ctx := context.Background()

	_, err := svc.Handle(ctx, service.CommentEvent{CommentID: "a", RepositoryID: repo, IssueID: "1", Actor: manager, Body: "/bounty 5 XDC"})
	require.NoError(t, err)

	second := service.CommentEvent{CommentID: "b", RepositoryID: repo, IssueID: "2", Actor: manager, Body: "/bounty 7 XDC"}
	_, err = svc.Handle(ctx, second)
	require.ErrorIs(t, err, domain.ErrRateLimited)

	time.Sleep(100 * time.Millisecond)
	res, err := svc.Handle(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeAllocated, res.Outcome)

	r, err := l.Reward(ctx, repo, "2")
	require.NoError(t, err)
	assert.Equal(t, "7", currency.ToDisplay(r.Amount, domain.CurrencyXDC))
}

func TestHandleRejectedCommentStaysDeduplicated(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	ev := service.CommentEvent{CommentID: "c1", RepositoryID: repo, IssueID: "1", Actor: outsider, Body: "/bounty 5 XDC"}

	_, err := svc.Handle(ctx, ev)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	res, err := svc.Handle(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeDuplicate, res.Outcome)
}
