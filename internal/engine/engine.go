// Package engine pays out approved bounties. It splits the escrowed reward
// into fee and payout legs, sends each through the chain adapter, and marks
// the issue PAID once every leg is confirmed.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/bountypool/internal/currency"
	"github.com/alanyoungcy/bountypool/internal/domain"
	"github.com/alanyoungcy/bountypool/internal/metrics"
	"github.com/alanyoungcy/bountypool/internal/notify"
)

// EventDistributionFailed is the notifier event type for failed payouts.
const EventDistributionFailed = "distribution_failed"

// RewardLedger is the part of the ledger the engine depends on.
type RewardLedger interface {
	Reward(ctx context.Context, repositoryID, issueID string) (domain.IssueReward, error)
	IsManager(ctx context.Context, repositoryID, actor string) (bool, error)
	IsOperator(actor string) bool
	MarkPaid(ctx context.Context, repositoryID, issueID, receipt string) (domain.IssueReward, error)
}

// Notifier alerts operators.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// lockMargin covers the job bookkeeping done after JobTimeout expires.
const lockMargin = 5 * time.Minute

// Config controls retries and job lifetimes.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	LockTTL        time.Duration
	JobTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 2 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Minute
	}
	// The lock is never refreshed, so it must outlive the job holding it.
	if c.LockTTL < c.JobTimeout+lockMargin {
		c.LockTTL = c.JobTimeout + lockMargin
	}
	return c
}

// Engine distributes approved rewards.
type Engine struct {
	ledger   RewardLedger
	chain    domain.ChainAdapter
	store    domain.DistributionStore
	bus      domain.EventBus
	notifier Notifier
	cfg      Config
	fees     atomic.Pointer[FeeConfig]
	guard    *inflight
	jobs     sync.WaitGroup
	logger   *slog.Logger
}

// New creates an Engine. fees is validated with FeeConfig.Normalize.
func New(
	ledger RewardLedger,
	chain domain.ChainAdapter,
	store domain.DistributionStore,
	fees FeeConfig,
	cfg Config,
	logger *slog.Logger,
) (*Engine, error) {
	cfg = cfg.withDefaults()
	e := &Engine{
		ledger: ledger,
		chain:  chain,
		store:  store,
		cfg:    cfg,
		guard:  newInflight(cfg.LockTTL),
		logger: logger.With(slog.String("component", "engine")),
	}
	if err := e.UpdateFees(fees); err != nil {
		return nil, err
	}
	return e, nil
}

// WithLockManager makes the in-progress guard span processes.
func (e *Engine) WithLockManager(lm domain.LockManager) *Engine {
	e.guard.locks = lm
	return e
}

// WithNotifier sets where non-retryable failures are reported.
func (e *Engine) WithNotifier(n Notifier) *Engine {
	e.notifier = n
	return e
}

// WithEventBus sets the bus distribution failures are published on.
func (e *Engine) WithEventBus(b domain.EventBus) *Engine {
	e.bus = b
	return e
}

// UpdateFees swaps the fee configuration used by distributions that start
// after the call.
func (e *Engine) UpdateFees(f FeeConfig) error {
	norm, err := f.Normalize()
	if err != nil {
		return err
	}
	e.fees.Store(&norm)
	return nil
}

// Fees returns the current fee configuration.
func (e *Engine) Fees() FeeConfig {
	return *e.fees.Load()
}

// Distribute pays out an APPROVED reward and blocks until done or until
// JobTimeout elapses. A second
// call for the same issue while one is running fails with
// ErrDistributionInProgress.
func (e *Engine) Distribute(ctx context.Context, repositoryID, issueID, actor string) (domain.DistributionResult, error) {
	if err := e.authorize(ctx, repositoryID, actor); err != nil {
		return domain.DistributionResult{}, err
	}
	release, err := e.guard.acquire(ctx, repositoryID, issueID)
	if err != nil {
		return domain.DistributionResult{}, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.JobTimeout)
	defer cancel()
	return e.distribute(ctx, repositoryID, issueID)
}

// Submit starts a distribution in the background and returns its job. The
// in-progress guard is taken before Submit returns.
func (e *Engine) Submit(ctx context.Context, repositoryID, issueID, actor string) (domain.DistributionJob, error) {
	if err := e.authorize(ctx, repositoryID, actor); err != nil {
		return domain.DistributionJob{}, err
	}
	release, err := e.guard.acquire(ctx, repositoryID, issueID)
	if err != nil {
		return domain.DistributionJob{}, err
	}

	job := domain.DistributionJob{
		ID:           uuid.NewString(),
		RepositoryID: repositoryID,
		IssueID:      issueID,
		Actor:        actor,
		Status:       domain.JobPending,
		StartedAt:    time.Now().UTC(),
	}
	if err := e.store.SaveJob(ctx, job); err != nil {
		release()
		return domain.DistributionJob{}, fmt.Errorf("engine: submit: save job: %w", err)
	}

	e.jobs.Add(1)
	go func() {
		defer e.jobs.Done()
		defer release()

		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.JobTimeout)
		defer cancel()

		res, err := e.distribute(runCtx, repositoryID, issueID)
		finished := time.Now().UTC()
		done := job
		done.FinishedAt = &finished
		if err != nil {
			done.Status = domain.JobFailed
			done.Error = err.Error()
		} else {
			done.Status = domain.JobSucceeded
			done.Result = &res
		}
		if err := e.store.SaveJob(runCtx, done); err != nil {
			e.logger.ErrorContext(runCtx, "save distribution job failed",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
	}()

	e.logger.InfoContext(ctx, "distribution submitted",
		slog.String("job_id", job.ID),
		slog.String("repository_id", repositoryID),
		slog.String("issue_id", issueID),
	)
	return job, nil
}

// Job returns a submitted job.
func (e *Engine) Job(ctx context.Context, id string) (domain.DistributionJob, error) {
	job, err := e.store.GetJob(ctx, id)
	if err != nil {
		return domain.DistributionJob{}, fmt.Errorf("engine: job %s: %w", id, err)
	}
	return job, nil
}

// Wait blocks until every submitted job has finished.
func (e *Engine) Wait() {
	e.jobs.Wait()
}

// InFlight returns the number of distributions running in this process.
func (e *Engine) InFlight() int {
	return e.guard.active()
}

func (e *Engine) authorize(ctx context.Context, repositoryID, actor string) error {
	if e.ledger.IsOperator(actor) {
		return nil
	}
	ok, err := e.ledger.IsManager(ctx, repositoryID, actor)
	if err != nil {
		return fmt.Errorf("engine: authorize: %w", err)
	}
	if !ok {
		return fmt.Errorf("engine: distribute: %w", domain.ErrUnauthorized)
	}
	return nil
}

type plannedLeg struct {
	leg    domain.TransferLeg
	to     string
	amount *big.Int
}

func (e *Engine) distribute(ctx context.Context, repositoryID, issueID string) (domain.DistributionResult, error) {
	start := time.Now()
	res, err := e.run(ctx, repositoryID, issueID)
	metrics.RecordDistribution(err == nil, time.Since(start))
	return res, err
}

func (e *Engine) run(ctx context.Context, repositoryID, issueID string) (domain.DistributionResult, error) {
	r, err := e.ledger.Reward(ctx, repositoryID, issueID)
	if err != nil {
		return domain.DistributionResult{}, fmt.Errorf("engine: distribute: %w", err)
	}
	if r.Status != domain.RewardApproved || r.Contributor == "" || r.Amount == nil {
		return domain.DistributionResult{}, fmt.Errorf("engine: distribute: %w: reward is %s", domain.ErrInvalidState, r.Status)
	}

	fees := e.Fees()
	split := ComputeSplit(r.Amount, fees)
	plan := []plannedLeg{
		{domain.LegPlatformFee, fees.PlatformCollector, split.PlatformFee},
		{domain.LegContributorFee, fees.ContributorFeeCollector, split.ContributorFee},
		{domain.LegPayout, r.Contributor, split.Net},
	}

	confirmed, err := e.store.ConfirmedLegs(ctx, repositoryID, issueID, r.Round)
	if err != nil {
		return domain.DistributionResult{}, fmt.Errorf("engine: distribute: confirmed legs: %w", err)
	}
	done := make(map[domain.TransferLeg]domain.DistributionLeg, len(confirmed))
	for _, l := range confirmed {
		done[l.Leg] = l
	}
	if len(done) > 0 {
		if plan, err = resumePlan(plan, done, r.Amount); err != nil {
			return domain.DistributionResult{}, fmt.Errorf("engine: distribute %s/%s: %w", repositoryID, issueID, err)
		}
		split = Split{PlatformFee: plan[0].amount, ContributorFee: plan[1].amount, Net: plan[2].amount}
	}

	result := domain.DistributionResult{
		RepositoryID:   repositoryID,
		IssueID:        issueID,
		Currency:       r.Currency,
		Contributor:    r.Contributor,
		RewardAmount:   r.Amount,
		PlatformFee:    split.PlatformFee,
		ContributorFee: split.ContributorFee,
		NetPayout:      split.Net,
	}

	for _, p := range plan {
		if p.amount.Sign() == 0 {
			continue
		}
		if l, ok := done[p.leg]; ok {
			e.logger.InfoContext(ctx, "leg already confirmed, skipping",
				slog.String("repository_id", repositoryID),
				slog.String("issue_id", issueID),
				slog.String("leg", string(p.leg)),
				slog.String("tx", l.Receipt.Hash),
			)
			result.Legs = append(result.Legs, l)
			continue
		}

		t := domain.Transfer{
			Key:      domain.TransferKey(repositoryID, issueID, r.Round, p.leg),
			Currency: r.Currency,
			To:       p.to,
			Amount:   p.amount,
		}
		rcpt, err := e.execute(ctx, t, p.leg)
		if err != nil {
			e.reportFailure(ctx, r, p, err)
			return domain.DistributionResult{}, fmt.Errorf("engine: distribute %s/%s: %s leg: %w", repositoryID, issueID, p.leg, err)
		}

		leg := domain.DistributionLeg{
			RepositoryID: repositoryID,
			IssueID:      issueID,
			Round:        r.Round,
			Leg:          p.leg,
			To:           p.to,
			Currency:     r.Currency,
			Amount:       p.amount,
			Receipt:      rcpt,
			ConfirmedAt:  time.Now().UTC(),
		}
		// The transfer happened; record it even if the caller has gone away.
		if err := e.store.SaveLeg(context.WithoutCancel(ctx), leg); err != nil {
			e.logger.ErrorContext(ctx, "confirmed leg not recorded, retry may resend it",
				slog.String("key", t.Key),
				slog.String("tx", rcpt.Hash),
				slog.String("error", err.Error()),
			)
			return domain.DistributionResult{}, fmt.Errorf("engine: distribute: save leg: %w", err)
		}
		result.Legs = append(result.Legs, leg)
	}

	if len(result.Legs) == 0 {
		return domain.DistributionResult{}, fmt.Errorf("engine: distribute: %w: nothing to transfer", domain.ErrInvalidAmount)
	}
	result.Receipt = result.Legs[len(result.Legs)-1].Receipt

	if _, err := e.ledger.MarkPaid(ctx, repositoryID, issueID, result.Receipt.Hash); err != nil {
		return domain.DistributionResult{}, fmt.Errorf("engine: distribute: mark paid: %w", err)
	}

	e.logger.InfoContext(ctx, "bounty distributed",
		slog.String("repository_id", repositoryID),
		slog.String("issue_id", issueID),
		slog.String("currency", string(r.Currency)),
		slog.String("net", currency.ToDisplay(split.Net, r.Currency)),
		slog.String("platform_fee", currency.ToDisplay(split.PlatformFee, r.Currency)),
		slog.String("contributor_fee", currency.ToDisplay(split.ContributorFee, r.Currency)),
		slog.String("tx", result.Receipt.Hash),
	)
	return result, nil
}

// resumePlan continues a partially paid distribution. Confirmed legs keep
// the amount and recipient they were sent with, legs before the last
// confirmed one that were never sent stay at zero, and the payout is what
// remains of the reward. A fee change between attempts therefore moves
// value between legs but never raises the total above reward.
func resumePlan(plan []plannedLeg, done map[domain.TransferLeg]domain.DistributionLeg, reward *big.Int) ([]plannedLeg, error) {
	last := -1
	for i, p := range plan {
		if _, ok := done[p.leg]; ok {
			last = i
		}
	}

	out := make([]plannedLeg, len(plan))
	spent := new(big.Int)
	for i, p := range plan {
		switch l, ok := done[p.leg]; {
		case ok:
			p.to, p.amount = l.To, new(big.Int).Set(l.Amount)
		case i < last:
			p.amount = new(big.Int)
		}
		if p.leg != domain.LegPayout {
			spent.Add(spent, p.amount)
		}
		out[i] = p
	}

	payout := &out[len(out)-1]
	if _, ok := done[domain.LegPayout]; !ok {
		payout.amount = new(big.Int).Sub(reward, spent)
		if payout.amount.Sign() < 0 {
			return nil, fmt.Errorf("%w: confirmed fees exceed the reward", domain.ErrInvalidState)
		}
	}
	return out, nil
}

// execute sends t, retrying timeouts with exponential backoff.
func (e *Engine) execute(ctx context.Context, t domain.Transfer, leg domain.TransferLeg) (domain.Receipt, error) {
	delay := e.cfg.InitialBackoff
	for attempt := 1; ; attempt++ {
		rcpt, err := e.chain.Execute(ctx, t)
		if err == nil {
			metrics.RecordTransfer(string(leg), "confirmed")
			return rcpt, nil
		}

		var ce *domain.ChainError
		if !errors.As(err, &ce) {
			metrics.RecordTransfer(string(leg), "error")
			return domain.Receipt{}, fmt.Errorf("%w: %w", domain.ErrChainExecutionFailed, err)
		}
		metrics.RecordTransfer(string(leg), string(ce.Kind))
		if !ce.Retryable() || attempt >= e.cfg.MaxAttempts {
			return domain.Receipt{}, err
		}

		e.logger.WarnContext(ctx, "transfer timed out, retrying",
			slog.String("key", t.Key),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
		)
		select {
		case <-ctx.Done():
			return domain.Receipt{}, fmt.Errorf("%w: %w", domain.ErrChainExecutionFailed, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > e.cfg.MaxBackoff {
			delay = e.cfg.MaxBackoff
		}
	}
}

// reportFailure publishes the failure and alerts operators. The issue stays
// APPROVED.
func (e *Engine) reportFailure(ctx context.Context, r domain.IssueReward, p plannedLeg, err error) {
	kind := "error"
	var ce *domain.ChainError
	if errors.As(err, &ce) {
		kind = string(ce.Kind)
	}
	amount := currency.ToDisplay(p.amount, r.Currency)
	e.logger.ErrorContext(ctx, "distribution failed",
		slog.String("repository_id", r.RepositoryID),
		slog.String("issue_id", r.IssueID),
		slog.String("leg", string(p.leg)),
		slog.String("kind", kind),
		slog.String("error", err.Error()),
	)

	if e.bus != nil {
		payload, mErr := json.Marshal(domain.LedgerEvent{
			ID:           uuid.NewString(),
			Type:         domain.EventDistributionFailed,
			RepositoryID: r.RepositoryID,
			IssueID:      r.IssueID,
			Currency:     r.Currency,
			Amount:       amount,
			Status:       r.Status,
			Detail:       string(p.leg) + ": " + kind,
			Timestamp:    time.Now().UTC(),
		})
		if mErr == nil {
			mErr = e.bus.Publish(ctx, domain.ChannelLedger, payload)
		}
		if mErr != nil {
			e.logger.WarnContext(ctx, "publish distribution failure", slog.String("error", mErr.Error()))
		}
	}

	if e.notifier != nil {
		title, msg := notify.DistributionFailed(r.RepositoryID, r.IssueID, string(p.leg), amount, string(r.Currency), kind, err)
		if nErr := e.notifier.Notify(context.WithoutCancel(ctx), EventDistributionFailed, title, msg); nErr != nil {
			e.logger.WarnContext(ctx, "notify distribution failure", slog.String("error", nErr.Error()))
		}
	}
}
