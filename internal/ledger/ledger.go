// Package ledger keeps per-repository reward pools and the lifecycle of
// issue bounties. All mutations of one repository run inside a single
// LedgerStore.WithinRepo call, so balance and status changes commit together
// or not at all.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/bountypool/internal/currency"
	"github.com/alanyoungcy/bountypool/internal/domain"
	"github.com/alanyoungcy/bountypool/internal/metrics"
)

// DefaultDailyCapUnits is the daily funding cap in native coin. Currencies
// with no configured cap fall back to this many of their own display units.
const DefaultDailyCapUnits = 1000

// Config holds ledger policy.
type Config struct {
	// DailyCaps are canonical (smallest unit) caps per currency. Missing
	// currencies get DefaultDailyCapUnits.
	DailyCaps map[domain.Currency]*big.Int
	// Operators may register and remove managers on any pool.
	Operators []string
}

// DefaultDailyCaps returns DefaultDailyCapUnits for every supported currency.
func DefaultDailyCaps() map[domain.Currency]*big.Int {
	caps := make(map[domain.Currency]*big.Int, len(domain.Currencies))
	for _, c := range domain.Currencies {
		caps[c] = currency.Units(DefaultDailyCapUnits, c)
	}
	return caps
}

// Ledger is the reward pool ledger.
type Ledger struct {
	store  domain.LedgerStore
	audit  domain.AuditStore
	bus    domain.EventBus
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	caps      map[domain.Currency]*big.Int
	operators map[string]struct{}
}

// New creates a Ledger over store. Operator addresses must be valid.
func New(store domain.LedgerStore, cfg Config, logger *slog.Logger) (*Ledger, error) {
	operators := make(map[string]struct{}, len(cfg.Operators))
	for _, op := range cfg.Operators {
		addr, err := domain.NormalizeAddress(op)
		if err != nil {
			return nil, fmt.Errorf("ledger: operator %q: %w", op, err)
		}
		operators[addr] = struct{}{}
	}
	l := &Ledger{
		store:     store,
		logger:    logger.With(slog.String("component", "ledger")),
		now:       time.Now,
		operators: operators,
	}
	l.SetDailyCaps(cfg.DailyCaps)
	return l, nil
}

// WithAuditStore sets the audit log written after every committed mutation.
func (l *Ledger) WithAuditStore(a domain.AuditStore) *Ledger {
	l.audit = a
	return l
}

// WithEventBus sets the bus LedgerEvents are published on.
func (l *Ledger) WithEventBus(b domain.EventBus) *Ledger {
	l.bus = b
	return l
}

// WithClock replaces the wall clock. Used by tests to cross UTC midnight.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// SetDailyCaps replaces the daily caps. Currencies absent from caps fall
// back to the default.
func (l *Ledger) SetDailyCaps(caps map[domain.Currency]*big.Int) {
	merged := DefaultDailyCaps()
	for c, v := range caps {
		if v != nil && v.Sign() >= 0 {
			merged[c] = new(big.Int).Set(v)
		}
	}
	l.mu.Lock()
	l.caps = merged
	l.mu.Unlock()
}

// DailyCap returns the cap for c.
func (l *Ledger) DailyCap(c domain.Currency) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if v, ok := l.caps[c]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// IsOperator reports whether addr is a configured platform operator.
func (l *Ledger) IsOperator(addr string) bool {
	norm, err := domain.NormalizeAddress(addr)
	if err != nil {
		return false
	}
	_, ok := l.operators[norm]
	return ok
}

// Pool returns the current pool of repositoryID.
func (l *Ledger) Pool(ctx context.Context, repositoryID string) (domain.Pool, error) {
	doc, err := l.store.GetPool(ctx, repositoryID)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("ledger: pool: %w", err)
	}
	p, _, err := decodePool(doc)
	if err != nil {
		return domain.Pool{}, err
	}
	return p, nil
}

// Reward returns the bounty record of one issue.
func (l *Ledger) Reward(ctx context.Context, repositoryID, issueID string) (domain.IssueReward, error) {
	r, err := l.store.GetReward(ctx, repositoryID, issueID)
	if err != nil {
		return domain.IssueReward{}, fmt.Errorf("ledger: reward: %w", err)
	}
	return r, nil
}

// Rewards lists the bounty records of a repository.
func (l *Ledger) Rewards(ctx context.Context, repositoryID string, opts domain.ListOpts) ([]domain.IssueReward, error) {
	rs, err := l.store.ListRewards(ctx, repositoryID, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: rewards: %w", err)
	}
	return rs, nil
}

// Funding lists the funding log of a repository.
func (l *Ledger) Funding(ctx context.Context, repositoryID string, opts domain.ListOpts) ([]domain.FundingTx, error) {
	fs, err := l.store.ListFunding(ctx, repositoryID, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: funding: %w", err)
	}
	return fs, nil
}

// IsManager reports whether actor manages repositoryID's pool. A missing
// pool has no managers.
func (l *Ledger) IsManager(ctx context.Context, repositoryID, actor string) (bool, error) {
	addr, err := domain.NormalizeAddress(actor)
	if err != nil {
		return false, nil
	}
	p, err := l.Pool(ctx, repositoryID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.HasManager(addr), nil
}

// loadPool reads and upgrades the pool inside tx. exists is false when the
// repository has no pool yet.
func (l *Ledger) loadPool(ctx context.Context, tx domain.LedgerTx) (p domain.Pool, exists bool, err error) {
	doc, err := tx.LoadPool(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Pool{}, false, nil
	}
	if err != nil {
		return domain.Pool{}, false, err
	}
	p, upgraded, err := decodePool(doc)
	if err != nil {
		return domain.Pool{}, false, err
	}
	if upgraded {
		// Older documents carry no daily counters; rebuild today's from the log.
		if err := l.recomputeToday(ctx, tx, &p); err != nil {
			return domain.Pool{}, false, err
		}
		l.logger.InfoContext(ctx, "pool document upgraded",
			slog.String("repository_id", p.RepositoryID),
			slog.Int("from_version", doc.SchemaVersion),
			slog.Int("to_version", CurrentSchemaVersion),
		)
	}
	return p, true, nil
}

func (l *Ledger) savePool(ctx context.Context, tx domain.LedgerTx, p *domain.Pool) error {
	p.UpdatedAt = l.now().UTC()
	doc, err := encodePool(*p)
	if err != nil {
		return err
	}
	return tx.SavePool(ctx, doc)
}

// recomputeToday rebuilds p.DailyFunded for the current UTC day.
func (l *Ledger) recomputeToday(ctx context.Context, tx domain.LedgerTx, p *domain.Pool) error {
	now := l.now().UTC()
	day := domain.UTCDay(now)
	start := time.Unix(day*86400, 0).UTC()
	entries, err := tx.FundingSince(ctx, start)
	if err != nil {
		return fmt.Errorf("funding since %s: %w", start.Format(time.RFC3339), err)
	}
	totals := make(map[domain.Currency]*big.Int)
	for _, f := range entries {
		if domain.UTCDay(f.Timestamp) != day {
			continue
		}
		if totals[f.Currency] == nil {
			totals[f.Currency] = new(big.Int)
		}
		totals[f.Currency].Add(totals[f.Currency], f.Amount)
	}
	p.DailyFunded = make(map[domain.Currency]domain.DailyFunding, len(totals))
	for c, amt := range totals {
		p.DailyFunded[c] = domain.DailyFunding{Amount: amt, Day: day}
	}
	return nil
}

// emit publishes ev and appends it to the audit log. Neither failure undoes
// the committed mutation.
func (l *Ledger) emit(ctx context.Context, ev domain.LedgerEvent) {
	ev.ID = uuid.NewString()
	ev.Timestamp = l.now().UTC()

	if l.bus != nil {
		payload, err := json.Marshal(ev)
		if err == nil {
			err = l.bus.Publish(ctx, domain.ChannelLedger, payload)
		}
		if err != nil {
			l.logger.WarnContext(ctx, "publish ledger event failed",
				slog.String("type", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}

	if l.audit != nil {
		detail := map[string]any{
			"event_id":      ev.ID,
			"repository_id": ev.RepositoryID,
		}
		for k, v := range map[string]string{
			"issue_id": ev.IssueID,
			"actor":    ev.Actor,
			"currency": string(ev.Currency),
			"amount":   ev.Amount,
			"status":   string(ev.Status),
			"detail":   ev.Detail,
		} {
			if v != "" {
				detail[k] = v
			}
		}
		if err := l.audit.Log(ctx, string(ev.Type), detail); err != nil {
			l.logger.WarnContext(ctx, "audit log failed",
				slog.String("type", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
}

func record(op string, err error) {
	metrics.RecordLedgerOp(op, err, domain.ErrorCode)
}

func requireID(kind, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%w: empty %s", domain.ErrInvalidInput, kind)
	}
	return v, nil
}

func normalizeActor(actor string) (string, error) {
	addr, err := domain.NormalizeAddress(actor)
	if err != nil {
		return "", fmt.Errorf("%w: actor: %w", domain.ErrUnauthorized, err)
	}
	return addr, nil
}

func requirePositive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidAmount)
	}
	return nil
}

func requireCurrency(c domain.Currency) error {
	if !c.Valid() {
		return fmt.Errorf("%w: unsupported currency %q", domain.ErrInvalidAmount, c)
	}
	return nil
}
