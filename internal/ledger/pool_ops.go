package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/alanyoungcy/bountypool/internal/currency"
	"github.com/alanyoungcy/bountypool/internal/domain"
	"github.com/alanyoungcy/bountypool/internal/metrics"
)

// RegisterManager adds manager to repositoryID's pool, creating the pool if
// needed. actor must be an operator or an existing manager of the pool.
func (l *Ledger) RegisterManager(ctx context.Context, repositoryID, manager, actor string) (p domain.Pool, err error) {
	defer func() { record("register_manager", err) }()

	repo, err := requireID("repository id", repositoryID)
	if err != nil {
		return domain.Pool{}, err
	}
	who, err := normalizeActor(actor)
	if err != nil {
		return domain.Pool{}, err
	}
	addr, err := domain.NormalizeAddress(manager)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("ledger: register manager: %w", err)
	}

	var added bool
	err = l.store.WithinRepo(ctx, repo, func(tx domain.LedgerTx) error {
		pool, exists, err := l.loadPool(ctx, tx)
		if err != nil {
			return err
		}
		if !exists {
			pool = domain.NewPool(repo, l.now().UTC())
		}
		if !l.IsOperator(who) && !pool.HasManager(who) {
			return domain.ErrUnauthorized
		}
		added = pool.AddManager(addr)
		if exists && !added {
			p = pool
			return nil
		}
		if err := l.savePool(ctx, tx, &pool); err != nil {
			return err
		}
		p = pool
		return nil
	})
	if err != nil {
		return domain.Pool{}, fmt.Errorf("ledger: register manager: %w", err)
	}
	if added {
		l.logger.InfoContext(ctx, "manager registered",
			slog.String("repository_id", repo),
			slog.String("manager", addr),
			slog.String("actor", who),
		)
		l.emit(ctx, domain.LedgerEvent{
			Type:         domain.EventManagerAdded,
			RepositoryID: repo,
			Actor:        who,
			Detail:       addr,
		})
	}
	return p, nil
}

// RemoveManager drops manager from the pool. The last manager cannot be
// removed.
func (l *Ledger) RemoveManager(ctx context.Context, repositoryID, manager, actor string) (p domain.Pool, err error) {
	defer func() { record("remove_manager", err) }()

	repo, err := requireID("repository id", repositoryID)
	if err != nil {
		return domain.Pool{}, err
	}
	who, err := normalizeActor(actor)
	if err != nil {
		return domain.Pool{}, err
	}
	addr, err := domain.NormalizeAddress(manager)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("ledger: remove manager: %w", err)
	}

	err = l.store.WithinRepo(ctx, repo, func(tx domain.LedgerTx) error {
		pool, exists, err := l.loadPool(ctx, tx)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrNotFound
		}
		if !l.IsOperator(who) && !pool.HasManager(who) {
			return domain.ErrUnauthorized
		}
		if !pool.HasManager(addr) {
			return fmt.Errorf("manager %s: %w", addr, domain.ErrNotFound)
		}
		if len(pool.Managers) == 1 {
			return fmt.Errorf("%w: pool must keep at least one manager", domain.ErrInvalidState)
		}
		pool.RemoveManager(addr)
		if err := l.savePool(ctx, tx, &pool); err != nil {
			return err
		}
		p = pool
		return nil
	})
	if err != nil {
		return domain.Pool{}, fmt.Errorf("ledger: remove manager: %w", err)
	}
	l.logger.InfoContext(ctx, "manager removed",
		slog.String("repository_id", repo),
		slog.String("manager", addr),
		slog.String("actor", who),
	)
	l.emit(ctx, domain.LedgerEvent{
		Type:         domain.EventManagerRemoved,
		RepositoryID: repo,
		Actor:        who,
		Detail:       addr,
	})
	return p, nil
}

// Fund credits amount (canonical units of c) to the pool. The actor must be
// a pool manager and the day's total for c may not exceed its cap. The day
// is the UTC calendar day of the ledger clock.
func (l *Ledger) Fund(ctx context.Context, repositoryID string, c domain.Currency, amount *big.Int, actor string) (rcpt domain.FundingReceipt, err error) {
	defer func() { record("fund", err) }()

	repo, err := requireID("repository id", repositoryID)
	if err != nil {
		return rcpt, err
	}
	if err := requireCurrency(c); err != nil {
		return rcpt, err
	}
	if err := requirePositive(amount); err != nil {
		return rcpt, err
	}
	who, err := normalizeActor(actor)
	if err != nil {
		return rcpt, err
	}
	amount = new(big.Int).Set(amount)
	limit := l.DailyCap(c)

	err = l.store.WithinRepo(ctx, repo, func(tx domain.LedgerTx) error {
		pool, exists, err := l.loadPool(ctx, tx)
		if err != nil {
			return err
		}
		if !exists || !pool.HasManager(who) {
			return domain.ErrUnauthorized
		}

		now := l.now().UTC()
		today := domain.UTCDay(now)
		funded := pool.FundedOn(c, today)
		funded.Add(funded, amount)
		if funded.Cmp(limit) > 0 {
			return fmt.Errorf("%w: %s would reach %s of %s today",
				domain.ErrDailyCapExceeded, c, currency.ToDisplay(funded, c), currency.ToDisplay(limit, c))
		}

		balance := pool.Balance(c)
		balance.Add(balance, amount)
		pool.Balances[c] = balance
		pool.DailyFunded[c] = domain.DailyFunding{Amount: funded, Day: today}

		seq, err := tx.AppendFunding(ctx, domain.FundingTx{
			RepositoryID: repo,
			Currency:     c,
			Amount:       new(big.Int).Set(amount),
			Actor:        who,
			Timestamp:    now,
		})
		if err != nil {
			return fmt.Errorf("append funding: %w", err)
		}
		if err := l.savePool(ctx, tx, &pool); err != nil {
			return err
		}

		rcpt = domain.FundingReceipt{
			RepositoryID:   repo,
			Currency:       c,
			Amount:         new(big.Int).Set(amount),
			NewBalance:     new(big.Int).Set(balance),
			DailyRemaining: new(big.Int).Sub(limit, funded),
			Sequence:       seq,
		}
		return nil
	})
	if err != nil {
		return domain.FundingReceipt{}, fmt.Errorf("ledger: fund: %w", err)
	}

	display := currency.ToDisplay(amount, c)
	if units, ok := new(big.Float).SetString(display); ok {
		f, _ := units.Float64()
		metrics.RecordFunding(string(c), f)
	}
	l.logger.InfoContext(ctx, "pool funded",
		slog.String("repository_id", repo),
		slog.String("currency", string(c)),
		slog.String("amount", display),
		slog.String("new_balance", currency.ToDisplay(rcpt.NewBalance, c)),
		slog.Int64("sequence", rcpt.Sequence),
	)
	l.emit(ctx, domain.LedgerEvent{
		Type:         domain.EventPoolFunded,
		RepositoryID: repo,
		Actor:        who,
		Currency:     c,
		Amount:       display,
	})
	return rcpt, nil
}

// RecomputeDailyFunded rebuilds today's daily funding counters of a pool
// from its funding log.
func (l *Ledger) RecomputeDailyFunded(ctx context.Context, repositoryID string) (p domain.Pool, err error) {
	defer func() { record("recompute_daily", err) }()

	repo, err := requireID("repository id", repositoryID)
	if err != nil {
		return domain.Pool{}, err
	}
	err = l.store.WithinRepo(ctx, repo, func(tx domain.LedgerTx) error {
		pool, exists, err := l.loadPool(ctx, tx)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrNotFound
		}
		if err := l.recomputeToday(ctx, tx, &pool); err != nil {
			return err
		}
		if err := l.savePool(ctx, tx, &pool); err != nil {
			return err
		}
		p = pool
		return nil
	})
	if err != nil {
		return domain.Pool{}, fmt.Errorf("ledger: recompute daily funded: %w", err)
	}
	return p, nil
}
