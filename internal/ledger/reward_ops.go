package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/alanyoungcy/bountypool/internal/currency"
	"github.com/alanyoungcy/bountypool/internal/domain"
)

// RequestBounty records that actor asked for a bounty on an issue. A new
// UNFUNDED record is created when the issue has none or only a terminal
// one; otherwise the existing record is returned and created is false.
func (l *Ledger) RequestBounty(ctx context.Context, repositoryID, issueID, actor string) (r domain.IssueReward, created bool, err error) {
	defer func() { record("request", err) }()

	repo, issue, err := ids(repositoryID, issueID)
	if err != nil {
		return r, false, err
	}
	who, err := normalizeActor(actor)
	if err != nil {
		return r, false, err
	}

	err = l.store.WithinRepo(ctx, repo, func(tx domain.LedgerTx) error {
		existing, found, err := loadReward(ctx, tx, issue)
		if err != nil {
			return err
		}
		if found && !existing.Status.Terminal() {
			r = existing
			return nil
		}
		now := l.now().UTC()
		r = domain.IssueReward{
			RepositoryID: repo,
			IssueID:      issue,
			Round:        1,
			Status:       domain.RewardUnfunded,
			RequestedBy:  who,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if found {
			r.Round = existing.Round + 1
		}
		created = true
		return tx.SaveReward(ctx, r)
	})
	if err != nil {
		return domain.IssueReward{}, false, fmt.Errorf("ledger: request bounty: %w", err)
	}
	if created {
		l.logger.InfoContext(ctx, "bounty requested",
			slog.String("repository_id", repo),
			slog.String("issue_id", issue),
			slog.String("actor", who),
		)
		l.emit(ctx, domain.LedgerEvent{
			Type:         domain.EventBountyRequested,
			RepositoryID: repo,
			IssueID:      issue,
			Actor:        who,
			Status:       r.Status,
		})
	}
	return r.Clone(), created, nil
}

// Allocate escrows amount (canonical units of c) from the pool for an issue.
// The pool is debited immediately.
func (l *Ledger) Allocate(ctx context.Context, repositoryID, issueID string, c domain.Currency, amount *big.Int, actor string) (r domain.IssueReward, err error) {
	defer func() { record("allocate", err) }()

	repo, issue, err := ids(repositoryID, issueID)
	if err != nil {
		return r, err
	}
	if err := requireCurrency(c); err != nil {
		return r, err
	}
	if err := requirePositive(amount); err != nil {
		return r, err
	}
	who, err := normalizeActor(actor)
	if err != nil {
		return r, err
	}
	amount = new(big.Int).Set(amount)

	err = l.store.WithinRepo(ctx, repo, func(tx domain.LedgerTx) error {
		pool, exists, err := l.loadPool(ctx, tx)
		if err != nil {
			return err
		}
		if !exists || !pool.HasManager(who) {
			return domain.ErrUnauthorized
		}

		existing, found, err := loadReward(ctx, tx, issue)
		if err != nil {
			return err
		}
		if found && existing.Status != domain.RewardUnfunded && !existing.Status.Terminal() {
			return fmt.Errorf("%w: issue %s is %s", domain.ErrIssueAlreadyFunded, issue, existing.Status)
		}

		balance := pool.Balance(c)
		if balance.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s balance %s, need %s", domain.ErrInsufficientPoolBalance,
				c, currency.ToDisplay(balance, c), currency.ToDisplay(amount, c))
		}
		pool.Balances[c] = balance.Sub(balance, amount)

		now := l.now().UTC()
		r = domain.IssueReward{
			RepositoryID: repo,
			IssueID:      issue,
			Round:        1,
			Currency:     c,
			Amount:       new(big.Int).Set(amount),
			Status:       domain.RewardEscrowed,
			AllocatedBy:  who,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		switch {
		case found && existing.Status == domain.RewardUnfunded:
			r.Round = existing.Round
			r.RequestedBy = existing.RequestedBy
			r.CreatedAt = existing.CreatedAt
		case found:
			r.Round = existing.Round + 1
		}

		if err := tx.SaveReward(ctx, r); err != nil {
			return err
		}
		return l.savePool(ctx, tx, &pool)
	})
	if err != nil {
		return domain.IssueReward{}, fmt.Errorf("ledger: allocate: %w", err)
	}

	display := currency.ToDisplay(amount, c)
	l.logger.InfoContext(ctx, "bounty allocated",
		slog.String("repository_id", repo),
		slog.String("issue_id", issue),
		slog.String("currency", string(c)),
		slog.String("amount", display),
		slog.Int("round", r.Round),
	)
	l.emit(ctx, domain.LedgerEvent{
		Type:         domain.EventBountyAllocated,
		RepositoryID: repo,
		IssueID:      issue,
		Actor:        who,
		Currency:     c,
		Amount:       display,
		Status:       r.Status,
	})
	return r.Clone(), nil
}

// Claim assigns contributor to an escrowed bounty.
func (l *Ledger) Claim(ctx context.Context, repositoryID, issueID, contributor string) (r domain.IssueReward, err error) {
	defer func() { record("claim", err) }()

	addr, err := domain.NormalizeAddress(contributor)
	if err != nil {
		return r, fmt.Errorf("ledger: claim: %w", err)
	}
	r, err = l.transition(ctx, repositoryID, issueID, func(_ domain.Pool, cur domain.IssueReward) (domain.IssueReward, error) {
		switch cur.Status {
		case domain.RewardClaimed, domain.RewardApproved:
			return cur, fmt.Errorf("%w: issue %s claimed by %s", domain.ErrAlreadyClaimed, cur.IssueID, cur.Contributor)
		case domain.RewardEscrowed:
		default:
			return cur, fmt.Errorf("%w: cannot claim %s bounty", domain.ErrInvalidState, cur.Status)
		}
		cur.Status = domain.RewardClaimed
		cur.Contributor = addr
		return cur, nil
	}, nil)
	if err != nil {
		return domain.IssueReward{}, fmt.Errorf("ledger: claim: %w", err)
	}
	l.logger.InfoContext(ctx, "bounty claimed",
		slog.String("repository_id", r.RepositoryID),
		slog.String("issue_id", r.IssueID),
		slog.String("contributor", addr),
	)
	l.emit(ctx, domain.LedgerEvent{
		Type:         domain.EventBountyClaimed,
		RepositoryID: r.RepositoryID,
		IssueID:      r.IssueID,
		Actor:        addr,
		Status:       r.Status,
	})
	return r, nil
}

// Approve marks a claimed bounty ready for payout.
func (l *Ledger) Approve(ctx context.Context, repositoryID, issueID, actor string) (r domain.IssueReward, err error) {
	defer func() { record("approve", err) }()

	who, err := normalizeActor(actor)
	if err != nil {
		return r, err
	}
	r, err = l.transition(ctx, repositoryID, issueID, func(pool domain.Pool, cur domain.IssueReward) (domain.IssueReward, error) {
		if !pool.HasManager(who) {
			return cur, domain.ErrUnauthorized
		}
		if cur.Status != domain.RewardClaimed {
			return cur, fmt.Errorf("%w: cannot approve %s bounty", domain.ErrInvalidState, cur.Status)
		}
		cur.Status = domain.RewardApproved
		return cur, nil
	}, nil)
	if err != nil {
		return domain.IssueReward{}, fmt.Errorf("ledger: approve: %w", err)
	}
	l.logger.InfoContext(ctx, "bounty approved",
		slog.String("repository_id", r.RepositoryID),
		slog.String("issue_id", r.IssueID),
	)
	l.emit(ctx, domain.LedgerEvent{
		Type:         domain.EventBountyApproved,
		RepositoryID: r.RepositoryID,
		IssueID:      r.IssueID,
		Actor:        who,
		Status:       r.Status,
	})
	return r, nil
}

// Revoke cancels an escrowed or claimed bounty and returns its amount to
// the pool.
func (l *Ledger) Revoke(ctx context.Context, repositoryID, issueID, actor string) (r domain.IssueReward, err error) {
	defer func() { record("revoke", err) }()

	who, err := normalizeActor(actor)
	if err != nil {
		return r, err
	}
	r, err = l.transition(ctx, repositoryID, issueID, func(pool domain.Pool, cur domain.IssueReward) (domain.IssueReward, error) {
		if !pool.HasManager(who) {
			return cur, domain.ErrUnauthorized
		}
		if cur.Status != domain.RewardEscrowed && cur.Status != domain.RewardClaimed {
			return cur, fmt.Errorf("%w: cannot revoke %s bounty", domain.ErrInvalidState, cur.Status)
		}
		cur.Status = domain.RewardRevoked
		return cur, nil
	}, func(pool *domain.Pool, r domain.IssueReward) {
		b := pool.Balance(r.Currency)
		pool.Balances[r.Currency] = b.Add(b, r.Amount)
	})
	if err != nil {
		return domain.IssueReward{}, fmt.Errorf("ledger: revoke: %w", err)
	}
	display := currency.ToDisplay(r.Amount, r.Currency)
	l.logger.InfoContext(ctx, "bounty revoked",
		slog.String("repository_id", r.RepositoryID),
		slog.String("issue_id", r.IssueID),
		slog.String("refunded", display),
	)
	l.emit(ctx, domain.LedgerEvent{
		Type:         domain.EventBountyRevoked,
		RepositoryID: r.RepositoryID,
		IssueID:      r.IssueID,
		Actor:        who,
		Currency:     r.Currency,
		Amount:       display,
		Status:       r.Status,
	})
	return r, nil
}

// MarkPaid records the payout receipt of an approved bounty. Repeating the
// call with the same receipt returns the PAID record unchanged.
func (l *Ledger) MarkPaid(ctx context.Context, repositoryID, issueID, receipt string) (r domain.IssueReward, err error) {
	defer func() { record("mark_paid", err) }()

	receipt, err = requireID("receipt", receipt)
	if err != nil {
		return r, err
	}

	repeat := false
	r, err = l.transition(ctx, repositoryID, issueID, func(_ domain.Pool, cur domain.IssueReward) (domain.IssueReward, error) {
		if cur.Status == domain.RewardPaid {
			if strings.EqualFold(cur.Receipt, receipt) {
				repeat = true
				return cur, errUnchanged
			}
			return cur, fmt.Errorf("%w: already paid with receipt %s", domain.ErrInvalidState, cur.Receipt)
		}
		if cur.Status != domain.RewardApproved {
			return cur, fmt.Errorf("%w: cannot pay %s bounty", domain.ErrInvalidState, cur.Status)
		}
		cur.Status = domain.RewardPaid
		cur.Receipt = receipt
		return cur, nil
	}, func(pool *domain.Pool, r domain.IssueReward) {
		pool.AddContributor(r.Contributor)
	})
	if err != nil {
		return domain.IssueReward{}, fmt.Errorf("ledger: mark paid: %w", err)
	}
	if repeat {
		return r, nil
	}
	display := currency.ToDisplay(r.Amount, r.Currency)
	l.logger.InfoContext(ctx, "bounty paid",
		slog.String("repository_id", r.RepositoryID),
		slog.String("issue_id", r.IssueID),
		slog.String("contributor", r.Contributor),
		slog.String("receipt", receipt),
	)
	l.emit(ctx, domain.LedgerEvent{
		Type:         domain.EventBountyPaid,
		RepositoryID: r.RepositoryID,
		IssueID:      r.IssueID,
		Actor:        r.Contributor,
		Currency:     r.Currency,
		Amount:       display,
		Status:       r.Status,
		Detail:       receipt,
	})
	return r, nil
}

// errUnchanged short-circuits a transition that needs no write.
var errUnchanged = errors.New("unchanged")

// transition loads an issue record, applies step, and saves the result.
// When touchPool is non-nil it also mutates and saves the pool in the same
// WithinRepo call.
func (l *Ledger) transition(
	ctx context.Context,
	repositoryID, issueID string,
	step func(pool domain.Pool, cur domain.IssueReward) (domain.IssueReward, error),
	touchPool func(pool *domain.Pool, r domain.IssueReward),
) (domain.IssueReward, error) {
	repo, issue, err := ids(repositoryID, issueID)
	if err != nil {
		return domain.IssueReward{}, err
	}

	var out domain.IssueReward
	err = l.store.WithinRepo(ctx, repo, func(tx domain.LedgerTx) error {
		cur, found, err := loadReward(ctx, tx, issue)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("issue %s: %w", issue, domain.ErrNotFound)
		}
		pool, exists, err := l.loadPool(ctx, tx)
		if err != nil {
			return err
		}
		if !exists {
			pool = domain.NewPool(repo, l.now().UTC())
		}

		next, err := step(pool, cur.Clone())
		if errors.Is(err, errUnchanged) {
			out = cur
			return nil
		}
		if err != nil {
			return err
		}
		next.UpdatedAt = l.now().UTC()
		if err := tx.SaveReward(ctx, next); err != nil {
			return err
		}
		if touchPool != nil {
			if !exists {
				return fmt.Errorf("pool %s: %w", repo, domain.ErrNotFound)
			}
			touchPool(&pool, next)
			if err := l.savePool(ctx, tx, &pool); err != nil {
				return err
			}
		}
		out = next
		return nil
	})
	if err != nil {
		return domain.IssueReward{}, err
	}
	return out.Clone(), nil
}

func loadReward(ctx context.Context, tx domain.LedgerTx, issueID string) (domain.IssueReward, bool, error) {
	r, err := tx.LoadReward(ctx, issueID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.IssueReward{}, false, nil
	}
	if err != nil {
		return domain.IssueReward{}, false, err
	}
	return r, true, nil
}

func ids(repositoryID, issueID string) (string, string, error) {
	repo, err := requireID("repository id", repositoryID)
	if err != nil {
		return "", "", err
	}
	issue, err := requireID("issue id", issueID)
	if err != nil {
		return "", "", err
	}
	return repo, issue, nil
}
