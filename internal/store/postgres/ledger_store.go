package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bountypool/internal/domain"
)

// LedgerStore implements domain.LedgerStore. WithinRepo serialises writers
// of one repository with a transaction-scoped advisory lock keyed by the
// repository id, so several replicas can share the database.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// WithinRepo runs fn inside one transaction holding repositoryID's
// advisory lock. The transaction commits only if fn returns nil.
func (s *LedgerStore) WithinRepo(ctx context.Context, repositoryID string, fn func(tx domain.LedgerTx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, repositoryID); err != nil {
			return fmt.Errorf("postgres: lock repository %s: %w", repositoryID, err)
		}
		return fn(&ledgerTx{tx: tx, repo: repositoryID})
	})
}

const poolSelect = `SELECT repository_id, schema_version, state, updated_at FROM pool_documents WHERE repository_id = $1`

func getPool(row pgx.Row) (domain.PoolDocument, error) {
	var doc domain.PoolDocument
	if err := row.Scan(&doc.RepositoryID, &doc.SchemaVersion, &doc.State, &doc.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PoolDocument{}, domain.ErrNotFound
		}
		return domain.PoolDocument{}, fmt.Errorf("postgres: get pool: %w", err)
	}
	return doc, nil
}

// GetPool returns the stored pool document.
func (s *LedgerStore) GetPool(ctx context.Context, repositoryID string) (domain.PoolDocument, error) {
	return getPool(s.pool.QueryRow(ctx, poolSelect, repositoryID))
}

const rewardCols = `repository_id, issue_id, round, currency, amount::text, status,
	contributor, receipt, requested_by, allocated_by, created_at, updated_at`

func scanReward(row pgx.Row) (domain.IssueReward, error) {
	var (
		r      domain.IssueReward
		amount *string
	)
	if err := row.Scan(
		&r.RepositoryID, &r.IssueID, &r.Round, &r.Currency, &amount, &r.Status,
		&r.Contributor, &r.Receipt, &r.RequestedBy, &r.AllocatedBy, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return domain.IssueReward{}, err
	}
	v, err := parseNumeric(amount)
	if err != nil {
		return domain.IssueReward{}, err
	}
	r.Amount = v
	return r, nil
}

// GetReward returns one issue record.
func (s *LedgerStore) GetReward(ctx context.Context, repositoryID, issueID string) (domain.IssueReward, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+rewardCols+` FROM issue_rewards WHERE repository_id = $1 AND issue_id = $2`,
		repositoryID, issueID)
	r, err := scanReward(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.IssueReward{}, domain.ErrNotFound
		}
		return domain.IssueReward{}, fmt.Errorf("postgres: get reward %s#%s: %w", repositoryID, issueID, err)
	}
	return r, nil
}

// ListRewards returns a repository's issue records ordered by issue id.
func (s *LedgerStore) ListRewards(ctx context.Context, repositoryID string, opts domain.ListOpts) ([]domain.IssueReward, error) {
	q := newQuery(`SELECT `+rewardCols+` FROM issue_rewards WHERE repository_id = $1`, repositoryID)
	q.add(" ORDER BY issue_id")
	q.page(opts)

	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rewards: %w", err)
	}
	defer rows.Close()

	out := []domain.IssueReward{}
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan reward: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list rewards rows: %w", err)
	}
	return out, nil
}

const fundingCols = `repository_id, sequence, currency, amount::text, actor, created_at`

func scanFunding(rows pgx.Rows) ([]domain.FundingTx, error) {
	out := []domain.FundingTx{}
	for rows.Next() {
		var (
			f      domain.FundingTx
			amount *string
		)
		if err := rows.Scan(&f.RepositoryID, &f.Sequence, &f.Currency, &amount, &f.Actor, &f.Timestamp); err != nil {
			return nil, err
		}
		v, err := parseNumeric(amount)
		if err != nil {
			return nil, err
		}
		f.Amount = v
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListFunding returns a repository's funding log in sequence order.
func (s *LedgerStore) ListFunding(ctx context.Context, repositoryID string, opts domain.ListOpts) ([]domain.FundingTx, error) {
	q := newQuery(`SELECT `+fundingCols+` FROM funding_log WHERE repository_id = $1`, repositoryID)
	q.window("created_at", opts)
	q.add(" ORDER BY sequence")
	q.page(opts)

	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list funding: %w", err)
	}
	defer rows.Close()

	out, err := scanFunding(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan funding: %w", err)
	}
	return out, nil
}

// ListFundingBefore returns funding entries of every repository older than
// before, oldest first.
func (s *LedgerStore) ListFundingBefore(ctx context.Context, before time.Time) ([]domain.FundingTx, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fundingCols+` FROM funding_log WHERE created_at < $1 ORDER BY created_at, repository_id, sequence`,
		before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list funding before: %w", err)
	}
	defer rows.Close()

	out, err := scanFunding(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan funding before: %w", err)
	}
	return out, nil
}

// ledgerTx is the domain.LedgerTx view of one open transaction.
type ledgerTx struct {
	tx   pgx.Tx
	repo string
}

func (t *ledgerTx) LoadPool(ctx context.Context) (domain.PoolDocument, error) {
	return getPool(t.tx.QueryRow(ctx, poolSelect, t.repo))
}

func (t *ledgerTx) SavePool(ctx context.Context, doc domain.PoolDocument) error {
	updated := doc.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	const q = `
		INSERT INTO pool_documents (repository_id, schema_version, state, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (repository_id) DO UPDATE SET
			schema_version = EXCLUDED.schema_version,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at`
	if _, err := t.tx.Exec(ctx, q, t.repo, doc.SchemaVersion, doc.State, updated); err != nil {
		return fmt.Errorf("postgres: save pool %s: %w", t.repo, err)
	}
	return nil
}

func (t *ledgerTx) LoadReward(ctx context.Context, issueID string) (domain.IssueReward, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+rewardCols+` FROM issue_rewards WHERE repository_id = $1 AND issue_id = $2`,
		t.repo, issueID)
	r, err := scanReward(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.IssueReward{}, domain.ErrNotFound
		}
		return domain.IssueReward{}, fmt.Errorf("postgres: load reward %s#%s: %w", t.repo, issueID, err)
	}
	return r, nil
}

func (t *ledgerTx) SaveReward(ctx context.Context, r domain.IssueReward) error {
	const q = `
		INSERT INTO issue_rewards (
			repository_id, issue_id, round, currency, amount, status,
			contributor, receipt, requested_by, allocated_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (repository_id, issue_id) DO UPDATE SET
			round = EXCLUDED.round,
			currency = EXCLUDED.currency,
			amount = EXCLUDED.amount,
			status = EXCLUDED.status,
			contributor = EXCLUDED.contributor,
			receipt = EXCLUDED.receipt,
			requested_by = EXCLUDED.requested_by,
			allocated_by = EXCLUDED.allocated_by,
			updated_at = EXCLUDED.updated_at`
	_, err := t.tx.Exec(ctx, q,
		t.repo, r.IssueID, r.Round, string(r.Currency), numeric(r.Amount), string(r.Status),
		r.Contributor, r.Receipt, r.RequestedBy, r.AllocatedBy, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save reward %s#%s: %w", t.repo, r.IssueID, err)
	}
	return nil
}

// AppendFunding assigns the next sequence number. The repository's
// advisory lock is held, so MAX+1 cannot race.
func (t *ledgerTx) AppendFunding(ctx context.Context, f domain.FundingTx) (int64, error) {
	const q = `
		INSERT INTO funding_log (repository_id, sequence, currency, amount, actor, created_at)
		SELECT $1, COALESCE(MAX(sequence), 0) + 1, $2, $3::numeric, $4, $5
		FROM funding_log WHERE repository_id = $1
		RETURNING sequence`
	var seq int64
	if err := t.tx.QueryRow(ctx, q, t.repo, string(f.Currency), numeric(f.Amount), f.Actor, f.Timestamp).Scan(&seq); err != nil {
		return 0, fmt.Errorf("postgres: append funding %s: %w", t.repo, err)
	}
	return seq, nil
}

func (t *ledgerTx) FundingSince(ctx context.Context, since time.Time) ([]domain.FundingTx, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+fundingCols+` FROM funding_log WHERE repository_id = $1 AND created_at >= $2 ORDER BY sequence`,
		t.repo, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: funding since: %w", err)
	}
	defer rows.Close()

	out, err := scanFunding(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan funding since: %w", err)
	}
	return out, nil
}

var (
	_ domain.LedgerStore = (*LedgerStore)(nil)
	_ domain.LedgerTx    = (*ledgerTx)(nil)
)
