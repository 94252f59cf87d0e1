package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bountypool/internal/domain"
)

// DistributionStore implements domain.DistributionStore using PostgreSQL.
type DistributionStore struct {
	pool *pgxpool.Pool
}

// NewDistributionStore creates a DistributionStore backed by the given pool.
func NewDistributionStore(pool *pgxpool.Pool) *DistributionStore {
	return &DistributionStore{pool: pool}
}

// ConfirmedLegs returns the legs recorded for one distribution round in
// transfer order.
func (s *DistributionStore) ConfirmedLegs(ctx context.Context, repositoryID, issueID string, round int) ([]domain.DistributionLeg, error) {
	const q = `
		SELECT repository_id, issue_id, round, leg, to_address, currency, amount::text,
			tx_hash, block_height, confirmed_at
		FROM distribution_legs
		WHERE repository_id = $1 AND issue_id = $2 AND round = $3
		ORDER BY CASE leg WHEN 'platform_fee' THEN 0 WHEN 'contributor_fee' THEN 1 ELSE 2 END`
	rows, err := s.pool.Query(ctx, q, repositoryID, issueID, round)
	if err != nil {
		return nil, fmt.Errorf("postgres: confirmed legs: %w", err)
	}
	defer rows.Close()

	var out []domain.DistributionLeg
	for rows.Next() {
		var (
			l      domain.DistributionLeg
			amount *string
		)
		if err := rows.Scan(&l.RepositoryID, &l.IssueID, &l.Round, &l.Leg, &l.To, &l.Currency, &amount,
			&l.Receipt.Hash, &l.Receipt.BlockHeight, &l.ConfirmedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan leg: %w", err)
		}
		if l.Amount, err = parseNumeric(amount); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: confirmed legs rows: %w", err)
	}
	return out, nil
}

// SaveLeg records a confirmed leg. Saving the same leg twice keeps the first.
func (s *DistributionStore) SaveLeg(ctx context.Context, l domain.DistributionLeg) error {
	const q = `
		INSERT INTO distribution_legs (
			repository_id, issue_id, round, leg, to_address, currency, amount,
			tx_hash, block_height, confirmed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10)
		ON CONFLICT (repository_id, issue_id, round, leg) DO NOTHING`
	_, err := s.pool.Exec(ctx, q,
		l.RepositoryID, l.IssueID, l.Round, string(l.Leg), l.To, string(l.Currency), numeric(l.Amount),
		l.Receipt.Hash, int64(l.Receipt.BlockHeight), l.ConfirmedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save leg %s: %w",
			domain.TransferKey(l.RepositoryID, l.IssueID, l.Round, l.Leg), err)
	}
	return nil
}

// SaveJob inserts or replaces a job. The result is stored as JSONB.
func (s *DistributionStore) SaveJob(ctx context.Context, job domain.DistributionJob) error {
	if job.ID == "" {
		return fmt.Errorf("postgres: save job: %w: empty id", domain.ErrInvalidInput)
	}
	var result []byte
	if job.Result != nil {
		var err error
		if result, err = json.Marshal(job.Result); err != nil {
			return fmt.Errorf("postgres: marshal job result %s: %w", job.ID, err)
		}
	}

	const q = `
		INSERT INTO distribution_jobs (
			id, repository_id, issue_id, actor, status, result, error, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at`
	_, err := s.pool.Exec(ctx, q,
		job.ID, job.RepositoryID, job.IssueID, job.Actor, string(job.Status),
		result, job.Error, job.StartedAt, job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob returns a job by id.
func (s *DistributionStore) GetJob(ctx context.Context, id string) (domain.DistributionJob, error) {
	const q = `
		SELECT id, repository_id, issue_id, actor, status, result, error, started_at, finished_at
		FROM distribution_jobs WHERE id = $1`
	var (
		job    domain.DistributionJob
		result []byte
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&job.ID, &job.RepositoryID, &job.IssueID, &job.Actor, &job.Status,
		&result, &job.Error, &job.StartedAt, &job.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DistributionJob{}, domain.ErrNotFound
		}
		return domain.DistributionJob{}, fmt.Errorf("postgres: get job %s: %w", id, err)
	}
	if result != nil {
		job.Result = &domain.DistributionResult{}
		if err := json.Unmarshal(result, job.Result); err != nil {
			return domain.DistributionJob{}, fmt.Errorf("postgres: unmarshal job result %s: %w", id, err)
		}
	}
	return job, nil
}

var _ domain.DistributionStore = (*DistributionStore)(nil)
