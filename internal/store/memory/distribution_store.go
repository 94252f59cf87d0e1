package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/bountypool/internal/domain"
)

// DistributionStore keeps confirmed payout legs and distribution jobs.
type DistributionStore struct {
	mu   sync.Mutex
	legs map[string]domain.DistributionLeg
	jobs map[string]domain.DistributionJob
}

// NewDistributionStore creates an empty DistributionStore.
func NewDistributionStore() *DistributionStore {
	return &DistributionStore{
		legs: make(map[string]domain.DistributionLeg),
		jobs: make(map[string]domain.DistributionJob),
	}
}

// ConfirmedLegs returns the legs recorded for one distribution round.
func (s *DistributionStore) ConfirmedLegs(_ context.Context, repositoryID, issueID string, round int) ([]domain.DistributionLeg, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.DistributionLeg
	for _, leg := range []domain.TransferLeg{domain.LegPlatformFee, domain.LegContributorFee, domain.LegPayout} {
		if l, ok := s.legs[domain.TransferKey(repositoryID, issueID, round, leg)]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

// SaveLeg records a confirmed leg. Saving the same leg twice keeps the first.
func (s *DistributionStore) SaveLeg(_ context.Context, leg domain.DistributionLeg) error {
	key := domain.TransferKey(leg.RepositoryID, leg.IssueID, leg.Round, leg.Leg)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.legs[key]; !ok {
		s.legs[key] = leg
	}
	return nil
}

// SaveJob inserts or replaces a job.
func (s *DistributionStore) SaveJob(_ context.Context, job domain.DistributionJob) error {
	if job.ID == "" {
		return fmt.Errorf("memory: save job: %w: empty id", domain.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

// GetJob returns a job by id.
func (s *DistributionStore) GetJob(_ context.Context, id string) (domain.DistributionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.DistributionJob{}, domain.ErrNotFound
	}
	return job, nil
}
