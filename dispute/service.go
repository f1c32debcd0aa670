package dispute

import "context"

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) ListByMilestone(ctx context.Context, milestoneID string) ([]Record, error) {
	return s.repo.ListByMilestone(ctx, milestoneID)
}

func (s *Service) Resolve(ctx context.Context, disputeID string) (Record, error) {
	return s.repo.Resolve(ctx, disputeID)
}
