package services

import (
	"context"
	"database/sql"

	"github.com/cmstack/mirrorsync/internal/server/models"
	"github.com/cmstack/mirrorsync/internal/server/repositories/repomanager"
)

// CostPolicyService answers whether a tenant's budget standing allows
// enqueueing expensive downstream work.
type CostPolicyService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

func NewCostPolicyService(db *sql.DB, repomanager repomanager.RepositoryManager) *CostPolicyService {
	return &CostPolicyService{db: db, repomanager: repomanager}
}

// TierFor returns the organization's current cost tier. Organizations without
// a recorded state are on the normal tier.
func (s *CostPolicyService) TierFor(ctx context.Context, organizationID string) (models.CostTier, error) {
	state, err := s.repomanager.CostStates(s.db).Get(ctx, organizationID)
	if err != nil {
		return "", err
	}
	return state.Tier, nil
}

// SetState records an organization's budget standing.
func (s *CostPolicyService) SetState(ctx context.Context, state *models.CostState) error {
	return s.repomanager.CostStates(s.db).Upsert(ctx, state)
}
