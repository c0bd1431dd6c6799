// Package coststates stores per-tenant budget tiers gating expensive
// downstream indexing work.
package coststates

import (
	"context"

	"github.com/cmstack/mirrorsync/internal/server/models"
)

// Repository is the cost-state store contract.
type Repository interface {
	// Get returns the organization's cost state. An organization without a
	// row is on the normal tier.
	Get(ctx context.Context, organizationID string) (*models.CostState, error)

	// Upsert sets the tier and budget figures for an organization.
	Upsert(ctx context.Context, state *models.CostState) error
}
