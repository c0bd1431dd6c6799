// Package conflicts persists write-write divergence records for manual
// reconciliation.
package conflicts

import (
	"context"

	"github.com/cmstack/mirrorsync/internal/server/models"
)

// Repository is the conflict store contract. Resolve and Ignore are the only
// mutators of resolutionStatus and are idempotent no-ops when the conflict
// already left the open state.
type Repository interface {
	Create(ctx context.Context, c *models.SyncConflict) error

	GetByID(ctx context.Context, id string) (*models.SyncConflict, error)

	ListOpen(ctx context.Context, siteID string) ([]*models.SyncConflict, error)

	Resolve(ctx context.Context, id, resolvedBy, note string) error

	Ignore(ctx context.Context, id, resolvedBy, note string) error
}
