// Package chunksets stores the versioned indexing projections of mirrored
// entities. At most one chunk set per (siteID, sourceType, sourceID) is
// active at any instant; a partial unique index enforces the invariant at
// the storage layer.
package chunksets

import (
	"context"

	"github.com/cmstack/mirrorsync/internal/server/models"
)

// Repository is the chunk-set store contract. DeactivateActive and Insert
// are expected to run inside the same transaction (dbx.WithTx) so readers
// never observe zero or two active versions outside the atomic transition.
type Repository interface {
	// ActiveHash returns the content hash of the currently-active set for
	// the key, or common.ErrNotFound when no active set exists.
	ActiveHash(ctx context.Context, siteID string, sourceType models.EntityType, sourceID string) (string, error)

	// DeactivateActive retires every active set for the key in one batch
	// update and returns how many rows were retired.
	DeactivateActive(ctx context.Context, siteID string, sourceType models.EntityType, sourceID string) (int64, error)

	// Insert stores a new active chunk set.
	Insert(ctx context.Context, cs *models.ChunkSet) error
}
