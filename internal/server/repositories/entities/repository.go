// Package entities provides PostgreSQL-backed storage for mirrored entities
// keyed by (siteID, entityType, remoteID).
package entities

import (
	"context"
	"time"

	"github.com/cmstack/mirrorsync/internal/server/models"
)

// Repository is the mirror store contract. Upsert is the idempotent write
// behind both the full and incremental sync paths; the sync engine never
// hard-deletes, only soft-archives.
type Repository interface {
	// Upsert creates or updates by (siteID, type, remoteID) and reports
	// whether a new row was created.
	Upsert(ctx context.Context, e *models.Entity) (id string, created bool, err error)

	// GetByRemote fetches the local mirror for one remote item.
	GetByRemote(ctx context.Context, siteID string, entityType models.EntityType, remoteID int64) (*models.Entity, error)

	// Archive soft-archives the mirror of a remotely-deleted item.
	Archive(ctx context.Context, siteID string, entityType models.EntityType, remoteID int64) error

	// HasDependents reports whether any non-archived entity still
	// references the given item as its parent.
	HasDependents(ctx context.Context, siteID string, entityType models.EntityType, remoteID int64) (bool, error)

	// StampPushed records a successful local-to-remote push: pushed_at and
	// synced_at both move to now, which feeds the anti-loop guard.
	StampPushed(ctx context.Context, siteID string, entityType models.EntityType, remoteID int64, at time.Time) error

	// AssignRemoteID binds a locally-created entity to the id the remote
	// origin allocated during a create push.
	AssignRemoteID(ctx context.Context, localID string, remoteID int64) error

	// GetByID fetches an entity by its local id.
	GetByID(ctx context.Context, localID string) (*models.Entity, error)
}
