// Package sites provides persistence for tenant sites: origin credentials
// and the incremental pull watermark.
package sites

import (
	"context"
	"time"

	"github.com/cmstack/mirrorsync/internal/server/models"
)

// Repository is the site store contract.
type Repository interface {
	GetByID(ctx context.Context, siteID string) (*models.Site, error)

	// List returns all sites, for the pull scheduler.
	List(ctx context.Context) ([]*models.Site, error)

	Create(ctx context.Context, site *models.Site) error

	// AdvanceWatermark moves lastSyncAt forward to the given instant.
	// The update is conditional so the watermark is monotonically
	// non-decreasing; an attempt to move it backwards returns
	// common.ErrWatermarkRegression.
	AdvanceWatermark(ctx context.Context, siteID string, to time.Time) error
}
