package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cmstack/mirrorsync/internal/server/models"
	"github.com/cmstack/mirrorsync/internal/server/repositories/repomanager"
	"github.com/cmstack/mirrorsync/internal/wp"
	"github.com/google/uuid"
)

// Detect is the pure LWW comparison. A conflict exists when the local mirror
// last saw a remote state newer than what the remote is now reporting: the
// local side believes it is fresher.
func Detect(remoteModified, localSyncedAt time.Time) (bool, models.ConflictType) {
	if localSyncedAt.After(remoteModified) {
		return true, models.ConflictTypeLocalNewer
	}
	return false, ""
}

// ConflictService persists divergence records and applies manual resolutions.
// The automated sync path only ever creates open conflicts; resolving and
// ignoring are explicit human actions.
type ConflictService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

func NewConflictService(db *sql.DB, repomanager repomanager.RepositoryManager) *ConflictService {
	return &ConflictService{db: db, repomanager: repomanager}
}

// conflictSnapshot is the per-side state captured for audit/diff display.
type conflictSnapshot struct {
	Title      string    `json:"title"`
	Content    string    `json:"content,omitempty"`
	Excerpt    string    `json:"excerpt,omitempty"`
	Status     string    `json:"status,omitempty"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// Record persists an open conflict carrying both sides' snapshots. It never
// blocks or alters the sync outcome.
func (s *ConflictService) Record(ctx context.Context, site *models.Site, local *models.Entity, remote *wp.Item, conflictType models.ConflictType) (*models.SyncConflict, error) {
	localSnap, err := json.Marshal(conflictSnapshot{
		Title:      local.Title,
		Content:    local.Content,
		Excerpt:    local.Excerpt,
		Status:     local.Status,
		ModifiedAt: local.SyncedAt,
	})
	if err != nil {
		return nil, err
	}
	remoteSnap, err := json.Marshal(conflictSnapshot{
		Title:      remote.DisplayTitle(),
		Content:    remote.Content.Rendered,
		Excerpt:    remote.Excerpt.Rendered,
		Status:     remote.Status,
		ModifiedAt: remote.ModifiedGMT.Time,
	})
	if err != nil {
		return nil, err
	}

	c := &models.SyncConflict{
		ID:               uuid.NewString(),
		OrganizationID:   site.OrganizationID,
		SiteID:           site.ID,
		EntityType:       local.Type,
		RemoteID:         local.RemoteID,
		LocalID:          local.ID,
		ConflictType:     conflictType,
		LocalSnapshot:    localSnap,
		RemoteSnapshot:   remoteSnap,
		ResolutionStatus: models.ResolutionStatusOpen,
		DetectedAt:       time.Now().UTC(),
	}

	if err := s.repomanager.Conflicts(s.db).Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ListOpen returns the site's unresolved conflicts.
func (s *ConflictService) ListOpen(ctx context.Context, siteID string) ([]*models.SyncConflict, error) {
	return s.repomanager.Conflicts(s.db).ListOpen(ctx, siteID)
}

// Resolve marks an open conflict resolved. A no-op when the conflict already
// left the open state.
func (s *ConflictService) Resolve(ctx context.Context, id, resolvedBy, note string) error {
	return s.repomanager.Conflicts(s.db).Resolve(ctx, id, resolvedBy, note)
}

// Ignore marks an open conflict ignored. A no-op when the conflict already
// left the open state.
func (s *ConflictService) Ignore(ctx context.Context, id, resolvedBy, note string) error {
	return s.repomanager.Conflicts(s.db).Ignore(ctx, id, resolvedBy, note)
}
