package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cmstack/mirrorsync/internal/common"
	"github.com/cmstack/mirrorsync/internal/logging"
	sc "github.com/cmstack/mirrorsync/internal/server/config"
	"github.com/cmstack/mirrorsync/internal/server/models"
	"github.com/cmstack/mirrorsync/internal/server/repositories/repomanager"
	"github.com/cmstack/mirrorsync/internal/wp"
	"github.com/google/uuid"
)

// MediaStore copies media binaries into object storage. Implementations are
// best-effort collaborators: a copy failure never blocks the mirror upsert.
type MediaStore interface {
	Store(ctx context.Context, siteID string, remoteID int64, sourceURL string) (string, error)
}

// ItemAction is the outcome of syncing one remote item.
type ItemAction string

const (
	ItemActionCreated  ItemAction = "created"
	ItemActionUpdated  ItemAction = "updated"
	ItemActionSkipped  ItemAction = "skipped"
	ItemActionArchived ItemAction = "archived"
)

// ItemResult is the structured outcome of one item sync: action taken,
// conflict recorded (if any), and the embedding trigger decision.
type ItemResult struct {
	Action     ItemAction
	LocalID    string
	ConflictID string
	SkipReason string
	Embedding  *TriggerResult
}

// ItemError records one poisoned item of a batch.
type ItemError struct {
	RemoteID int64
	Error    string
}

// FullSyncResult aggregates a bulk pull over one entity type. A batch with
// some bad items still completes for the good ones.
type FullSyncResult struct {
	Created           int         `json:"created"`
	Updated           int         `json:"updated"`
	Skipped           int         `json:"skipped"`
	Failed            int         `json:"failed"`
	EmbeddingsQueued  int         `json:"embeddingsQueued"`
	EmbeddingsSkipped int         `json:"embeddingsSkipped"`
	ItemErrors        []ItemError `json:"itemErrors,omitempty"`
}

// SyncService owns the shared upsert-with-conflict-check routine used by
// both the full and incremental sync paths.
type SyncService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config
	logger      logging.Logger
	origin      OriginClient
	creds       *CredentialsService
	conflicts   *ConflictService
	embedder    *EmbeddingService
	media       MediaStore
}

func NewSyncService(db *sql.DB, repomanager repomanager.RepositoryManager, config *sc.Config,
	logger logging.Logger, origin OriginClient, creds *CredentialsService,
	conflicts *ConflictService, embedder *EmbeddingService, media MediaStore) *SyncService {
	return &SyncService{
		db:          db,
		repomanager: repomanager,
		config:      config,
		logger:      logger,
		origin:      origin,
		creds:       creds,
		conflicts:   conflicts,
		embedder:    embedder,
		media:       media,
	}
}

// FullSync bulk-pulls one entity type in paged batches through the shared
// upsert routine. A page fetch failure aborts the run but keeps the upserts
// already applied; a single bad item only increments the failed counter.
func (s *SyncService) FullSync(ctx context.Context, site *models.Site, entityType models.EntityType, batchSize int, correlationID string) (*FullSyncResult, error) {
	creds, err := s.creds.CredentialsFor(site)
	if err != nil {
		return nil, err
	}
	res, err := resourceFor(entityType)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = wp.DefaultPageSize
	}

	result := &FullSyncResult{}

	for page := 1; ; page++ {
		items, err := s.origin.ListPage(ctx, creds, res, page, batchSize)
		if err != nil {
			return result, fmt.Errorf("fetching %s page %d: %w", res, page, err)
		}
		if len(items) == 0 {
			break
		}

		for i := range items {
			item := &items[i]
			ir, err := s.syncRemoteItem(ctx, site, creds, entityType, item, correlationID)
			if err != nil {
				result.Failed++
				result.ItemErrors = append(result.ItemErrors, ItemError{RemoteID: item.ID, Error: err.Error()})
				s.logger.Warn(ctx, "item sync failed, continuing batch",
					"site_id", site.ID, "entity_type", entityType, "remote_id", item.ID, "error", err)
				continue
			}
			result.tally(ir)
		}

		if len(items) < batchSize {
			break
		}
	}

	s.logger.Info(ctx, "full sync finished",
		"site_id", site.ID, "entity_type", entityType,
		"created", result.Created, "updated", result.Updated,
		"skipped", result.Skipped, "failed", result.Failed)
	return result, nil
}

func (r *FullSyncResult) tally(ir *ItemResult) {
	switch ir.Action {
	case ItemActionCreated:
		r.Created++
	case ItemActionUpdated:
		r.Updated++
	default:
		r.Skipped++
	}
	if ir.Embedding != nil {
		if ir.Embedding.Enqueued {
			r.EmbeddingsQueued++
		} else if ir.Embedding.Skipped {
			r.EmbeddingsSkipped++
		}
	}
}

// ProcessIncremental handles one modified-item job from webhook or cron
// origin: fetch the item, archive on remote delete, otherwise run the shared
// upsert routine.
func (s *SyncService) ProcessIncremental(ctx context.Context, p *models.IncrementalSyncPayload) (*ItemResult, error) {
	site, creds, err := s.creds.Resolve(ctx, p.SiteID)
	if err != nil {
		return nil, err
	}
	res, err := resourceFor(p.EntityType)
	if err != nil {
		return nil, err
	}

	if p.Action == "deleted" {
		return s.archiveRemoteDelete(ctx, site, p.EntityType, p.RemoteID)
	}

	item, err := s.origin.Get(ctx, creds, res, p.RemoteID)
	if errors.Is(err, common.ErrNotFound) {
		return s.archiveRemoteDelete(ctx, site, p.EntityType, p.RemoteID)
	}
	if err != nil {
		return nil, err
	}

	return s.syncRemoteItem(ctx, site, creds, p.EntityType, item, p.CorrelationID)
}

// syncRemoteItem is the shared upsert-with-conflict-check routine.
//
// Reprocessing an identical item (same remote id, same modified timestamp,
// same content) is a skip: no row churn, no new indexing work. When the
// local mirror's timestamp is strictly newer than what the remote reports,
// a local_newer conflict is recorded and the remote version is still applied
// (remote wins on the automated path).
func (s *SyncService) syncRemoteItem(ctx context.Context, site *models.Site, creds *wp.Credentials, entityType models.EntityType, item *wp.Item, correlationID string) (*ItemResult, error) {
	entityRepo := s.repomanager.Entities(s.db)

	local, err := entityRepo.GetByRemote(ctx, site.ID, entityType, item.ID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	result := &ItemResult{}

	if local != nil {
		if !item.ModifiedGMT.After(local.SyncedAt) && contentEqual(local, item) {
			result.Action = ItemActionSkipped
			result.SkipReason = "remote not newer than local mirror"
			result.LocalID = local.ID
			return result, nil
		}

		if has, conflictType := Detect(item.ModifiedGMT.Time, local.SyncedAt); has {
			c, err := s.conflicts.Record(ctx, site, local, item, conflictType)
			if err != nil {
				return nil, fmt.Errorf("recording conflict for %s %d: %w", entityType, item.ID, err)
			}
			result.ConflictID = c.ID
			s.logger.Warn(ctx, "write-write conflict recorded, applying remote",
				"site_id", site.ID, "entity_type", entityType, "remote_id", item.ID,
				"conflict_id", c.ID, "conflict_type", conflictType)
		}
	}

	e, err := s.buildEntity(ctx, site, creds, entityType, item)
	if err != nil {
		return nil, err
	}

	id, created, err := entityRepo.Upsert(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("upserting %s %d: %w", entityType, item.ID, err)
	}
	e.ID = id
	result.LocalID = id

	if created {
		result.Action = ItemActionCreated
	} else {
		result.Action = ItemActionUpdated
	}

	trigger, err := s.embedder.Trigger(ctx, site, e, correlationID)
	if err != nil {
		// The mirror row is already consistent; indexing is retried on the
		// next content change rather than failing the sync.
		s.logger.Error(ctx, "embedding trigger failed",
			"site_id", site.ID, "entity_id", e.ID, "error", err)
	} else {
		result.Embedding = trigger
	}

	return result, nil
}

// buildEntity maps a remote item onto the local mirror shape, pulling custom
// fields from the inline payload or a secondary fetch, and copying media
// binaries into object storage when enabled.
func (s *SyncService) buildEntity(ctx context.Context, site *models.Site, creds *wp.Credentials, entityType models.EntityType, item *wp.Item) (*models.Entity, error) {
	if item.ID == 0 {
		return nil, fmt.Errorf("%w: remote item has no id", common.ErrMissingField)
	}

	now := time.Now().UTC()
	e := &models.Entity{
		// entities.id has no database default; inserts carry their key. On
		// conflict the upsert returns the existing row's id instead.
		ID:               uuid.NewString(),
		SiteID:           site.ID,
		Type:             entityType,
		RemoteID:         item.ID,
		Title:            item.DisplayTitle(),
		Content:          item.Content.Rendered,
		Excerpt:          item.Excerpt.Rendered,
		Status:           item.Status,
		ParentRemoteID:   item.Parent,
		SourceURL:        item.SourceURL,
		RemoteModifiedAt: item.ModifiedGMT.Time,
		SyncedAt:         now,
	}

	if entityType == models.EntityTypeCategory {
		e.Content = item.Description
	}

	if len(item.Categories) > 0 {
		taxonomy, err := json.Marshal(item.Categories)
		if err != nil {
			return nil, err
		}
		e.Taxonomy = taxonomy
	}

	if entityType == models.EntityTypePage || entityType == models.EntityTypePost {
		fields := item.ACF
		if fields == nil {
			res, err := resourceFor(entityType)
			if err != nil {
				return nil, err
			}
			fields, err = s.origin.GetCustomFields(ctx, creds, res, item.ID)
			if err != nil && !errors.Is(err, common.ErrNotFound) {
				return nil, fmt.Errorf("fetching custom fields for %s %d: %w", entityType, item.ID, err)
			}
		}
		if len(fields) > 0 {
			cf, err := json.Marshal(fields)
			if err != nil {
				return nil, err
			}
			e.CustomFields = cf
		}
	}

	if entityType == models.EntityTypeMedia && s.media != nil && item.SourceURL != "" {
		key, err := s.media.Store(ctx, site.ID, item.ID, item.SourceURL)
		if err != nil {
			s.logger.Warn(ctx, "media binary copy failed, mirroring metadata only",
				"site_id", site.ID, "remote_id", item.ID, "error", err)
		} else {
			e.StorageKey = key
		}
	}

	return e, nil
}

// archiveRemoteDelete soft-archives the mirror of a remotely-deleted item.
// Entities with live dependents are left untouched.
func (s *SyncService) archiveRemoteDelete(ctx context.Context, site *models.Site, entityType models.EntityType, remoteID int64) (*ItemResult, error) {
	entityRepo := s.repomanager.Entities(s.db)

	local, err := entityRepo.GetByRemote(ctx, site.ID, entityType, remoteID)
	if errors.Is(err, common.ErrNotFound) {
		return &ItemResult{Action: ItemActionSkipped, SkipReason: "no local mirror for deleted item"}, nil
	}
	if err != nil {
		return nil, err
	}

	hasDeps, err := entityRepo.HasDependents(ctx, site.ID, entityType, remoteID)
	if err != nil {
		return nil, err
	}
	if hasDeps {
		return &ItemResult{
			Action:     ItemActionSkipped,
			LocalID:    local.ID,
			SkipReason: "entity has dependents, not archived",
		}, nil
	}

	if err := entityRepo.Archive(ctx, site.ID, entityType, remoteID); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "entity archived after remote delete",
		"site_id", site.ID, "entity_type", entityType, "remote_id", remoteID)
	return &ItemResult{Action: ItemActionArchived, LocalID: local.ID}, nil
}

func contentEqual(local *models.Entity, item *wp.Item) bool {
	content := item.Content.Rendered
	if local.Type == models.EntityTypeCategory {
		content = item.Description
	}
	return local.Title == item.DisplayTitle() &&
		local.Content == content &&
		local.Excerpt == item.Excerpt.Rendered
}
