package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cmstack/mirrorsync/internal/common"
	"github.com/cmstack/mirrorsync/internal/dbx"
	sc "github.com/cmstack/mirrorsync/internal/server/config"
	"github.com/cmstack/mirrorsync/internal/logging"
	"github.com/cmstack/mirrorsync/internal/server/models"
	"github.com/cmstack/mirrorsync/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// TriggerResult reports what the embedding trigger decided. Exactly one of
// Enqueued/Skipped is true; a skip always names its reason so it is
// distinguishable from failure.
type TriggerResult struct {
	Enqueued   bool
	Skipped    bool
	SkipReason string
	ChunkSetID string
}

// EmbeddingService decides whether a mirrored entity's content change is
// worth re-indexing: cost gate, normalization, hash dedup, version
// retirement, downstream enqueue, in that order.
type EmbeddingService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config
	logger      logging.Logger
	costs       *CostPolicyService
}

func NewEmbeddingService(db *sql.DB, repomanager repomanager.RepositoryManager, config *sc.Config, logger logging.Logger, costs *CostPolicyService) *EmbeddingService {
	return &EmbeddingService{db: db, repomanager: repomanager, config: config, logger: logger, costs: costs}
}

// Trigger runs the gate chain for one entity. The deactivate-then-insert
// version transition and the downstream enqueue run inside one transaction,
// so at most one chunk set per source is ever active and an enqueued job
// always references a persisted chunk set.
func (s *EmbeddingService) Trigger(ctx context.Context, site *models.Site, e *models.Entity, correlationID string) (*TriggerResult, error) {
	tier, err := s.costs.TierFor(ctx, site.OrganizationID)
	if err != nil {
		return nil, err
	}
	if !tier.AllowsIndexing() {
		s.logger.Info(ctx, "indexing skipped by cost policy",
			"org_id", site.OrganizationID, "tier", tier, "entity_id", e.ID)
		return &TriggerResult{
			Skipped:    true,
			SkipReason: fmt.Sprintf("Indexing disabled by cost policy (%s tier)", tier),
		}, nil
	}

	normalized := NormalizeEntity(e)
	if normalized == "" {
		return &TriggerResult{Skipped: true, SkipReason: "No indexable content"}, nil
	}

	hash := ContentHash(normalized)

	activeHash, err := s.repomanager.ChunkSets(s.db).ActiveHash(ctx, e.SiteID, e.Type, e.ID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	if err == nil && activeHash == hash {
		return &TriggerResult{Skipped: true, SkipReason: "Content unchanged (hash match)"}, nil
	}

	chunkSetID := uuid.NewString()

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		chunkRepo := s.repomanager.ChunkSets(tx)

		if _, err := chunkRepo.DeactivateActive(ctx, e.SiteID, e.Type, e.ID); err != nil {
			return err
		}

		if err := chunkRepo.Insert(ctx, &models.ChunkSet{
			ID:          chunkSetID,
			SiteID:      e.SiteID,
			SourceType:  e.Type,
			SourceID:    e.ID,
			ContentHash: hash,
			Active:      true,
			CreatedAt:   time.Now().UTC(),
		}); err != nil {
			return err
		}

		payload, err := models.EncodePayload(&models.EmbedIndexPayload{
			Envelope: models.Envelope{
				OrganizationID: site.OrganizationID,
				SiteID:         e.SiteID,
				CorrelationID:  correlationID,
			},
			SourceType:  e.Type,
			SourceID:    e.ID,
			ChunkSetID:  chunkSetID,
			ContentHash: hash,
			Content:     normalized,
		})
		if err != nil {
			return err
		}

		return s.repomanager.Jobs(tx).Enqueue(ctx, &models.SyncJob{
			ID:          uuid.NewString(),
			Type:        models.JobTypeEmbedIndex,
			Status:      models.JobStatusPending,
			Payload:     payload,
			MaxAttempts: s.config.MaxAttempts,
			RunAt:       time.Now().UTC(),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("embedding trigger for entity %s: %w", e.ID, err)
	}

	s.logger.Info(ctx, "embedding enqueued",
		"entity_id", e.ID, "chunk_set_id", chunkSetID, "correlation_id", correlationID)
	return &TriggerResult{Enqueued: true, ChunkSetID: chunkSetID}, nil
}
