package services

import (
	"context"
	"database/sql"
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
	"golang.org/x/time/rate"
)

// PullResult reports one incremental pull run.
type PullResult struct {
	QueuedCount  int                       `json:"queuedCount"`
	WindowStart  time.Time                 `json:"windowStart"`
	WindowEnd    time.Time                 `json:"windowEnd"`
	EntityCounts map[models.EntityType]int `json:"entityCounts"`
	Truncated    bool                      `json:"truncated"`
}

var pulledEntityTypes = []models.EntityType{
	models.EntityTypeCategory,
	models.EntityTypeMedia,
	models.EntityTypePage,
	models.EntityTypePost,
}

// PullService is the cron-driven watermark diff puller. Each modified item
// becomes its own queue job so one bad item's failure is isolated from its
// siblings.
type PullService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config
	logger      logging.Logger
	origin      OriginClient
	creds       *CredentialsService
}

func NewPullService(db *sql.DB, repomanager repomanager.RepositoryManager, config *sc.Config,
	logger logging.Logger, origin OriginClient, creds *CredentialsService) *PullService {
	return &PullService{
		db:          db,
		repomanager: repomanager,
		config:      config,
		logger:      logger,
		origin:      origin,
		creds:       creds,
	}
}

// PullIncremental computes the window [lastSyncAt, now), fetches items
// modified within it oldest-first per entity type, and enqueues one
// incremental-sync job per item, capped by the per-tenant rate limiter.
//
// The watermark advances once fetch+enqueue succeeded, decoupled from
// downstream processing. The origin's modified-since filter is strictly
// exclusive and its timestamps have second resolution, so an untruncated run
// parks the watermark one second short of the window end, and a rate-capped
// run drains the last enqueued second before stopping and advances only to
// that timestamp; either way no item can fall between two windows.
func (s *PullService) PullIncremental(ctx context.Context, siteID string) (*PullResult, error) {
	site, creds, err := s.creds.Resolve(ctx, siteID)
	if err != nil {
		return nil, err
	}

	var windowStart time.Time
	if site.LastSyncAt != nil {
		windowStart = *site.LastSyncAt
	}
	windowEnd := time.Now().UTC()

	result := &PullResult{
		WindowStart:  windowStart,
		WindowEnd:    windowEnd,
		EntityCounts: make(map[models.EntityType]int),
	}

	limiter := rate.NewLimiter(rate.Limit(s.config.PullRatePerSecond), s.config.PullBurst)
	correlationID := uuid.NewString()
	jobRepo := s.repomanager.Jobs(s.db)

	var lastEnqueued time.Time

	for _, entityType := range pulledEntityTypes {
		res, err := resourceFor(entityType)
		if err != nil {
			return nil, err
		}

		for page := 1; !result.Truncated; page++ {
			items, err := s.origin.ListModifiedSince(ctx, creds, res, windowStart, page, wp.DefaultPageSize)
			if err != nil {
				return result, fmt.Errorf("pulling %s window for site %s: %w", res, siteID, err)
			}
			if len(items) == 0 {
				break
			}

			for i := range items {
				item := &items[i]
				if !item.ModifiedGMT.Before(windowEnd) {
					continue
				}
				modified := item.ModifiedGMT.Time
				if !limiter.Allow() {
					// Finish the current timestamp bucket before stopping:
					// the next window is strictly after the watermark, so a
					// sibling sharing the last enqueued second would
					// otherwise never be seen again.
					if lastEnqueued.IsZero() || !modified.Equal(lastEnqueued) {
						result.Truncated = true
						break
					}
				}
				payload, err := models.EncodePayload(&models.IncrementalSyncPayload{
					Envelope: models.Envelope{
						OrganizationID: site.OrganizationID,
						SiteID:         site.ID,
						CorrelationID:  correlationID,
					},
					EntityType:  entityType,
					RemoteID:    item.ID,
					Action:      "updated",
					ModifiedGMT: &modified,
					Origin:      "cron",
				})
				if err != nil {
					return result, err
				}

				if err := jobRepo.Enqueue(ctx, &models.SyncJob{
					ID:          uuid.NewString(),
					Type:        models.JobTypeIncrementalSync,
					Status:      models.JobStatusPending,
					Payload:     payload,
					MaxAttempts: s.config.MaxAttempts,
					RunAt:       time.Now().UTC(),
				}); err != nil {
					return result, fmt.Errorf("enqueueing incremental sync for %s %d: %w", entityType, item.ID, err)
				}

				result.QueuedCount++
				result.EntityCounts[entityType]++
				if modified.After(lastEnqueued) {
					lastEnqueued = modified
				}
			}

			if len(items) < wp.DefaultPageSize {
				break
			}
		}
		if result.Truncated {
			break
		}
	}

	advanceTo := windowEnd.Add(-time.Second)
	if result.Truncated {
		if lastEnqueued.IsZero() {
			// Nothing made it into the queue; the watermark stays put and
			// the whole window is retried next run.
			s.logger.Info(ctx, "incremental pull truncated before first enqueue",
				"site_id", siteID, "correlation_id", correlationID)
			return result, nil
		}
		advanceTo = lastEnqueued
	}
	if err := s.repomanager.Sites(s.db).AdvanceWatermark(ctx, siteID, advanceTo); err != nil {
		if errors.Is(err, common.ErrWatermarkRegression) {
			// A concurrent run already moved it further; nothing is lost.
			s.logger.Warn(ctx, "watermark already ahead", "site_id", siteID, "target", advanceTo)
		} else {
			return result, err
		}
	}

	s.logger.Info(ctx, "incremental pull finished",
		"site_id", siteID, "queued", result.QueuedCount,
		"truncated", result.Truncated, "correlation_id", correlationID)
	return result, nil
}
