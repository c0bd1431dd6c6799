// Package scheduler is the cron driver for incremental pulls: on a fixed
// cadence it enqueues one pull job per site, leaving the actual window
// computation to the pull service running inside the worker.
package scheduler

import (
	"context"
	"database/sql"
	"time"

	"github.com/cmstack/mirrorsync/internal/logging"
	sc "github.com/cmstack/mirrorsync/internal/server/config"
	"github.com/cmstack/mirrorsync/internal/server/models"
	"github.com/cmstack/mirrorsync/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// Enqueuer hands scheduled pull runs to the job queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType models.JobType, payload any) (string, error)
}

type Scheduler struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config
	logger      logging.Logger
	enqueuer    Enqueuer
}

func NewScheduler(db *sql.DB, repomanager repomanager.RepositoryManager, config *sc.Config,
	logger logging.Logger, enqueuer Enqueuer) *Scheduler {
	return &Scheduler{
		db:          db,
		repomanager: repomanager,
		config:      config,
		logger:      logger,
		enqueuer:    enqueuer,
	}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.PullInterval)
	defer ticker.Stop()

	s.logger.Info(ctx, "pull scheduler started", "interval", s.config.PullInterval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.enqueuePulls(ctx)
		}
	}
}

// enqueuePulls schedules one incremental pull job per site. A failure for
// one site does not block the others; the next tick retries naturally.
func (s *Scheduler) enqueuePulls(ctx context.Context) {
	sites, err := s.repomanager.Sites(s.db).List(ctx)
	if err != nil {
		s.logger.Error(ctx, "listing sites for pull scheduling failed", "error", err)
		return
	}

	for _, site := range sites {
		_, err := s.enqueuer.Enqueue(ctx, models.JobTypeIncrementalPull, &models.IncrementalPullPayload{
			Envelope: models.Envelope{
				OrganizationID: site.OrganizationID,
				SiteID:         site.ID,
				CorrelationID:  uuid.NewString(),
			},
		})
		if err != nil {
			s.logger.Error(ctx, "scheduling pull failed", "site_id", site.ID, "error", err)
			continue
		}
		s.logger.Debug(ctx, "pull scheduled", "site_id", site.ID)
	}
}
