// Package worker implements the queue-consuming runner: claim batches across
// job types, maintain per-job heartbeats, dispatch to registered processors,
// and sweep stuck locks left behind by crashed workers.
package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/cmstack/mirrorsync/internal/logging"
	sc "github.com/cmstack/mirrorsync/internal/server/config"
	"github.com/cmstack/mirrorsync/internal/server/models"
	"github.com/cmstack/mirrorsync/internal/server/repositories/repomanager"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// backoff caps: 2^attempts minutes, at most an hour.
const (
	backoffBase = time.Minute
	backoffMax  = time.Hour
)

// HandlerFunc processes one claimed job. The payload is already decoded to
// the typed variant for the job's type.
type HandlerFunc func(ctx context.Context, job *models.SyncJob, payload any) (json.RawMessage, error)

// Runner polls the queue across all registered job types in one loop, so a
// backlog in one type cannot starve the others: the claim bound is split
// evenly per type.
type Runner struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config
	logger      logging.Logger
	workerID    string
	handlers    map[models.JobType]HandlerFunc
}

func NewRunner(db *sql.DB, repomanager repomanager.RepositoryManager, config *sc.Config, logger logging.Logger) *Runner {
	workerID := uuid.NewString()
	return &Runner{
		db:          db,
		repomanager: repomanager,
		config:      config,
		logger:      logger.With("worker_id", workerID),
		workerID:    workerID,
		handlers:    make(map[models.JobType]HandlerFunc),
	}
}

// Register binds a processor to a job type. Must be called before Run.
func (r *Runner) Register(t models.JobType, h HandlerFunc) {
	r.handlers[t] = h
}

// Run is the polling loop. It blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	pollTicker := time.NewTicker(r.config.PollInterval)
	defer pollTicker.Stop()
	sweepTicker := time.NewTicker(r.config.SweepInterval)
	defer sweepTicker.Stop()

	r.logger.Info(ctx, "worker runner started",
		"poll_interval", r.config.PollInterval, "slots", r.config.WorkerCount)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info(ctx, "worker runner stopping")
			return ctx.Err()
		case <-sweepTicker.C:
			r.sweepStuck(ctx)
		case <-pollTicker.C:
			r.pollOnce(ctx)
		}
	}
}

// pollOnce claims up to the batch bound for every registered type and
// processes the claimed jobs concurrently, one slot per job.
func (r *Runner) pollOnce(ctx context.Context) {
	perType := r.config.ClaimBatchSize / len(r.handlers)
	if perType < 1 {
		perType = 1
	}

	jobRepo := r.repomanager.Jobs(r.db)

	var claimed []*models.SyncJob
	for t := range r.handlers {
		jobs, err := jobRepo.Claim(ctx, []models.JobType{t}, perType, r.workerID)
		if err != nil {
			r.logger.Error(ctx, "claim failed", "job_type", t, "error", err)
			continue
		}
		claimed = append(claimed, jobs...)
	}
	if len(claimed) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.WorkerCount)
	for _, job := range claimed {
		job := job
		g.Go(func() error {
			r.processJob(gctx, job)
			return nil
		})
	}
	_ = g.Wait()
}

// processJob runs one claimed job end to end: heartbeat goroutine scoped to
// the job lifetime, typed payload decode, dispatch, and the terminal
// complete/fail transition. The heartbeat stops on every exit path.
func (r *Runner) processJob(ctx context.Context, job *models.SyncJob) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go r.heartbeatLoop(jobCtx, cancel, job.ID)

	log := r.logger.With("job_id", job.ID, "job_type", job.Type)
	log.Debug(jobCtx, "processing job", "attempt", job.Attempts+1)

	handler := r.handlers[job.Type]

	payload, err := models.DecodePayload(job.Type, job.Payload)
	if err != nil {
		r.failJob(ctx, job, err)
		return
	}

	result, err := handler(jobCtx, job, payload)
	if err != nil {
		log.Warn(ctx, "job failed", "error", err)
		r.failJob(ctx, job, err)
		return
	}

	if err := r.repomanager.Jobs(r.db).Complete(ctx, job.ID, r.workerID, result); err != nil {
		log.Error(ctx, "completing job failed", "error", err)
		return
	}
	log.Debug(ctx, "job completed")
}

// heartbeatLoop renews the job lock until the job context ends. Losing
// ownership (another worker reclaimed after a stuck sweep) cancels the job.
func (r *Runner) heartbeatLoop(ctx context.Context, cancel context.CancelFunc, jobID string) {
	ticker := time.NewTicker(r.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.repomanager.Jobs(r.db).Heartbeat(ctx, jobID, r.workerID); err != nil {
				r.logger.Warn(ctx, "heartbeat lost, abandoning job", "job_id", jobID, "error", err)
				cancel()
				return
			}
		}
	}
}

func (r *Runner) failJob(ctx context.Context, job *models.SyncJob, cause error) {
	nextRun := time.Now().UTC().Add(retryDelay(job.Attempts))
	if err := r.repomanager.Jobs(r.db).Fail(ctx, job.ID, r.workerID, cause.Error(), nextRun); err != nil {
		r.logger.Error(ctx, "recording job failure failed", "job_id", job.ID, "error", err)
	}
}

// retryDelay implements the backoff-aware requeue policy: exponential in the
// attempts already spent, capped.
func retryDelay(attempts int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempts))) * backoffBase
	if d > backoffMax {
		return backoffMax
	}
	return d
}

func (r *Runner) sweepStuck(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.config.LockTTL)
	n, err := r.repomanager.Jobs(r.db).ReleaseStuck(ctx, cutoff)
	if err != nil {
		r.logger.Error(ctx, "stuck sweep failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Warn(ctx, "released stuck jobs", "count", n)
	}
}

// Enqueue is a convenience for components that hold a runner reference.
func (r *Runner) Enqueue(ctx context.Context, jobType models.JobType, payload any) (string, error) {
	raw, err := models.EncodePayload(payload)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	err = r.repomanager.Jobs(r.db).Enqueue(ctx, &models.SyncJob{
		ID:          id,
		Type:        jobType,
		Status:      models.JobStatusPending,
		Payload:     raw,
		MaxAttempts: r.config.MaxAttempts,
		RunAt:       time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("enqueueing %s job: %w", jobType, err)
	}
	return id, nil
}
