// Package jobs implements the durable job-queue primitive: atomic
// claim-with-lock, heartbeat renewal, backoff-aware failure handling, and
// stuck-lock recovery.
package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cmstack/mirrorsync/internal/server/models"
)

// Repository is the queue contract consumed by enqueuers and the worker
// runner. The jobs table is the only shared mutable resource between
// workers, so every mutation here must be a single atomic conditional
// update, never read-then-write.
type Repository interface {
	// Enqueue inserts a pending job.
	Enqueue(ctx context.Context, job *models.SyncJob) error

	// Claim atomically transitions up to batchSize pending jobs of the
	// given types to processing, stamping lockedBy/lockedAt. Two
	// concurrent callers never receive the same job id.
	Claim(ctx context.Context, jobTypes []models.JobType, batchSize int, workerID string) ([]*models.SyncJob, error)

	// Heartbeat refreshes lockedAt while work continues. Returns
	// common.ErrJobNotOwned when the job is no longer locked by workerID.
	Heartbeat(ctx context.Context, jobID, workerID string) error

	// Complete marks the job completed with a result payload.
	Complete(ctx context.Context, jobID, workerID string, result json.RawMessage) error

	// Fail increments the attempts counter. Once attempts reach
	// maxAttempts the job is parked as failed (terminal); otherwise it is
	// requeued as pending with runAt = nextRun for backoff-aware retry.
	Fail(ctx context.Context, jobID, workerID, errMsg string, nextRun time.Time) error

	// ReleaseStuck resets processing jobs whose lock is older than the
	// cutoff back to pending. This is the sole recovery path for crashed
	// workers.
	ReleaseStuck(ctx context.Context, cutoff time.Time) (int64, error)

	// GetByID fetches a single job.
	GetByID(ctx context.Context, jobID string) (*models.SyncJob, error)
}
