package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cmstack/mirrorsync/internal/common"
	"github.com/cmstack/mirrorsync/internal/dbx"
	"github.com/cmstack/mirrorsync/internal/server/models"
)

// PostgresRepository implements the queue over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Enqueue(ctx context.Context, job *models.SyncJob) error {
	query := `
		INSERT INTO sync_jobs (id, type, status, payload, attempts, max_attempts, run_at)
		VALUES ($1, $2, 'pending', $3, 0, $4, $5);
	`
	runAt := job.RunAt
	if runAt.IsZero() {
		runAt = time.Now().UTC()
	}
	if _, err := r.db.ExecContext(ctx, query, job.ID, job.Type, job.Payload, job.MaxAttempts, runAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Claim uses a single conditional UPDATE over a SKIP LOCKED subselect so
// that racing claimers partition the pending set instead of colliding.
func (r *PostgresRepository) Claim(ctx context.Context, jobTypes []models.JobType, batchSize int, workerID string) ([]*models.SyncJob, error) {
	query := `
		UPDATE sync_jobs SET
			status = 'processing',
			locked_by = $1,
			locked_at = now(),
			updated_at = now()
		WHERE id IN (
			SELECT id FROM sync_jobs
			WHERE status = 'pending' AND type = ANY($2) AND run_at <= now()
			ORDER BY run_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, type, status, payload, attempts, max_attempts, locked_by, locked_at, run_at, last_error, created_at, updated_at;
	`
	types := make([]string, len(jobTypes))
	for i, t := range jobTypes {
		types[i] = string(t)
	}

	rows, err := r.db.QueryContext(ctx, query, workerID, types, batchSize)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.SyncJob
	for rows.Next() {
		var job models.SyncJob
		if err := rows.Scan(
			&job.ID, &job.Type, &job.Status, &job.Payload, &job.Attempts, &job.MaxAttempts,
			&job.LockedBy, &job.LockedAt, &job.RunAt, &job.LastError, &job.CreatedAt, &job.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Heartbeat(ctx context.Context, jobID, workerID string) error {
	query := `
		UPDATE sync_jobs SET locked_at = now(), updated_at = now()
		WHERE id = $1 AND locked_by = $2 AND status = 'processing';
	`
	return r.execOwned(ctx, query, jobID, workerID)
}

func (r *PostgresRepository) Complete(ctx context.Context, jobID, workerID string, result json.RawMessage) error {
	query := `
		UPDATE sync_jobs SET
			status = 'completed',
			result = $3,
			locked_by = NULL,
			locked_at = NULL,
			updated_at = now()
		WHERE id = $1 AND locked_by = $2 AND status = 'processing';
	`
	res, err := r.db.ExecContext(ctx, query, jobID, workerID, result)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return ownedRows(res)
}

func (r *PostgresRepository) Fail(ctx context.Context, jobID, workerID, errMsg string, nextRun time.Time) error {
	query := `
		UPDATE sync_jobs SET
			attempts = attempts + 1,
			last_error = $3,
			status = CASE WHEN attempts + 1 >= max_attempts THEN 'failed' ELSE 'pending' END,
			run_at = CASE WHEN attempts + 1 >= max_attempts THEN run_at ELSE $4 END,
			locked_by = NULL,
			locked_at = NULL,
			updated_at = now()
		WHERE id = $1 AND locked_by = $2 AND status = 'processing';
	`
	res, err := r.db.ExecContext(ctx, query, jobID, workerID, errMsg, nextRun)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return ownedRows(res)
}

func (r *PostgresRepository) ReleaseStuck(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE sync_jobs SET
			status = 'pending',
			locked_by = NULL,
			locked_at = NULL,
			updated_at = now()
		WHERE status = 'processing' AND locked_at < $1;
	`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, jobID string) (*models.SyncJob, error) {
	query := `
		SELECT id, type, status, payload, attempts, max_attempts, locked_by, locked_at, run_at, result, last_error, created_at, updated_at
		FROM sync_jobs WHERE id = $1;
	`
	var job models.SyncJob
	err := r.db.QueryRowContext(ctx, query, jobID).Scan(
		&job.ID, &job.Type, &job.Status, &job.Payload, &job.Attempts, &job.MaxAttempts,
		&job.LockedBy, &job.LockedAt, &job.RunAt, &job.Result, &job.LastError, &job.CreatedAt, &job.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &job, nil
}

func (r *PostgresRepository) execOwned(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return ownedRows(res)
}

// ownedRows maps "no row updated" to ErrJobNotOwned: either the lock moved
// to another worker after a TTL sweep, or the job already reached a
// terminal state.
func ownedRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrJobNotOwned
	}
	return nil
}
