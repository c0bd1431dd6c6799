package conflicts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cmstack/mirrorsync/internal/common"
	"github.com/cmstack/mirrorsync/internal/dbx"
	"github.com/cmstack/mirrorsync/internal/server/models"
)

// PostgresRepository implements conflict storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const conflictColumns = `id, organization_id, site_id, entity_type, remote_id, local_id, conflict_type, local_snapshot, remote_snapshot, resolution_status, resolved_by, resolution_note, detected_at, resolved_at`

func (r *PostgresRepository) Create(ctx context.Context, c *models.SyncConflict) error {
	query := `
		INSERT INTO sync_conflicts (id, organization_id, site_id, entity_type, remote_id, local_id,
			conflict_type, local_snapshot, remote_snapshot, resolution_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'open');
	`
	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.OrganizationID, c.SiteID, c.EntityType, c.RemoteID, c.LocalID,
		c.ConflictType, c.LocalSnapshot, c.RemoteSnapshot)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.SyncConflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM sync_conflicts WHERE id = $1;`

	var c models.SyncConflict
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.OrganizationID, &c.SiteID, &c.EntityType, &c.RemoteID, &c.LocalID,
		&c.ConflictType, &c.LocalSnapshot, &c.RemoteSnapshot, &c.ResolutionStatus,
		&c.ResolvedBy, &c.ResolutionNote, &c.DetectedAt, &c.ResolvedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &c, nil
}

func (r *PostgresRepository) ListOpen(ctx context.Context, siteID string) ([]*models.SyncConflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM sync_conflicts WHERE site_id = $1 AND resolution_status = 'open' ORDER BY detected_at;`

	rows, err := r.db.QueryContext(ctx, query, siteID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.SyncConflict
	for rows.Next() {
		var c models.SyncConflict
		if err := rows.Scan(
			&c.ID, &c.OrganizationID, &c.SiteID, &c.EntityType, &c.RemoteID, &c.LocalID,
			&c.ConflictType, &c.LocalSnapshot, &c.RemoteSnapshot, &c.ResolutionStatus,
			&c.ResolvedBy, &c.ResolutionNote, &c.DetectedAt, &c.ResolvedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Resolve(ctx context.Context, id, resolvedBy, note string) error {
	return r.transition(ctx, id, models.ResolutionStatusResolved, resolvedBy, note)
}

func (r *PostgresRepository) Ignore(ctx context.Context, id, resolvedBy, note string) error {
	return r.transition(ctx, id, models.ResolutionStatusIgnored, resolvedBy, note)
}

// transition moves an open conflict to a terminal status. The WHERE clause
// restricts the update to open rows; a no-op on an already-closed conflict
// is not an error, so both mutators are idempotent.
func (r *PostgresRepository) transition(ctx context.Context, id string, to models.ResolutionStatus, resolvedBy, note string) error {
	query := `
		UPDATE sync_conflicts SET
			resolution_status = $2,
			resolved_by = $3,
			resolution_note = $4,
			resolved_at = now()
		WHERE id = $1 AND resolution_status = 'open';
	`
	res, err := r.db.ExecContext(ctx, query, id, to, resolvedBy, note)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 1 {
		return nil
	}

	// Nothing updated: distinguish "already closed" from "missing".
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return nil
}
