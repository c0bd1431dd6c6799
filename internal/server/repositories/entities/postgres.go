package entities

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cmstack/mirrorsync/internal/common"
	"github.com/cmstack/mirrorsync/internal/dbx"
	"github.com/cmstack/mirrorsync/internal/server/models"
)

// PostgresRepository implements entity storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const entityColumns = `id, site_id, entity_type, remote_id, title, content, excerpt, status, parent_remote_id, taxonomy, custom_fields, source_url, storage_key, remote_modified_at, synced_at, pushed_at, archived_at, created_at, updated_at`

// Upsert applies the remote item under the idempotent (site_id, entity_type,
// remote_id) key. Re-applying the identical item is a harmless overwrite and
// never creates a duplicate row. The xmax trick distinguishes insert from
// update in a single statement.
func (r *PostgresRepository) Upsert(ctx context.Context, e *models.Entity) (string, bool, error) {
	query := `
		INSERT INTO entities (id, site_id, entity_type, remote_id, title, content, excerpt, status,
			parent_remote_id, taxonomy, custom_fields, source_url, storage_key, remote_modified_at, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (site_id, entity_type, remote_id)
		DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			excerpt = EXCLUDED.excerpt,
			status = EXCLUDED.status,
			parent_remote_id = EXCLUDED.parent_remote_id,
			taxonomy = EXCLUDED.taxonomy,
			custom_fields = EXCLUDED.custom_fields,
			source_url = EXCLUDED.source_url,
			storage_key = CASE WHEN EXCLUDED.storage_key <> '' THEN EXCLUDED.storage_key ELSE entities.storage_key END,
			remote_modified_at = EXCLUDED.remote_modified_at,
			synced_at = EXCLUDED.synced_at,
			archived_at = NULL,
			updated_at = now()
		RETURNING id, (xmax = 0) AS inserted;
	`
	var id string
	var inserted bool
	err := r.db.QueryRowContext(ctx, query,
		e.ID, e.SiteID, e.Type, e.RemoteID, e.Title, e.Content, e.Excerpt, e.Status,
		e.ParentRemoteID, e.Taxonomy, e.CustomFields, e.SourceURL, e.StorageKey,
		e.RemoteModifiedAt, e.SyncedAt,
	).Scan(&id, &inserted)
	if err != nil {
		return "", false, fmt.Errorf("db error: %w", err)
	}
	return id, inserted, nil
}

func (r *PostgresRepository) GetByRemote(ctx context.Context, siteID string, entityType models.EntityType, remoteID int64) (*models.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE site_id = $1 AND entity_type = $2 AND remote_id = $3;`

	var e models.Entity
	err := r.db.QueryRowContext(ctx, query, siteID, entityType, remoteID).Scan(
		&e.ID, &e.SiteID, &e.Type, &e.RemoteID, &e.Title, &e.Content, &e.Excerpt, &e.Status,
		&e.ParentRemoteID, &e.Taxonomy, &e.CustomFields, &e.SourceURL, &e.StorageKey,
		&e.RemoteModifiedAt, &e.SyncedAt, &e.PushedAt, &e.ArchivedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &e, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, localID string) (*models.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE id = $1;`

	var e models.Entity
	err := r.db.QueryRowContext(ctx, query, localID).Scan(
		&e.ID, &e.SiteID, &e.Type, &e.RemoteID, &e.Title, &e.Content, &e.Excerpt, &e.Status,
		&e.ParentRemoteID, &e.Taxonomy, &e.CustomFields, &e.SourceURL, &e.StorageKey,
		&e.RemoteModifiedAt, &e.SyncedAt, &e.PushedAt, &e.ArchivedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &e, nil
}

func (r *PostgresRepository) Archive(ctx context.Context, siteID string, entityType models.EntityType, remoteID int64) error {
	query := `
		UPDATE entities SET archived_at = now(), updated_at = now()
		WHERE site_id = $1 AND entity_type = $2 AND remote_id = $3 AND archived_at IS NULL;
	`
	if _, err := r.db.ExecContext(ctx, query, siteID, entityType, remoteID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) HasDependents(ctx context.Context, siteID string, entityType models.EntityType, remoteID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM entities
			WHERE site_id = $1 AND parent_remote_id = $2 AND entity_type = $3 AND archived_at IS NULL
		);
	`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, siteID, remoteID, entityType).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) StampPushed(ctx context.Context, siteID string, entityType models.EntityType, remoteID int64, at time.Time) error {
	query := `
		UPDATE entities SET pushed_at = $4, synced_at = $4, updated_at = now()
		WHERE site_id = $1 AND entity_type = $2 AND remote_id = $3;
	`
	res, err := r.db.ExecContext(ctx, query, siteID, entityType, remoteID, at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) AssignRemoteID(ctx context.Context, localID string, remoteID int64) error {
	query := `UPDATE entities SET remote_id = $2, updated_at = now() WHERE id = $1;`

	res, err := r.db.ExecContext(ctx, query, localID, remoteID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}
