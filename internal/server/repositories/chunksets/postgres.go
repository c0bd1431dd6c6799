package chunksets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cmstack/mirrorsync/internal/common"
	"github.com/cmstack/mirrorsync/internal/dbx"
	"github.com/cmstack/mirrorsync/internal/server/models"
)

// PostgresRepository implements chunk-set storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) ActiveHash(ctx context.Context, siteID string, sourceType models.EntityType, sourceID string) (string, error) {
	query := `
		SELECT content_hash FROM chunk_sets
		WHERE site_id = $1 AND source_type = $2 AND source_id = $3 AND active;
	`
	var hash string
	err := r.db.QueryRowContext(ctx, query, siteID, sourceType, sourceID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", common.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("db error: %w", err)
	}
	return hash, nil
}

func (r *PostgresRepository) DeactivateActive(ctx context.Context, siteID string, sourceType models.EntityType, sourceID string) (int64, error) {
	query := `
		UPDATE chunk_sets SET active = FALSE, deactivated_at = now()
		WHERE site_id = $1 AND source_type = $2 AND source_id = $3 AND active;
	`
	res, err := r.db.ExecContext(ctx, query, siteID, sourceType, sourceID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, cs *models.ChunkSet) error {
	query := `
		INSERT INTO chunk_sets (id, site_id, source_type, source_id, content_hash, active)
		VALUES ($1, $2, $3, $4, $5, TRUE);
	`
	if _, err := r.db.ExecContext(ctx, query, cs.ID, cs.SiteID, cs.SourceType, cs.SourceID, cs.ContentHash); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
