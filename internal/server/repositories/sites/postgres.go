package sites

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

// PostgresRepository implements site storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const siteColumns = `id, organization_id, base_url, auth_mode, auth_user, auth_secret_enc, webhook_secret_enc, last_sync_at, created_at, updated_at`

func (r *PostgresRepository) GetByID(ctx context.Context, siteID string) (*models.Site, error) {
	query := `SELECT ` + siteColumns + ` FROM sites WHERE id = $1;`

	var s models.Site
	err := r.db.QueryRowContext(ctx, query, siteID).Scan(
		&s.ID, &s.OrganizationID, &s.BaseURL, &s.AuthMode, &s.AuthUser,
		&s.AuthSecretEnc, &s.WebhookSecretEnc, &s.LastSyncAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &s, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*models.Site, error) {
	query := `SELECT ` + siteColumns + ` FROM sites ORDER BY created_at;`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Site
	for rows.Next() {
		var s models.Site
		if err := rows.Scan(
			&s.ID, &s.OrganizationID, &s.BaseURL, &s.AuthMode, &s.AuthUser,
			&s.AuthSecretEnc, &s.WebhookSecretEnc, &s.LastSyncAt, &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Create(ctx context.Context, site *models.Site) error {
	query := `
		INSERT INTO sites (id, organization_id, base_url, auth_mode, auth_user, auth_secret_enc, webhook_secret_enc)
		VALUES ($1, $2, $3, $4, $5, $6, $7);
	`
	_, err := r.db.ExecContext(ctx, query,
		site.ID, site.OrganizationID, site.BaseURL, site.AuthMode, site.AuthUser,
		site.AuthSecretEnc, site.WebhookSecretEnc)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// AdvanceWatermark is conditional on the current value so a late or
// concurrent pull can never move the watermark backwards.
func (r *PostgresRepository) AdvanceWatermark(ctx context.Context, siteID string, to time.Time) error {
	query := `
		UPDATE sites SET last_sync_at = $2, updated_at = now()
		WHERE id = $1 AND (last_sync_at IS NULL OR last_sync_at <= $2);
	`
	res, err := r.db.ExecContext(ctx, query, siteID, to)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrWatermarkRegression
	}
	return nil
}
