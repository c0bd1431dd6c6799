package coststates

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cmstack/mirrorsync/internal/dbx"
	"github.com/cmstack/mirrorsync/internal/server/models"
)

// PostgresRepository implements cost-state storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, organizationID string) (*models.CostState, error) {
	query := `
		SELECT organization_id, tier, monthly_usage_cents, budget_cents, updated_at
		FROM cost_states WHERE organization_id = $1;
	`
	var s models.CostState
	err := r.db.QueryRowContext(ctx, query, organizationID).Scan(
		&s.OrganizationID, &s.Tier, &s.MonthlyUsageCents, &s.BudgetCents, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		// Absent row means the tenant has no special standing.
		return &models.CostState{OrganizationID: organizationID, Tier: models.CostTierNormal}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &s, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, state *models.CostState) error {
	query := `
		INSERT INTO cost_states (organization_id, tier, monthly_usage_cents, budget_cents)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (organization_id)
		DO UPDATE SET
			tier = EXCLUDED.tier,
			monthly_usage_cents = EXCLUDED.monthly_usage_cents,
			budget_cents = EXCLUDED.budget_cents,
			updated_at = now();
	`
	_, err := r.db.ExecContext(ctx, query,
		state.OrganizationID, state.Tier, state.MonthlyUsageCents, state.BudgetCents)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
