package coststates

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cmstack/mirrorsync/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestGet_ExistingRow(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM cost_states WHERE organization_id = \$1`).
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{
			"organization_id", "tier", "monthly_usage_cents", "budget_cents", "updated_at",
		}).AddRow("o1", "blocked", 120000, 100000, time.Now()))

	s, err := repo.Get(context.Background(), "o1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Tier != models.CostTierBlocked {
		t.Fatalf("want blocked tier, got %s", s.Tier)
	}
}

func TestGet_AbsentRowDefaultsToNormal(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM cost_states`).
		WillReturnError(sql.ErrNoRows)

	s, err := repo.Get(context.Background(), "newcomer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Tier != models.CostTierNormal {
		t.Fatalf("want normal tier default, got %s", s.Tier)
	}
}
