package chunksets

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cmstack/mirrorsync/internal/common"
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

func TestActiveHash_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT content_hash FROM chunk_sets .* AND active`).
		WithArgs("s1", "page", "page-9").
		WillReturnRows(sqlmock.NewRows([]string{"content_hash"}).AddRow("abc123"))

	hash, err := repo.ActiveHash(context.Background(), "s1", models.EntityTypePage, "page-9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hash != "abc123" {
		t.Fatalf("want abc123, got %s", hash)
	}
}

func TestActiveHash_NoActiveSet(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT content_hash FROM chunk_sets`).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.ActiveHash(context.Background(), "s1", models.EntityTypePage, "page-9")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestDeactivateActive_BatchUpdate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE chunk_sets SET active = FALSE, deactivated_at = now\(\)`).
		WithArgs("s1", "post", "post-3").
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := repo.DeactivateActive(context.Background(), "s1", models.EntityTypePost, "post-3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("want 1 retired set, got %d", n)
	}
}

func TestInsert_NewActiveSet(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO chunk_sets .* VALUES \(\$1, \$2, \$3, \$4, \$5, TRUE\)`).
		WithArgs("cs1", "s1", "page", "page-9", "abc123").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Insert(context.Background(), &models.ChunkSet{
		ID:          "cs1",
		SiteID:      "s1",
		SourceType:  models.EntityTypePage,
		SourceID:    "page-9",
		ContentHash: "abc123",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
