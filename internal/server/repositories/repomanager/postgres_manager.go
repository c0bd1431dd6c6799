package repomanager

import (
	"context"
	"database/sql"

	"github.com/cmstack/mirrorsync/internal/dbx"
	"github.com/cmstack/mirrorsync/internal/server/migrations"
	"github.com/cmstack/mirrorsync/internal/server/repositories/chunksets"
	"github.com/cmstack/mirrorsync/internal/server/repositories/conflicts"
	"github.com/cmstack/mirrorsync/internal/server/repositories/coststates"
	"github.com/cmstack/mirrorsync/internal/server/repositories/entities"
	"github.com/cmstack/mirrorsync/internal/server/repositories/jobs"
	"github.com/cmstack/mirrorsync/internal/server/repositories/sites"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

type PostgresRepositoryManager struct {
}

func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}

func (m *PostgresRepositoryManager) Jobs(db dbx.DBTX) jobs.Repository {
	return jobs.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Sites(db dbx.DBTX) sites.Repository {
	return sites.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Entities(db dbx.DBTX) entities.Repository {
	return entities.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Conflicts(db dbx.DBTX) conflicts.Repository {
	return conflicts.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) ChunkSets(db dbx.DBTX) chunksets.Repository {
	return chunksets.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) CostStates(db dbx.DBTX) coststates.Repository {
	return coststates.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return err
	}

	return nil
}
