// Package repomanager hands out repository constructors bound to a DBTX and
// runs schema migrations.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/cmstack/mirrorsync/internal/dbx"
	"github.com/cmstack/mirrorsync/internal/server/repositories/chunksets"
	"github.com/cmstack/mirrorsync/internal/server/repositories/conflicts"
	"github.com/cmstack/mirrorsync/internal/server/repositories/coststates"
	"github.com/cmstack/mirrorsync/internal/server/repositories/entities"
	"github.com/cmstack/mirrorsync/internal/server/repositories/jobs"
	"github.com/cmstack/mirrorsync/internal/server/repositories/sites"
)

// RepositoryManager builds repositories over a *sql.DB or *sql.Tx, so a
// service can run several repositories inside one transaction.
type RepositoryManager interface {
	Jobs(db dbx.DBTX) jobs.Repository
	Sites(db dbx.DBTX) sites.Repository
	Entities(db dbx.DBTX) entities.Repository
	Conflicts(db dbx.DBTX) conflicts.Repository
	ChunkSets(db dbx.DBTX) chunksets.Repository
	CostStates(db dbx.DBTX) coststates.Repository
	RunMigrations(ctx context.Context, db *sql.DB) error
}
