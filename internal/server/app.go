// Package server initializes and runs the sync engine: database and
// migrations, the worker runner with its processors, the pull scheduler, and
// the webhook HTTP endpoint, with graceful shutdown on OS signals.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/cmstack/mirrorsync/internal/logging"
	"github.com/cmstack/mirrorsync/internal/server/config"
	"github.com/cmstack/mirrorsync/internal/server/mediastore"
	"github.com/cmstack/mirrorsync/internal/server/models"
	"github.com/cmstack/mirrorsync/internal/server/repositories/repomanager"
	"github.com/cmstack/mirrorsync/internal/server/scheduler"
	"github.com/cmstack/mirrorsync/internal/server/services"
	"github.com/cmstack/mirrorsync/internal/server/webhook"
	"github.com/cmstack/mirrorsync/internal/server/worker"
	"github.com/cmstack/mirrorsync/internal/wp"
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *sql.DB
	runner    *worker.Runner
	scheduler *scheduler.Scheduler
	webhook   *webhook.Server
}

func NewApp(cfg *config.Config) (*App, error) {
	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slogger)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(context.Background(), db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	origin := wp.NewClient(logger)
	creds := services.NewCredentialsService(db, rm, cfg)
	conflicts := services.NewConflictService(db, rm)
	costs := services.NewCostPolicyService(db, rm)
	embedder := services.NewEmbeddingService(db, rm, cfg, logger, costs)

	var media services.MediaStore
	if cfg.MediaMirrorEnabled {
		media = mediastore.NewS3Store(cfg)
	}

	syncSvc := services.NewSyncService(db, rm, cfg, logger, origin, creds, conflicts, embedder, media)
	pullSvc := services.NewPullService(db, rm, cfg, logger, origin, creds)
	pushSvc := services.NewPushService(db, rm, cfg, logger, origin, creds)

	runner := worker.NewRunner(db, rm, cfg, logger)
	registerProcessors(runner, creds, syncSvc, pullSvc, logger)

	sched := scheduler.NewScheduler(db, rm, cfg, logger, runner)
	hook := webhook.NewServer(db, rm, cfg, logger, creds, pushSvc, runner)

	return &App{
		config:    cfg,
		logger:    logger,
		db:        db,
		runner:    runner,
		scheduler: sched,
		webhook:   hook,
	}, nil
}

// registerProcessors binds each queue job type to its service method. The
// embed_index handler only acknowledges the hand-off: the indexing pipeline
// itself is a downstream consumer outside this system.
func registerProcessors(runner *worker.Runner, creds *services.CredentialsService,
	syncSvc *services.SyncService, pullSvc *services.PullService, logger logging.Logger) {

	runner.Register(models.JobTypeFullSync, func(ctx context.Context, job *models.SyncJob, payload any) (json.RawMessage, error) {
		p := payload.(*models.FullSyncPayload)
		site, _, err := creds.Resolve(ctx, p.SiteID)
		if err != nil {
			return nil, err
		}
		result, err := syncSvc.FullSync(ctx, site, p.EntityType, p.BatchSize, p.CorrelationID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	})

	runner.Register(models.JobTypeIncrementalPull, func(ctx context.Context, job *models.SyncJob, payload any) (json.RawMessage, error) {
		p := payload.(*models.IncrementalPullPayload)
		result, err := pullSvc.PullIncremental(ctx, p.SiteID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	})

	runner.Register(models.JobTypeIncrementalSync, func(ctx context.Context, job *models.SyncJob, payload any) (json.RawMessage, error) {
		p := payload.(*models.IncrementalSyncPayload)
		result, err := syncSvc.ProcessIncremental(ctx, p)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	})

	runner.Register(models.JobTypeEmbedIndex, func(ctx context.Context, job *models.SyncJob, payload any) (json.RawMessage, error) {
		p := payload.(*models.EmbedIndexPayload)
		logger.Info(ctx, "embed job handed to indexing pipeline",
			"chunk_set_id", p.ChunkSetID, "source_id", p.SourceID, "correlation_id", p.CorrelationID)
		return json.Marshal(map[string]string{"chunkSetId": p.ChunkSetID})
	})
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting sync engine")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.runner.Run(ctx); err != nil && ctx.Err() == nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.webhook.Run(ctx); err != nil && ctx.Err() == nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "closing db", "error", err)
	}
	app.logger.Info(ctx, "sync engine stopped")
}
