// Package app wires configuration, storage, the job queue and the
// pipelines into a runnable worker process.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"dailybrief/internal/briefing"
	"dailybrief/internal/classify"
	"dailybrief/internal/config"
	"dailybrief/internal/domain"
	"dailybrief/internal/logging"
	"dailybrief/internal/narration"
	"dailybrief/internal/normalize"
	"dailybrief/internal/ports"
	"dailybrief/internal/queue"
	"dailybrief/internal/scheduler"
	"dailybrief/internal/source"
	"dailybrief/internal/storage"
	"dailybrief/internal/usecase"
)

// Application owns the external connections and the scheduler components.
type Application struct {
	cfg     config.Config
	pool    *pgxpool.Pool
	rdb     *redis.Client
	planner *scheduler.Planner
	workers *scheduler.Pool
}

// New builds the full application from configuration.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	pool, err := pgxpool.New(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	store := storage.New(pool)

	jobQueue := queue.New(rdb, queue.Config{
		Stream: cfg.Queue.Stream,
		Group:  cfg.Queue.Group,
		Block:  cfg.Queue.Block(),
	}, baseLogger.With("component", "queue"))
	if err := jobQueue.EnsureGroup(ctx); err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("ensure consumer group: %w", err)
	}

	connectors, err := buildConnectors(cfg.Sources, rdb)
	if err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, err
	}

	classifier := classify.New(cfg.Classifier)

	syncPipeline := usecase.NewSyncPipeline(usecase.SyncDeps{
		Connectors: connectors,
		Normalizer: normalize.New(cfg.Normalizer.BodyPrefixBytes),
		Deduper:    normalize.NewDeduper(store.GroupByFingerprint),
		Classifier: classifier,
		Content:    store,
		States:     storage.NewSyncStates(pool),
		Logger:     baseLogger.With("component", "sync"),
	})

	compiler := briefing.NewCompiler(store, store, classifier, briefing.Options{
		MaxItems: cfg.Briefing.MaxItems,
		MinScore: cfg.Briefing.MinScore,
		Lookback: cfg.Briefing.LookbackFor(),
	}, baseLogger.With("component", "compiler"))

	var narrator ports.Narrator
	if cfg.Narration.Endpoint != "" {
		narrator = narration.NewClient(cfg.Narration)
	}

	briefingPipeline := usecase.NewBriefingPipeline(compiler, store, narrator,
		baseLogger.With("component", "briefing"))

	workers := scheduler.NewPool(jobQueue, scheduler.RetryPolicy{
		InitialInterval: cfg.Scheduler.Retry.Initial(),
		MaxInterval:     cfg.Scheduler.Retry.Max(),
		Multiplier:      cfg.Scheduler.Retry.Multiplier,
		MaxAttempts:     cfg.Scheduler.Retry.MaxAttempts,
	}, cfg.Scheduler.Workers, cfg.Queue.Consumer, baseLogger.With("component", "workers"))

	workerLogger := baseLogger.With("component", "handler")
	workers.Register(domain.JobKindSync,
		scheduler.NewSyncHandler(jobQueue, syncPipeline, cfg.Queue.Lock(), workerLogger))
	workers.Register(domain.JobKindBriefing,
		scheduler.NewBriefingHandler(jobQueue, briefingPipeline, cfg.Scheduler.Retry.Initial(), workerLogger))
	workers.Register(domain.JobKindNarrate,
		scheduler.NewNarrateHandler(briefingPipeline))

	planner := scheduler.NewPlanner(jobQueue,
		sourceSchedules(cfg.Sources),
		ownerSchedules(cfg.Briefing),
		cfg.Scheduler.TickEvery(),
		cfg.Scheduler.Location(),
		baseLogger.With("component", "planner"))

	return &Application{
		cfg:     cfg,
		pool:    pool,
		rdb:     rdb,
		planner: planner,
		workers: workers,
	}, nil
}

func buildConnectors(sources []config.SourceConfig, rdb *redis.Client) (map[string]ports.Connector, error) {
	registry := source.NewRegistry()
	registry.Register(source.KindFeed, func(cfg config.SourceConfig) (ports.Connector, error) {
		return source.NewFeedConnector(cfg.ID, cfg.URL, nil), nil
	})
	registry.Register(source.KindAPI, func(cfg config.SourceConfig) (ports.Connector, error) {
		return source.NewAPIConnector(cfg.ID, cfg.URL, cfg.APIKey), nil
	})
	registry.Register(source.KindWebhook, func(cfg config.SourceConfig) (ports.Connector, error) {
		return source.NewWebhookConnector(cfg.ID, cfg.Stream, rdb), nil
	})

	connectors := make(map[string]ports.Connector, len(sources))
	for _, src := range sources {
		conn, err := registry.Build(src)
		if err != nil {
			return nil, fmt.Errorf("build connector %s: %w", src.ID, err)
		}
		connectors[src.ID] = conn
	}

	return connectors, nil
}

func sourceSchedules(sources []config.SourceConfig) []scheduler.SourceSchedule {
	schedules := make([]scheduler.SourceSchedule, 0, len(sources))
	for _, src := range sources {
		schedules = append(schedules, scheduler.SourceSchedule{
			SourceID: src.ID,
			Every:    src.SyncEvery(),
		})
	}
	return schedules
}

func ownerSchedules(cfg config.BriefingConfig) []scheduler.OwnerSchedule {
	schedules := make([]scheduler.OwnerSchedule, 0, len(cfg.Owners))
	for _, owner := range cfg.Owners {
		schedules = append(schedules, scheduler.OwnerSchedule{
			OwnerID: owner.ID,
			At:      owner.At,
			Window:  cfg.WindowFor(),
		})
	}
	return schedules
}

// Run drives the planner and the worker pool until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.planner.Run(ctx) })
	g.Go(func() error { return a.workers.Run(ctx) })
	return g.Wait()
}

// Close releases the database and Redis connections.
func (a *Application) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}
