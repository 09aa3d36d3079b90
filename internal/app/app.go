// Package app assembles the crawler's dependencies and runs one crawl.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kibblewatch/crawler/internal/api"
	"github.com/kibblewatch/crawler/internal/archive/gcs"
	"github.com/kibblewatch/crawler/internal/archive/local"
	"github.com/kibblewatch/crawler/internal/clock/system"
	"github.com/kibblewatch/crawler/internal/config"
	"github.com/kibblewatch/crawler/internal/crawler"
	"github.com/kibblewatch/crawler/internal/dedup"
	"github.com/kibblewatch/crawler/internal/gateway"
	"github.com/kibblewatch/crawler/internal/logging"
	"github.com/kibblewatch/crawler/internal/metrics"
	"github.com/kibblewatch/crawler/internal/orchestrator"
	"github.com/kibblewatch/crawler/internal/parse"
	memorypublisher "github.com/kibblewatch/crawler/internal/publisher/memory"
	gcppublisher "github.com/kibblewatch/crawler/internal/publisher/pubsub"
	"github.com/kibblewatch/crawler/internal/queue"
	pgstore "github.com/kibblewatch/crawler/internal/storage/postgres"
	"github.com/kibblewatch/crawler/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	pool         *pgxpool.Pool
	itemStore    *pgstore.ItemStore
	runStore     *pgstore.RunStore
	redisClient  *redis.Client
	pubPublisher *gcppublisher.Publisher
	gcsArchive   *gcs.BlobStore

	queue     *queue.Queue
	orch      *orchestrator.Orchestrator
	apiServer *api.Server
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.String("base_url", cfg.Site.BaseURL),
		zap.Int("workers", cfg.Crawler.Workers),
	)

	if err := a.setupDatabase(ctx); err != nil {
		return nil, err
	}

	seen := a.setupSeenCache()

	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}

	blobStore, err := a.setupArchive(ctx)
	if err != nil {
		return nil, err
	}

	identities, err := gateway.NewIdentitySource(ctx, gateway.IdentityConfig{
		UserAgents:  cfg.Identity.UserAgents,
		ProxyAPIURL: cfg.Identity.ProxyAPIURL,
		ProxyAPIKey: cfg.Identity.ProxyAPIKey,
		AllowDirect: cfg.Identity.AllowDirect,
	}, logger.Named("identity"))
	if err != nil {
		return nil, fmt.Errorf("identity source init failed: %w", err)
	}

	gw := gateway.New(identities, gateway.Config{
		Timeout:      cfg.Timeout(),
		MaxAttempts:  cfg.HTTP.MaxAttempts,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		PerHostRPS:   cfg.HTTP.PerHostRPS,
		PerHostBurst: cfg.HTTP.PerHostBurst,
	}, logger.Named("gateway"))

	parser := parse.New()
	clock := system.New()
	a.queue = queue.New()

	workerCfg := worker.Config{
		BaseURL:       cfg.Site.BaseURL,
		Delay:         cfg.Delay(),
		ArchivePrefix: cfg.Archive.Prefix,
		Topic:         cfg.PubSub.TopicName,
	}
	workers := make([]*worker.Worker, cfg.Crawler.Workers)
	for i := range workers {
		workers[i] = worker.New(
			a.queue,
			gw,
			parser,
			parser,
			a.itemStore,
			seen,
			publisher,
			blobStore,
			clock,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		)
	}
	pool := worker.NewPool(a.queue, workers)

	a.orch = orchestrator.New(orchestrator.Config{
		SearchURL: cfg.Site.SearchURL,
		Pages:     cfg.Site.Pages,
		Force:     cfg.Crawler.Force,
	}, a.queue, pool, gw, parser, a.runStore, clock, logger.Named("orchestrator"))

	a.apiServer = api.NewServer(a.itemStore, logger.Named("api"))
	return a, nil
}

// Run serves the ops endpoints, executes one crawl and shuts down. SIGINT
// and SIGTERM cancel the crawl context.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("ops server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("ops server error", zap.Error(err))
		}
	}()

	runErr := a.orch.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("ops server shutdown error", zap.Error(err))
	}
	return runErr
}

// Close gracefully releases client connections.
func (a *App) Close() {
	if a.pubPublisher != nil {
		if err := a.pubPublisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.gcsArchive != nil {
		if err := a.gcsArchive.Close(); err != nil {
			a.logger.Warn("gcs archive close failed", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

func (a *App) setupDatabase(ctx context.Context) error {
	pool, err := pgstore.Connect(ctx, pgstore.PoolConfig{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	a.pool = pool

	a.itemStore, err = pgstore.NewItemStoreWithDB(pool, a.logger.Named("item_store"))
	if err != nil {
		return fmt.Errorf("item store init failed: %w", err)
	}
	a.runStore, err = pgstore.NewRunStore(pool, a.logger.Named("run_store"))
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	a.logger.Info("postgres stores initialized")
	return nil
}

func (a *App) setupSeenCache() crawler.SeenCache {
	if a.cfg.Redis.Addr == "" {
		a.logger.Info("no redis address configured, seen cache disabled")
		return nil
	}
	a.redisClient = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	a.logger.Info("redis seen cache initialized",
		zap.String("addr", a.cfg.Redis.Addr),
		zap.Duration("ttl", a.cfg.SeenTTL()),
	)
	return dedup.New(a.redisClient, a.cfg.SeenTTL())
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.New(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.pubPublisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return pub, nil
}

func (a *App) setupArchive(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Archive.Backend {
	case "gcs":
		store, err := gcs.New(ctx, a.cfg.Archive.Bucket)
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.gcsArchive = store
		a.logger.Info("using GCS page archive", zap.String("bucket", a.cfg.Archive.Bucket))
		return store, nil
	case "local":
		store, err := local.New(a.cfg.Archive.BaseDir)
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("using local page archive", zap.String("base_dir", a.cfg.Archive.BaseDir))
		return store, nil
	default:
		a.logger.Info("page archiving disabled")
		return nil, nil
	}
}
