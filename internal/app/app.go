package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/bugreport-api/internal/repository"
	"github.com/noah-isme/bugreport-api/internal/service"
	"github.com/noah-isme/bugreport-api/pkg/cache"
	"github.com/noah-isme/bugreport-api/pkg/clock"
	"github.com/noah-isme/bugreport-api/pkg/config"
	"github.com/noah-isme/bugreport-api/pkg/database"
	"github.com/noah-isme/bugreport-api/pkg/middleware/ratelimit"
	"github.com/noah-isme/bugreport-api/pkg/storage"
	"github.com/noah-isme/bugreport-api/pkg/tracing"
)

const (
	shutdownTimeout = 5 * time.Second
	cachePrefix     = "bugreport:"
)

// App owns the process wide dependencies of the API server.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	DB      *sqlx.DB
	Redis   *redis.Client
	Router  *gin.Engine
	Metrics *service.MetricsService
	Tokens  *service.TokenService
	Sweeper *service.ArchiveSweeper
	Janitor *service.BlobJanitor

	services *services
	limiter  *ratelimit.Limiter
	closers  []func(context.Context) error
	workers  sync.WaitGroup
}

type services struct {
	reports  *service.ReportService
	statuses *service.StatusService
	users    *service.UserService
}

// New connects to the database, cache and blob store and wires every service.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger, Metrics: service.NewMetricsService()}

	shutdownTracing, err := tracing.Init(cfg.Tracing)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdownTracing)

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, func(context.Context) error { return db.Close() })

	if cfg.Database.AutoMigrate {
		if err := database.MigrateUp(db.DB); err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	rdb, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logger.Warn("redis unavailable, caching disabled", zap.Error(err))
	} else {
		a.Redis = rdb
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
	}

	blobs, err := newBlobStore(ctx, cfg.Storage)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.wire(blobs)

	if cfg.Database.SeedOnStartup {
		if err := a.services.statuses.Seed(ctx); err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("seed statuses: %w", err)
		}
	}

	a.Router = a.newRouter()
	return a, nil
}

func (a *App) wire(blobs service.BlobStore) {
	cfg := a.Config
	validate := service.NewValidator()
	ids := clock.UUIDs{}
	clk := clock.Real{}

	reportRepo := repository.NewReportRepository(a.DB)
	userRepo := repository.NewUserRepository(a.DB)
	statusRepo := repository.NewStatusRepository(a.DB)
	archiveRepo := repository.NewArchiveRepository(a.DB)
	cacheRepo := repository.NewCacheRepository(a.Redis, cachePrefix)

	cacheSvc := service.NewCacheService(cacheRepo, a.Metrics, cfg.Redis.CacheTTL, a.Logger, a.Redis != nil)
	statusSvc := service.NewStatusService(statusRepo, cacheSvc, ids, a.Logger)
	userSvc := service.NewUserService(userRepo, validate, clk, a.Logger)

	a.Tokens = service.NewTokenService(cfg.JWT, clk)
	a.Janitor = service.NewBlobJanitor(blobs, cfg.Jobs, a.Metrics, a.Logger)
	a.Sweeper = service.NewArchiveSweeper(archiveRepo, userRepo, cfg.Archive, clk, ids, a.Metrics, a.Logger)

	signer := storage.NewSignedURLSigner(cfg.Storage.SignedURLSecret, cfg.Storage.SignedURLTTL)
	reportSvc := service.NewReportService(service.ReportDeps{
		Reports:          reportRepo,
		Users:            userRepo,
		Statuses:         statusSvc,
		Blobs:            blobs,
		Janitor:          a.Janitor,
		Signer:           signer,
		Validator:        validate,
		Clock:            clk,
		IDs:              ids,
		Metrics:          a.Metrics,
		Logger:           a.Logger,
		MaxFileSize:      cfg.Storage.MaxFileSizeBytes,
		DownloadBasePath: cfg.APIPrefix,
	})

	a.services = &services{reports: reportSvc, statuses: statusSvc, users: userSvc}
}

func newBlobStore(ctx context.Context, cfg config.StorageConfig) (service.BlobStore, error) {
	switch cfg.Backend {
	case config.StorageBackendMinio:
		store, err := storage.NewMinioStorage(cfg.Minio)
		if err != nil {
			return nil, fmt.Errorf("init minio storage: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure minio bucket: %w", err)
		}
		return store, nil
	case config.StorageBackendLocal, "":
		store, err := storage.NewLocalStorage(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Run serves HTTP and runs the background workers until ctx is cancelled,
// then drains in-flight requests and waits for the workers to return.
func (a *App) Run(ctx context.Context) error {
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer a.stopJanitor()
	defer a.waitWorkers(shutdownTimeout)
	defer stopWorkers()

	a.Janitor.Start(workerCtx)
	if a.Config.Archive.Enabled {
		a.goWorker(func() { a.Sweeper.Run(workerCtx) })
	}
	if a.limiter != nil {
		a.goWorker(func() { a.sweepLimiter(workerCtx) })
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.Port),
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", a.Config.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.Logger.Info("server exited")
	return nil
}

func (a *App) stopJanitor() {
	if pending := a.Janitor.Pending(); pending > 0 {
		a.Logger.Warn("dropping queued blob deletions", zap.Int("pending", pending))
	}
	a.Janitor.Stop()
}

func (a *App) goWorker(fn func()) {
	a.workers.Add(1)
	go func() {
		defer a.workers.Done()
		fn()
	}()
}

// waitWorkers blocks until every worker returned or timeout elapsed.
func (a *App) waitWorkers(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		a.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		a.Logger.Warn("background workers still running after shutdown timeout", zap.Duration("timeout", timeout))
	}
}

func (a *App) sweepLimiter(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := a.limiter.Sweep(); removed > 0 {
				a.Logger.Debug("rate limiter buckets dropped", zap.Int("count", removed))
			}
		}
	}
}

// Close releases every connection in reverse order of acquisition. It still
// flushes when ctx is already cancelled.
func (a *App) Close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.Logger.Warn("close dependency", zap.Error(err))
		}
	}
	a.closers = nil
}
