// Package server builds the application's dependency graph and owns its
// lifecycle: HTTP server, task queue worker, scheduler and delivery clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	goredis "github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/causelist-crawler/internal/api"
	"github.com/JakeFAU/causelist-crawler/internal/causelist"
	"github.com/JakeFAU/causelist-crawler/internal/clock/system"
	"github.com/JakeFAU/causelist-crawler/internal/config"
	"github.com/JakeFAU/causelist-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/causelist-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/causelist-crawler/internal/id/uuid"
	"github.com/JakeFAU/causelist-crawler/internal/lock"
	"github.com/JakeFAU/causelist-crawler/internal/logging"
	"github.com/JakeFAU/causelist-crawler/internal/metrics"
	"github.com/JakeFAU/causelist-crawler/internal/notify"
	"github.com/JakeFAU/causelist-crawler/internal/orchestrator"
	"github.com/JakeFAU/causelist-crawler/internal/pdftext"
	"github.com/JakeFAU/causelist-crawler/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/causelist-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/causelist-crawler/internal/queue/memory"
	"github.com/JakeFAU/causelist-crawler/internal/scheduler"
	"github.com/JakeFAU/causelist-crawler/internal/search"
	"github.com/JakeFAU/causelist-crawler/internal/site"
	gcsstorage "github.com/JakeFAU/causelist-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/causelist-crawler/internal/storage/local"
	"github.com/JakeFAU/causelist-crawler/internal/telemetry"
	"github.com/JakeFAU/causelist-crawler/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg          *config.Config
	logger       *zap.Logger
	clock        *system.Clock
	apiServer    *api.Server
	queue        *queueMemory.Queue
	dispatch     *dispatcher.Dispatcher
	orchestrator *orchestrator.Orchestrator
	scheduler    *scheduler.Scheduler

	localLock    *lock.Local
	redisLock    *lock.Redis
	redisClient  *goredis.Client
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	storage      *storage.Client
	tracer       *sdktrace.TracerProvider
}

// Build creates the application's dependencies from cfg.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with an injected logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	metrics.Init()
	app := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(cfg.Location()),
	}
	app.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("timezone", cfg.Timezone),
		zap.Bool("auth_enabled", cfg.Auth.Enabled),
	)

	if cfg.Telemetry.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Telemetry.ServiceName,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("telemetry init failed: %w", err)
		}
		app.tracer = tp
	}

	exclusive, err := app.setupLock(ctx)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	notifier, err := app.setupNotifier(ctx)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.HTTP.RequestsPerSecond,
		DefaultBurst: cfg.HTTP.Burst,
	})
	retry := collyfetcher.DefaultRetryConfig()
	retry.MaxRetries = cfg.HTTP.MaxRetries
	if cfg.HTTP.BackoffInitialMs > 0 {
		retry.InitialBackoff = time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond
	}
	if cfg.HTTP.BackoffMaxMs > 0 {
		retry.MaxBackoff = time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Site.UserAgent,
		Timeout:      cfg.RequestTimeout(),
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		Limiter:      limiter,
		Retry:        retry,
	})
	session := site.New(site.Config{
		MainBaseURL:      cfg.Site.MainBaseURL,
		CauseListBaseURL: cfg.Site.CauseListBaseURL,
		CauseListFormURL: cfg.Site.CauseListFormURL,
		CaseSearchURL:    cfg.Site.CaseSearchURL,
		CaseDetailsURL:   cfg.Site.CaseDetailsURL,
		JudgeWiseURL:     cfg.Site.JudgeWiseURL,
		SessionCookie:    cfg.Site.SessionCookie,
	}, fetcher, logging.Component(logger, "site"))
	searcher := search.New(fetcher, pdftext.New(), search.Config{
		Workers:  cfg.Search.Workers,
		MinDelay: time.Duration(cfg.Search.MinDelayMs) * time.Millisecond,
		MaxDelay: time.Duration(cfg.Search.MaxDelayMs) * time.Millisecond,
	}, logging.Component(logger, "search"))

	ids := uuid.New("")
	app.queue = queueMemory.NewQueue()
	workerCfg := worker.DefaultConfig()
	workerCfg.FirstRetryDelay = cfg.FirstRetryDelay()
	workerCfg.RetryDelay = cfg.RetryDelay()
	workerCfg.LockPollInterval = cfg.LockPollInterval()
	w := worker.New(app.queue, exclusive, app.clock, workerCfg, logging.Component(logger, "worker"))
	app.dispatch = dispatcher.New(app.queue, w, ids, app.clock, exclusive,
		dispatcher.Config{MaxAttempts: cfg.Queue.MaxAttempts}, logging.Component(logger, "dispatcher"))

	app.orchestrator = orchestrator.New(session, searcher, app.dispatch, notifier, ids, app.clock,
		orchestrator.Config{DefaultRecipients: cfg.Notify.Recipients, Location: cfg.Location()},
		logging.Component(logger, "orchestrator"))

	if cfg.Schedule.Enabled {
		app.scheduler, err = scheduler.New(scheduler.Config{
			Cron:        cfg.Schedule.Cron,
			SearchTerms: cfg.Schedule.SearchTerms,
			Location:    cfg.Location(),
		}, app.orchestrator, app.clock, logging.Component(logger, "scheduler"))
		if err != nil {
			app.closeInfrastructure()
			return nil, fmt.Errorf("scheduler init failed: %w", err)
		}
	}

	app.apiServer = api.NewServer(app.orchestrator, app.dispatch, cfg.Auth, logging.Component(logger, "api"))
	return app, nil
}

// Handler exposes the HTTP router.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Orchestrator exposes the search pipeline for one-shot runs.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orchestrator
}

// Dispatcher exposes the task queue.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatch
}

// Clock exposes the configured clock.
func (a *App) Clock() causelist.Clock {
	return a.clock
}

// Logger exposes the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// AcquireExclusive takes the shared exclusive lock so queued jobs pause while
// the caller runs. The returned func releases it.
func (a *App) AcquireExclusive(ctx context.Context, owner string, ttl time.Duration) (func(), error) {
	if a.redisLock != nil {
		ok, err := a.redisLock.TryAcquire(ctx, owner, ttl)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New("exclusive lock already held")
		}
		return func() {
			if err := a.redisLock.Release(context.WithoutCancel(ctx), owner); err != nil {
				a.logger.Warn("exclusive lock release failed", zap.Error(err))
			}
		}, nil
	}
	if !a.localLock.TryAcquire() {
		return nil, errors.New("exclusive lock already held")
	}
	return a.localLock.Release, nil
}

// Run serves HTTP, runs the worker and scheduler, and blocks until ctx is
// canceled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.dispatch.Start(ctx); err != nil {
		return fmt.Errorf("start task queue: %w", err)
	}
	if a.scheduler != nil {
		go a.scheduler.Run(ctx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return a.Close(shutdownCtx)
}

// Close stops the task queue and releases clients. The in-flight job may run
// until ctx expires.
func (a *App) Close(ctx context.Context) error {
	var stopErr error
	if a.dispatch != nil {
		if err := a.dispatch.Stop(ctx); err != nil && !errors.Is(err, dispatcher.ErrNotStarted) {
			stopErr = err
		}
	}
	a.closeInfrastructure()
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return stopErr
}

func (a *App) closeInfrastructure() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
}

func (a *App) setupLock(ctx context.Context) (causelist.ExclusiveLock, error) {
	a.localLock = lock.NewLocal()
	if a.cfg.Lock.RedisAddr == "" {
		a.logger.Info("using in-process exclusive lock")
		return a.localLock, nil
	}
	client, err := lock.Dial(ctx, a.cfg.Lock.RedisAddr, a.cfg.Lock.RedisPassword, a.cfg.Lock.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("redis lock init failed: %w", err)
	}
	a.redisClient = client
	a.redisLock = lock.NewRedis(client, a.cfg.Lock.RedisKey)
	a.logger.Info("using redis exclusive lock",
		zap.String("addr", a.cfg.Lock.RedisAddr),
		zap.String("key", a.cfg.Lock.RedisKey),
	)
	return a.redisLock, nil
}

func (a *App) setupNotifier(ctx context.Context) (causelist.Notifier, error) {
	var fan notify.Multi
	if a.cfg.Notify.Log {
		fan = append(fan, notify.NewLog(logging.Component(a.logger, "notify")))
	}

	ps := a.cfg.Notify.PubSub
	if ps.ProjectID != "" && ps.Topic != "" {
		var err error
		a.pubsubClient, err = pubsub.NewClient(ctx, ps.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.publisher = gcppublisher.New(a.pubsubClient)
		fan = append(fan, notify.NewTopic(a.publisher, ps.Topic, logging.Component(a.logger, "notify")))
		a.logger.Info("Pub/Sub notifications enabled",
			zap.String("project", ps.ProjectID),
			zap.String("topic", ps.Topic),
		)
	}

	ar := a.cfg.Notify.Archive
	switch ar.Backend {
	case "gcs":
		var err error
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcsstorage.New(a.storage, gcsstorage.Config{Bucket: ar.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		fan = append(fan, notify.NewArchive(store, ar.Prefix, logging.Component(a.logger, "archive")))
		a.logger.Info("archiving reports to GCS", zap.String("bucket", ar.GCSBucket))
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: ar.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		fan = append(fan, notify.NewArchive(store, ar.Prefix, logging.Component(a.logger, "archive")))
		a.logger.Info("archiving reports locally", zap.String("dir", ar.LocalDir))
	}

	if len(fan) == 0 {
		a.logger.Warn("no notifiers configured; reports will be dropped")
	}
	return fan, nil
}
