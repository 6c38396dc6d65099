package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/Proton-105/lesson-notifier/internal/admin"
	apperrors "github.com/Proton-105/lesson-notifier/internal/errors"
	"github.com/Proton-105/lesson-notifier/internal/health"
	"github.com/Proton-105/lesson-notifier/internal/i18n"
	"github.com/Proton-105/lesson-notifier/internal/idempotency"
	"github.com/Proton-105/lesson-notifier/internal/jobs"
	"github.com/Proton-105/lesson-notifier/internal/jobs/handlers"
	"github.com/Proton-105/lesson-notifier/internal/lease"
	"github.com/Proton-105/lesson-notifier/internal/lifecycle"
	"github.com/Proton-105/lesson-notifier/internal/metadata"
	"github.com/Proton-105/lesson-notifier/internal/middleware"
	"github.com/Proton-105/lesson-notifier/internal/notification"
	"github.com/Proton-105/lesson-notifier/internal/ratelimit"
	"github.com/Proton-105/lesson-notifier/internal/scheduler"
	"github.com/Proton-105/lesson-notifier/internal/store/cache"
	"github.com/Proton-105/lesson-notifier/pkg/config"
	"github.com/Proton-105/lesson-notifier/pkg/graceful"
	"github.com/Proton-105/lesson-notifier/pkg/logger"
	"github.com/Proton-105/lesson-notifier/pkg/metrics"
	redisclient "github.com/Proton-105/lesson-notifier/pkg/redis"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "lesson notifier: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, v, err := config.Load()
	if err != nil {
		return err
	}

	log, logCloser := logger.New(*cfg)
	slog.SetDefault(log)

	shutdown := lifecycle.NewShutdown(log)
	shutdown.Register(lifecycle.PhaseTelemetry, "logger", func(context.Context) error { return logCloser.Close() })

	if cfg.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			SampleRate:  cfg.Sentry.SampleRate,
			Environment: sentryEnvironment(cfg),
		}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		shutdown.Register(lifecycle.PhaseTelemetry, "sentry", func(context.Context) error {
			sentry.Flush(2 * time.Second)
			return nil
		})
	}

	log.Info("starting lesson notifier",
		slog.String("env", cfg.AppEnv),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("scheduler_backend", cfg.Scheduler.Backend),
		slog.String("push_driver", cfg.Push.Driver),
	)

	err = start(ctx, cfg, v, log, shutdown)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if serr := shutdown.Execute(shutdownCtx); serr != nil && err == nil {
		err = serr
	}

	return err
}

// start wires every component, registers its shutdown hook and blocks until ctx is done
// or the HTTP server fails.
func start(ctx context.Context, cfg *config.Config, v *viper.Viper, log *slog.Logger, shutdown *lifecycle.Shutdown) error {
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return fmt.Errorf("load scheduler timezone: %w", err)
	}

	st, err := openStore(ctx, cfg, loc, log)
	if err != nil {
		return err
	}
	shutdown.Register(lifecycle.PhaseResources, "store", func(context.Context) error { return st.Close() })

	checker := health.NewChecker(log, 2*time.Second)
	checker.AddCheck("store", st)

	var rdb *goredis.Client
	if cfg.Redis.Enabled {
		rdb, err = redisclient.New(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		checker.AddCheck("redis", health.NewRedisChecker(rdb))
		shutdown.Register(lifecycle.PhaseResources, "redis", func(context.Context) error { return rdb.Close() })

		st = cache.New(st, rdb, cfg.Storage.OptInCacheTTL, log)
	}

	catalog, err := i18n.Load(cfg.Push.DefaultLocale)
	if err != nil {
		return fmt.Errorf("load notification texts: %w", err)
	}

	sender, err := newSender(cfg.Push, catalog, checker, log)
	if err != nil {
		return err
	}

	errHandler := apperrors.NewHandler(log, cfg.Sentry.Enabled)

	engine := notification.NewEngine(st, sender, notification.PolicyFromConfig(cfg.Notifier),
		notification.WithLogger(log),
		notification.WithErrorReporter(errHandler),
	)

	schedOpts := scheduler.Options{
		Interval: cfg.Scheduler.TickInterval,
		LeaseTTL: cfg.Scheduler.LeaseTTL,
		Logger:   log,
	}
	if rdb != nil {
		schedOpts.Locker = lease.NewLocker(rdb)
	}
	tickers := scheduler.NewService(engine.RunTick, schedOpts)
	shutdown.Register(lifecycle.PhaseWorkers, "tickers", tickers.Shutdown)

	rollover := metadata.NewRollover(st, errHandler, log)

	backend, queue, err := newBackend(cfg, loc, log)
	if err != nil {
		return err
	}
	if queue != nil {
		shutdown.Register(lifecycle.PhaseResources, "task queue", func(context.Context) error { return queue.Close() })
	}

	backend.RegisterHandler(jobs.TaskTypeLessonNotify, handlers.NewLessonNotifyHandler(tickers, log))
	backend.RegisterHandler(jobs.TaskTypeMetadataRollover, handlers.NewMetadataRolloverHandler(rollover, log))
	if err := backend.RegisterTasks(jobs.Entries(cfg.Scheduler)); err != nil {
		return fmt.Errorf("register triggers: %w", err)
	}
	if err := backend.Run(); err != nil {
		return fmt.Errorf("start job backend: %w", err)
	}
	shutdown.Register(lifecycle.PhaseIngress, "job backend", func(context.Context) error {
		backend.Shutdown()
		return nil
	})

	bgCtx, stopBackground := context.WithCancel(context.Background())
	shutdown.Register(lifecycle.PhaseWorkers, "background loops", func(context.Context) error {
		stopBackground()
		return nil
	})

	go metrics.NewStatusCollector(st, cfg.Notifier.StatusPollRate, log).Run(bgCtx)

	memoryLimiter := ratelimit.NewMemoryLimiter()
	var (
		limiter     ratelimit.Limiter = memoryLimiter
		redisCmd    goredis.Cmdable
		idempotence idempotency.Manager
	)
	if rdb != nil {
		redisCmd = rdb
		limiter = ratelimit.NewAdaptiveLimiter(ratelimit.NewRedisLimiter(rdb, log), memoryLimiter, log)
		idempotence = idempotency.NewManager(idempotency.NewRedisStore(rdb, log), log)
	}
	rules := ratelimit.NewRules(cfg.RateLimit)
	go ratelimit.NewCleaner(redisCmd, memoryLimiter, time.Minute, 2*rules.ManualTrigger().Window, log).Run(bgCtx)

	config.Watch(v, log, func(next *config.Config) {
		engine.SetPolicy(notification.PolicyFromConfig(next.Notifier))
	})

	probes := lifecycle.NewProbes(checker, log)

	deps := admin.Deps{
		Tickers:     tickers,
		Rollover:    rollover,
		Probes:      probes,
		Auth:        middleware.NewAuthenticator(cfg.Admin.JWTSecret, middleware.RoleAdmin),
		Limiter:     limiter,
		TriggerRule: rules.ManualTrigger(),
		Idempotency: idempotence,
		Logger:      log,
	}
	if queue != nil {
		deps.Queue = queue
	}

	srv := graceful.NewServer(log, &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      admin.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, cfg.Server.ShutdownTimeout)

	serverCtx, stopServer := context.WithCancel(context.Background())
	served := make(chan struct{})
	var serveErr error
	go func() {
		defer close(served)
		serveErr = srv.ListenAndServe(serverCtx)
	}()

	shutdown.Register(lifecycle.PhaseIngress, "http server", func(ctx context.Context) error {
		probes.Drain()
		stopServer()
		select {
		case <-served:
			return serveErr
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	log.Info("lesson notifier started", slog.String("addr", cfg.Server.Addr))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		return nil
	case <-served:
		if serveErr != nil {
			return fmt.Errorf("http server: %w", serveErr)
		}
		return nil
	}
}

func newBackend(cfg *config.Config, loc *time.Location, log *slog.Logger) (jobs.Backend, jobs.Manager, error) {
	switch cfg.Scheduler.Backend {
	case "asynq":
		if !cfg.Redis.Enabled {
			return nil, nil, fmt.Errorf("scheduler backend asynq requires redis")
		}
		opt := asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}
		return jobs.NewAsynqBackend(opt, loc, cfg.Scheduler.Concurrency, log), jobs.NewManager(opt, log), nil
	default:
		return jobs.NewCronBackend(loc, log), nil, nil
	}
}

func sentryEnvironment(cfg *config.Config) string {
	if cfg.Sentry.Environment != "" {
		return cfg.Sentry.Environment
	}
	return cfg.AppEnv
}
