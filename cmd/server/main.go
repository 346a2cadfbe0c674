package main // Entry point package

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/aplabs/labreserve/internal/config"
	"github.com/aplabs/labreserve/internal/database"
	"github.com/aplabs/labreserve/internal/handler"
	"github.com/aplabs/labreserve/internal/logging"
	"github.com/aplabs/labreserve/internal/metrics"
	"github.com/aplabs/labreserve/internal/middleware"
	"github.com/aplabs/labreserve/internal/notify"
	"github.com/aplabs/labreserve/internal/queue"
	"github.com/aplabs/labreserve/internal/repository"
	"github.com/aplabs/labreserve/internal/router"
	"github.com/aplabs/labreserve/internal/service"
)

func main() {
	envFile := pflag.String("env-file", ".env", "file with KEY=VALUE settings (ignored when missing)")
	migrate := pflag.Bool("migrate", true, "create missing tables and indexes before serving")
	pflag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		slog.Error("read env file", "path", *envFile, "error", err)
		os.Exit(1)
	}
	cfg := config.Load() // Load environment config
	log := logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)

	if err := run(cfg, *migrate, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, migrate bool, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(database.Options{
		Driver:     cfg.DBDriver,
		User:       cfg.DBUser,
		Pass:       cfg.DBPass,
		Host:       cfg.DBHost,
		Port:       cfg.DBPort,
		Name:       cfg.DBName,
		SQLitePath: cfg.SQLitePath,
	})
	if err != nil {
		return err
	}
	defer db.Close()
	if migrate {
		if err := database.Migrate(ctx, db, cfg.DBDriver); err != nil {
			return err
		}
	}

	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb == nil {
		log.Warn("redis unavailable: rate limit, response cache and sweep lock disabled")
	} else {
		defer rdb.Close()
	}
	m := metrics.New()

	catalog := repository.NewCatalogRepo(db)
	requests := repository.NewRequestRepo(db)
	allocations := repository.NewAllocationRepo(db)
	blocks := repository.NewBlockRepo(db)
	notifications := repository.NewNotificationRepo(db)
	lookups := repository.NewLookupRepo(db)

	// Without a broker notifications go straight to the inbox table and
	// audit entries to the log.
	var (
		sender    notify.Sender    = notifications
		auditSink notify.AuditSink = notify.LogAuditSink{Log: log}
		consumer  *queue.Consumer
	)
	if cfg.QueueEnabled {
		pub := queue.NewPublisher(cfg.RabbitURL, log)
		defer pub.Close()
		sender, auditSink = pub, pub
		consumer = &queue.Consumer{URL: cfg.RabbitURL, Inbox: notifications, Log: log}
	}
	dispatcher := notify.NewDispatcher(sender, auditSink, notify.Options{
		Retries: cfg.DispatchRetries,
		Logger:  log,
		Metrics: m,
	})

	coord := service.NewCoordinator(service.Deps{
		DB:          db,
		Catalog:     catalog,
		Requests:    requests,
		Allocations: allocations,
		Blocks:      blocks,
		Effects:     dispatcher,
		Metrics:     m,
		Logger:      log,
	})
	schedCfg := service.SchedulerConfig{
		Store:    allocations,
		Items:    catalog,
		Effects:  dispatcher,
		Metrics:  m,
		Logger:   log,
		Location: cfg.Timezone,
		Interval: cfg.SweepInterval,
	}
	if rdb != nil {
		schedCfg.Locker = service.RedisLocker{Client: rdb}
	}
	scheduler := service.NewScheduler(schedCfg)

	cacheCfg := config.LoadCacheConfig()
	catalogHandler := handler.NewCatalogHandler(catalog, lookups, coord, log)
	catalogHandler.Redis, catalogHandler.CachePrefix = rdb, cacheCfg.Prefix
	requestHandler := handler.NewRequestHandler(coord, notifications, log)
	adminHandler := handler.NewAdminHandler(coord, catalog, blocks, scheduler, log)
	requestHandler.Cache, adminHandler.Cache = catalogHandler, catalogHandler
	adminHandler.Effects = dispatcher

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(log))
	e.Use(echomw.Recover())
	e.Use(middleware.RateLimit(config.LoadRateLimitConfig(), rdb, log))

	router.RegisterRoutes(e, handler.Health{DB: db}, m.Handler())
	router.RegisterPublic(e, catalogHandler, middleware.ResponseCache(cacheCfg, rdb, log))
	router.RegisterRequests(e, requestHandler, cfg.JWTSecret)
	router.RegisterAdmin(e, adminHandler, catalogHandler, requestHandler, cfg.JWTSecret)

	// The dispatcher outlives the HTTP server so side effects of requests
	// finishing during shutdown are still delivered.
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(dispatchCtx) })
	if consumer != nil {
		g.Go(func() error { return consumer.Run(gctx) })
	}
	if cfg.SweepEnabled {
		g.Go(func() error { return scheduler.Run(gctx) })
	}
	g.Go(func() error {
		addr := ":" + cfg.Port // Address string with port
		log.Info("listening", "addr", addr, "env", cfg.Env, "driver", cfg.DBDriver, "queue", cfg.QueueEnabled)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		defer stopDispatch()
		return e.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
