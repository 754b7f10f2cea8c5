package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"

	"orbguard-appscan/internal/api"
	"orbguard-appscan/internal/api/handlers"
	apimiddleware "orbguard-appscan/internal/api/middleware"
	"orbguard-appscan/internal/config"
	"orbguard-appscan/internal/domain/services"
	"orbguard-appscan/internal/grpc/appscan"
	"orbguard-appscan/internal/infrastructure/cache"
	"orbguard-appscan/internal/infrastructure/database"
	"orbguard-appscan/internal/infrastructure/database/repository"
	"orbguard-appscan/internal/infrastructure/memory"
	"orbguard-appscan/internal/infrastructure/packagesource"
	"orbguard-appscan/internal/streaming"
	"orbguard-appscan/pkg/logger"
)

// stores groups the persistence backends selected by storage.backend
type stores struct {
	apps       services.AppStore
	feedback   services.FeedbackStore
	exclusions services.ExclusionStore
}

func main() {
	// Load configuration
	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	var log *logger.Logger
	if cfg.App.Environment == "production" {
		log = logger.NewProduction()
	} else {
		log = logger.New(logger.Config{
			Level:      cfg.Logger.Level,
			Format:     cfg.Logger.Format,
			TimeFormat: cfg.Logger.TimeFormat,
		})
	}
	logger.SetGlobal(log)

	log.Info().
		Str("app", cfg.App.Name).
		Str("env", cfg.App.Environment).
		Str("version", cfg.App.Version).
		Str("storage", cfg.Storage.Backend).
		Msg("starting OrbGuard AppScan")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize infrastructure
	db, redisCache, err := initInfrastructure(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize infrastructure")
	}
	defer func() {
		if db != nil {
			db.Close()
		}
		if redisCache != nil {
			redisCache.Close()
		}
	}()

	st := initStores(cfg, db, redisCache, log)

	checks := map[string]handlers.Pinger{}
	if db != nil {
		checks["postgres"] = db
	}
	if redisCache != nil {
		checks["redis"] = redisCache
	}

	// Initialize streaming infrastructure
	var natsPublisher *streaming.NATSPublisher
	if cfg.NATS.Enabled {
		natsPublisher, err = streaming.NewNATSPublisher(ctx, cfg.NATS, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to NATS, continuing without event replication")
		} else {
			log.Info().Str("url", cfg.NATS.URL).Msg("connected to NATS")
		}
	}

	// Close also drains the NATS connection
	eventBus := streaming.NewEventBus(natsPublisher, log)
	defer eventBus.Close()
	log.Info().Bool("nats_enabled", natsPublisher != nil).Msg("event bus initialized")

	wsHub := streaming.NewWebSocketHub(log)
	go wsHub.Run(ctx)

	eventPublisher := streaming.NewEventBusPublisher(eventBus, wsHub)

	// Initialize services
	source := packagesource.NewFixtureSource(cfg.Source.FixturePath, log)
	analyzer := services.NewAppAnalyzer(log)

	feedbackService := services.NewFeedbackService(st.apps, st.feedback, st.exclusions, log)
	feedbackService.SetEventPublisher(eventPublisher)

	scanner := services.NewScanner(cfg.Scan, source, st.exclusions, analyzer, feedbackService, log)
	scanner.SetEventPublisher(eventPublisher)
	if redisCache != nil {
		scanner.SetLocker(redisCache)
		log.Info().Msg("distributed scan lock enabled")
	}

	scheduler := services.NewScheduler(cfg.Scan, scanner, log)

	// Initialize handlers
	h := handlers.NewHandlers(handlers.Dependencies{
		Analyzer:  analyzer,
		Scanner:   scanner,
		Scheduler: scheduler,
		Feedback:  feedbackService,
		Apps:      st.apps,
		WSHub:     wsHub,
		EventBus:  eventBus,
		Checks:    checks,
		Version:   cfg.App.Version,
		Logger:    log,
	})

	// A nil *RedisCache must not reach the router as a non-nil interface
	var limiter apimiddleware.RateLimitStore
	if redisCache != nil {
		limiter = redisCache
	} else if cfg.RateLimit.Enabled {
		log.Warn().Msg("rate limiting requires redis, requests will not be limited")
	}

	router := api.NewRouter(*cfg, h, limiter, log)
	httpHandler := router.Setup()

	// Start HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:      httpHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", httpServer.Addr).
			Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC server
	grpcListener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gRPC listener")
	}

	grpcChecks := make(map[string]appscan.Pinger, len(checks))
	for name, c := range checks {
		grpcChecks[name] = c
	}

	grpcServer := grpc.NewServer()
	healthMonitor := appscan.NewHealthMonitor(grpcChecks, 0, log)
	healthMonitor.Register(grpcServer)
	go healthMonitor.Run(ctx)

	go func() {
		log.Info().
			Str("addr", grpcListener.Addr().String()).
			Msg("starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Fatal().Err(err).Msg("gRPC server failed")
		}
	}()

	// Start background rescans
	go func() {
		if err := scheduler.Start(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("scheduler stopped with error")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")

	// Cancel context to stop background services
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop gRPC server
	grpcServer.GracefulStop()

	// Stop HTTP server
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Stop scheduler
	scheduler.Stop()

	log.Info().Msg("shutdown complete")
}

// initInfrastructure opens the database and cache connections the
// configuration asks for
func initInfrastructure(ctx context.Context, cfg *config.Config, log *logger.Logger) (*database.PostgresDB, *cache.RedisCache, error) {
	var db *database.PostgresDB
	if cfg.Storage.Backend == config.StoragePostgres {
		var err error
		db, err = database.NewPostgres(ctx, cfg.Database, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
	}

	if !cfg.Redis.Enabled {
		return db, nil, nil
	}

	redisCache, err := cache.NewRedis(ctx, cfg.Redis, log)
	if err != nil {
		if cfg.Storage.Backend == config.StorageRedis {
			return db, nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		log.Warn().Err(err).Msg("failed to connect to Redis, continuing without scan lock and rate limiting")
		return db, nil, nil
	}

	return db, redisCache, nil
}

// initStores builds the app, feedback and exclusion stores for the
// configured backend
func initStores(cfg *config.Config, db *database.PostgresDB, redisCache *cache.RedisCache, log *logger.Logger) stores {
	switch cfg.Storage.Backend {
	case config.StoragePostgres:
		log.Info().Msg("stores initialized with PostgreSQL")
		return stores{
			apps:       repository.NewAppRepository(db),
			feedback:   repository.NewFeedbackRepository(db),
			exclusions: repository.NewExclusionRepository(db),
		}
	case config.StorageRedis:
		log.Info().Msg("stores initialized with Redis")
		return stores{
			apps:       cache.NewAppStore(redisCache),
			feedback:   cache.NewFeedbackStore(redisCache),
			exclusions: cache.NewExclusionStore(redisCache),
		}
	default:
		log.Warn().Msg("running with in-memory stores, state is lost on restart")
		return stores{
			apps:       memory.NewAppStore(),
			feedback:   memory.NewFeedbackStore(),
			exclusions: memory.NewExclusionStore(),
		}
	}
}
