package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/alxbtnk/duck/internal/assets"
	"github.com/alxbtnk/duck/internal/config"
	"github.com/alxbtnk/duck/internal/database"
	"github.com/alxbtnk/duck/internal/generation"
	"github.com/alxbtnk/duck/internal/handlers"
	"github.com/alxbtnk/duck/internal/metrics"
	"github.com/alxbtnk/duck/internal/middleware"
	"github.com/alxbtnk/duck/internal/migrations"
	"github.com/alxbtnk/duck/internal/routes"
	"github.com/alxbtnk/duck/internal/store"
	"github.com/alxbtnk/duck/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// 0. Load Config & Initialize Logger
	config.LoadConfig()
	cfg := config.AppConfig

	logger.Init(cfg.Env, cfg.LogLevel)
	logger.Info().Str("environment", cfg.Env).Msg("Starting DUCKHAT backend...")

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Storage
	if err := database.Connect(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	database.InitRedis(cfg.RedisAddr, cfg.RedisPassword)

	applied, err := migrations.NewMigrator(database.DB).Run()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to run database migrations")
	}
	logger.Info().Strs("applied", applied).Msg("Database migrations complete")

	assetStore, err := store.Open(ctx, database.DB, database.Redis, cfg.StoreSettings())
	if err != nil {
		// Uploads can still live in the table; R2 is an optimisation.
		logger.Warn().Err(err).Msg("R2 unavailable, keeping uploaded bytes in the database")
		settings := cfg.StoreSettings()
		settings.R2 = nil
		if assetStore, err = store.Open(ctx, database.DB, database.Redis, settings); err != nil {
			logger.Fatal().Err(err).Msg("Failed to open asset store")
		}
	}

	// 2. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// 3. Asset registry: defaults now, persisted overrides once recovered
	registry := assets.NewRegistry(assetStore, assets.Defaults(), assets.WithPersistHook(m.AssetPersisted))
	go func() {
		if err := registry.Recover(ctx); err != nil {
			logger.Warn().Err(err).Msg("Asset recovery interrupted, serving defaults")
		}
	}()

	// 4. Duckify pipeline, one controller per visitor
	if cfg.GenerationURL == "" {
		logger.Warn().Msg("GENERATION_URL not set, duckify is disabled")
	}
	client := generation.NewHTTPClient(cfg.GenerationURL, cfg.GenerationAPIKey,
		generation.WithPrompt(cfg.GenerationPrompt),
		generation.WithRateLimit(cfg.GenerationRateLimit, 1),
	)
	sessions := generation.NewSessions(func() *generation.Controller {
		opts := []generation.ControllerOption{
			generation.WithTimeout(cfg.GenerationTimeout),
			generation.WithMaxSourceBytes(cfg.MaxSourceBytes),
			generation.WithOutcomeHook(m.GenerationOutcome),
			generation.WithObserver(func(req generation.Request) {
				if req.Status == generation.StatusComplete || req.Status == generation.StatusError {
					m.ObserveGeneration(req.FinishedAt.Sub(req.StartedAt))
				}
			}),
		}
		if cfg.PropagateSlot != "" {
			opts = append(opts, generation.WithPropagation(registry, cfg.PropagateSlot))
		}
		return generation.NewController(client, opts...)
	}, cfg.SessionIdleTTL, cfg.MaxSessions)
	go sessions.Run(ctx)
	m.TrackSessions(sessions.Len)

	// 5. Setup Router
	r := gin.New()
	r.Use(middleware.LoggingMiddleware())
	r.Use(middleware.ErrorHandlerMiddleware())
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware(cfg.FrontendURL))
	r.Use(middleware.SecurityHeaders())
	r.Use(m.Middleware())

	assetHandler := handlers.NewAssetHandler(registry, handlers.NewImageURLValidator(cfg.AssetHosts...), cfg.MaxAssetBytes)
	duckifyHandler := handlers.NewDuckifyHandler(sessions, cfg.MaxSourceBytes, m.Submission)

	api := r.Group("/api")
	api.Use(middleware.GeneralRateLimit())
	{
		routes.RegisterAssetRoutes(api, assetHandler, cfg.AdminJWTSecret)
		routes.RegisterDuckifyRoutes(api, duckifyHandler, cfg.GenerationURL != "", cfg.Env == "production")
	}
	routes.RegisterMediaRoutes(r, assetHandler)

	r.GET("/health", handlers.NewHealthHandler(database.DB, database.Redis, registry).Health)
	r.GET("/metrics", metrics.Handler(reg))

	// 6. Start Server with graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info().Msg("Shutting down server gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Let in-flight asset writes land before the database goes away.
	flushed := make(chan struct{})
	go func() {
		registry.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("Pending asset writes did not finish before shutdown")
	}

	if database.Redis != nil {
		_ = database.Redis.Close()
	}
	if sqlDB, err := database.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}

	logger.Info().Msg("Server exited gracefully")
}
