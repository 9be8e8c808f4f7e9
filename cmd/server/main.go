package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	connectapp "github.com/pulsedeck/backend/internal/application/connect"
	syncapp "github.com/pulsedeck/backend/internal/application/sync"
	webhookapp "github.com/pulsedeck/backend/internal/application/webhook"
	"github.com/pulsedeck/backend/internal/infrastructure/cache"
	"github.com/pulsedeck/backend/internal/infrastructure/config"
	"github.com/pulsedeck/backend/internal/infrastructure/connector"
	"github.com/pulsedeck/backend/internal/infrastructure/logger"
	"github.com/pulsedeck/backend/internal/infrastructure/persistence"
	"github.com/pulsedeck/backend/internal/infrastructure/scheduler"
	"github.com/pulsedeck/backend/internal/infrastructure/secretvault"
	"github.com/pulsedeck/backend/internal/infrastructure/telemetry"
	"github.com/pulsedeck/backend/internal/interfaces/http/dto"
	"github.com/pulsedeck/backend/internal/interfaces/http/handler"
	"github.com/pulsedeck/backend/internal/interfaces/http/middleware"
	"github.com/pulsedeck/backend/internal/interfaces/http/router"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting PulseDeck backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// The encrypted serializer must be registered before any credential
	// column is read or written
	vaultKey, err := cfg.Vault.DecodeKey()
	if err != nil {
		log.Fatal("Vault key invalid", zap.Error(err))
	}
	vault, err := secretvault.New(vaultKey)
	if err != nil {
		log.Fatal("Failed to initialize secret vault", zap.Error(err))
	}
	secretvault.Register(vault)

	tracerProvider, err := telemetry.NewTracerProvider(context.Background(), cfg.Telemetry, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabaseWithOptions(&cfg.Database, persistence.Options{
		Logger:  gormLog,
		Tracing: cfg.Telemetry.Enabled,
	})
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected")

	// Repositories and stores
	integrationRepo := persistence.NewGormIntegrationRepository(db.DB)
	containerRepo := persistence.NewGormContainerRepository(db.DB)
	canonicalStore := persistence.NewGormCanonicalStore(db.DB)

	// Webhook delivery dedup falls back to in-process memory when Redis
	// is unreachable
	dedup := cache.NewDeliveryDedup(cfg.Redis, log)

	// Provider connectors and application services
	registry := connector.NewDefaultRegistry(cfg, log)
	orchestrator := syncapp.NewOrchestrator(integrationRepo, containerRepo, canonicalStore, registry, cfg.Sync, log)
	connectService := connectapp.NewService(integrationRepo, containerRepo, registry, orchestrator, cfg.App, log)
	webhookService := webhookapp.NewService(integrationRepo, containerRepo, canonicalStore, dedup, cfg.Providers, log)

	// Background sync trigger
	syncTrigger := scheduler.NewSyncTrigger(cfg.Sync.ScheduleInterval, orchestrator, log)
	if err := syncTrigger.Start(context.Background()); err != nil {
		log.Fatal("Failed to start sync trigger", zap.Error(err))
	}

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := dto.RegisterValidations(); err != nil {
		log.Fatal("Failed to register validations", zap.Error(err))
	}

	engine := gin.New()

	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	engine.Use(logger.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Tracing(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	engine.Use(middleware.CORSWithConfig(corsConfig))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	engine.GET("/health", healthHandler(db))

	// Webhook callbacks live at the engine root; the URLs are registered
	// with providers and must not move with API versioning
	handler.NewWebhookHandler(webhookService).RegisterRoutes(engine)

	r := router.NewRouter(engine, router.WithAPIVersion("v1"))
	r.Register(handler.NewIntegrationHandler(connectService, orchestrator, integrationRepo, containerRepo))
	r.Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := syncTrigger.Stop(ctx); err != nil {
		log.Error("Sync trigger did not stop cleanly", zap.Error(err))
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(ctx); err != nil {
		log.Error("Tracer provider shutdown failed", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// healthHandler reports process and database liveness
func healthHandler(db *persistence.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			logger.FromGin(c).Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"time":     time.Now().Format(time.RFC3339),
				"database": "error",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"time":     time.Now().Format(time.RFC3339),
			"database": "ok",
		})
	}
}
