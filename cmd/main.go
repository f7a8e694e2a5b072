package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/storyteller/server/adapters/catalog"
	"github.com/storyteller/server/adapters/devicestore"
	"github.com/storyteller/server/adapters/memstore"
	mongoadapter "github.com/storyteller/server/adapters/mongo"
	"github.com/storyteller/server/adapters/realtime"
	"github.com/storyteller/server/adapters/rediscache"
	"github.com/storyteller/server/domain/entities"
	"github.com/storyteller/server/domain/repositories"
	"github.com/storyteller/server/internal/api"
	"github.com/storyteller/server/internal/auth"
	"github.com/storyteller/server/internal/config"
	"github.com/storyteller/server/internal/orchestrator"
	"github.com/storyteller/server/internal/websocket"
)

// Serial and secret for the development device registered when no database
// is configured. Matches the provisioning defaults baked into dev firmware.
const (
	devDeviceSerial = "DEV-0001"
	devDeviceSecret = "dev-secret"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx := context.Background()

	// Upstream conversation service
	var conversations repositories.ConversationService
	if cfg.MockUpstream {
		logger.Warn("Running against the mock upstream; no audio will be synthesized")
		conversations = realtime.NewMockService(logger)
	} else {
		service, err := realtime.NewService(realtime.Config{
			APIKey:   cfg.OpenAIAPIKey,
			Model:    cfg.RealtimeModel,
			Endpoint: cfg.RealtimeURL,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to configure realtime service", zap.Error(err))
		}
		conversations = service
	}

	// Durable stores: MongoDB when configured, in-memory otherwise.
	var (
		users       repositories.UserRepository
		progress    repositories.ProgressRepository
		episodes    repositories.EpisodeCatalog
		deviceRepo  repositories.DeviceRepository
		mongoClient *mongoadapter.Client
	)
	deviceRepo = devicestore.NewMemory()
	if cfg.MongoURI != "" {
		mongoClient, err = mongoadapter.NewClient(cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		users = mongoadapter.NewUserRepository(mongoClient.Database)
		progress = mongoadapter.NewProgressRepository(mongoClient.Database)

		mongoCatalog := mongoadapter.NewEpisodeCatalog(mongoClient.Database)
		if err := mongoCatalog.Seed(ctx, catalog.SeedEpisodes()); err != nil {
			logger.Fatal("Failed to seed episode catalog", zap.Error(err))
		}
		episodes = mongoCatalog
	} else {
		logger.Warn("No MONGODB_URI configured; using in-memory stores")
		users = memstore.NewUsers()
		progress = memstore.NewProgress()
		episodes = catalog.NewSeeded()

		// Give the dev loop a device that can pass /api/v1/device/auth.
		if err := deviceRepo.Register(ctx, &entities.Device{
			SerialNumber: devDeviceSerial,
			Model:        "esp32-s3",
		}, devDeviceSecret); err != nil {
			logger.Fatal("Failed to register development device", zap.Error(err))
		}
		logger.Info("Registered development device", zap.String("serial", devDeviceSerial))
	}

	// Session cache: Redis when configured, in-process otherwise.
	var cache repositories.SessionCache
	var redisCache *rediscache.Redis
	if cfg.RedisAddr != "" {
		redisCache, err = rediscache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		cache = redisCache
	} else {
		logger.Warn("No REDIS_ADDR configured; session cache is in-process only")
		cache = rediscache.NewMemory()
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	orch := orchestrator.New(
		conversations,
		users,
		progress,
		episodes,
		cache,
		orchestrator.NewMetrics(registry),
		orchestrator.RetryPolicy{
			MaxAttempts: cfg.UpstreamRetryAttempts,
			BaseDelay:   cfg.UpstreamRetryBase,
			MaxDelay:    5 * time.Second,
		},
		logger,
	)

	// Initialize WebSocket hub driving the orchestrator
	hub := websocket.NewHub(orch, logger)
	go hub.Run()

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Initialize API routes
	api.InitRoutes(e, api.Dependencies{
		Hub:          hub,
		Orchestrator: orch,
		Catalog:      episodes,
		Devices:      deviceRepo,
		Auth:         auth.New(cfg.JWTSecret),
		Registry:     registry,
		Logger:       logger,
	})

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("port", cfg.Port))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Close device sessions first so upstream conversations shut down
	// cleanly before the HTTP listener goes away.
	orch.Shutdown(shutdownCtx)

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	if redisCache != nil {
		if err := redisCache.Close(); err != nil {
			logger.Error("Failed to close Redis client", zap.Error(err))
		}
	}
	if mongoClient != nil {
		if err := mongoClient.Close(shutdownCtx); err != nil {
			logger.Error("Failed to close MongoDB client", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
