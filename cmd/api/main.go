package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"commlink/internal/core/services"
	httphandlers "commlink/internal/handlers/http"
	backupinfra "commlink/internal/infrastructure/backup"
	"commlink/internal/infrastructure/middleware"
	"commlink/internal/infrastructure/monitoring"
	repositories "commlink/internal/infrastructure/repositories"
	"commlink/pkg/backup"
	"commlink/pkg/config"
	"commlink/pkg/logger"
	"commlink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/commlink/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		log.Printf("could not load config from any path, using defaults")
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	logg := zapLogger.Sugar()

	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "commlink-api",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		logg.Fatalw("failed to init tracing", "error", err)
	}

	repoFactory, err := repositories.NewRepositoryFactory(cfg, logg)
	if err != nil {
		logg.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	roomRepo := repoFactory.CreateRoomRepository()
	roomService := services.NewRoomService(roomRepo, cfg.Rooms.HistoryCap)
	authService := services.NewAuthService(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
	)

	// Periodic room snapshots protect persistent rooms on memory-backed
	// deployments; on startup the latest snapshot is replayed.
	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	defer schedulerCancel()

	var scheduler *backupinfra.Scheduler
	if cfg.Rooms.SnapshotInterval > 0 && cfg.Rooms.SnapshotPath != "" {
		storage, err := backup.NewFileStorage(cfg.Rooms.SnapshotPath)
		if err != nil {
			logg.Fatalw("failed to open snapshot storage", "error", err)
		}
		snapshots := backup.NewSnapshotService(storage, "1")

		restore := backupinfra.NewRestoreService(snapshots, roomRepo, logg)
		restoreOpts := backupinfra.DefaultRestoreOptions()
		restoreOpts.PersistentOnly = true
		if err := restore.RestoreLatest(schedulerCtx, restoreOpts); err != nil {
			logg.Warnw("failed to restore latest snapshot", "error", err)
		}

		scheduler = backupinfra.NewScheduler(snapshots, roomRepo, backupinfra.Config{
			Interval:      cfg.Rooms.SnapshotInterval,
			RetentionDays: 7,
		}, logg)
		go scheduler.Start(schedulerCtx)
	}

	authHandler := httphandlers.NewAuthHandler(authService, cfg.Auth.AccessTokenTTL)
	roomHandler := httphandlers.NewRoomHandler(roomService)

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddRepositoryCheck(roomRepo, 30*time.Second, 2*time.Second)
	if redisClient := repoFactory.RedisClient(); redisClient != nil {
		healthChecker.AddRedisCheck(redisClient, 30*time.Second, 2*time.Second)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	ctxLogger := logger.NewContextLogger(zapLogger)
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RecoveryMiddleware(ctxLogger))
	router.Use(middleware.ErrorHandlerMiddleware(ctxLogger))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	authHandler.SetupRoutes(router)
	roomHandler.SetupRoutes(router, middleware.AuthMiddleware(authService))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := repoFactory.HealthCheck(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
		})
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		logg.Info("prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.API.Address,
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logg.Infow("starting api server", "address", cfg.API.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		logg.Fatalw("api server failed", "error", err)
	case sig := <-sigChan:
		logg.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Errorw("error during server shutdown", "error", err)
		srv.Close()
	}

	if scheduler != nil {
		scheduler.Stop()
	}
	schedulerCancel()

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		logg.Warnw("error shutting down tracer", "error", err)
	}

	logg.Info("api server stopped")
}
