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
	"commlink/internal/infrastructure/distributed"
	"commlink/internal/infrastructure/loadbalancer"
	"commlink/internal/infrastructure/monitoring"
	repositories "commlink/internal/infrastructure/repositories"
	signalinfra "commlink/internal/infrastructure/signal"
	"commlink/pkg/config"
	"commlink/pkg/logger"
	"commlink/pkg/tracing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
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
		ServiceName: "commlink-relay",
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

	collector := monitoring.NewPrometheusCollector()

	relay := signalinfra.NewRelayServer(
		roomService,
		authService,
		nil, // registry, set below when redis is available
		nil, // bus, likewise
		collector,
		signalinfra.RelayServerConfig{
			PingInterval:      cfg.Relay.PingInterval,
			PongTimeout:       cfg.Relay.PongTimeout,
			WriteTimeout:      cfg.Relay.WriteTimeout,
			HandshakeWindow:   cfg.Client.HandshakeWindow,
			FramesPerSecond:   cfg.RateLimiting.WebSocket.FramesPerSecond,
			MaxFrameSizeBytes: cfg.RateLimiting.WebSocket.MaxFrameSizeBytes,
			AllowedOrigins:    cfg.Auth.AllowedOrigins,
		},
		logg,
	)

	// Multi-instance routing needs Redis; without it the relay runs
	// standalone and cross-instance frames are dropped.
	busCtx, busCancel := context.WithCancel(context.Background())
	defer busCancel()

	var frameBus *distributed.FrameBus
	if redisClient := repoFactory.RedisClient(); redisClient != nil {
		registry := distributed.NewSharedParticipantRegistry(redisClient, relay.InstanceID(), logg)
		frameBus = distributed.NewFrameBus(redisClient, registry, relay.InstanceID(), logg)
		relay.SetDistribution(registry, frameBus)

		go func() {
			if err := frameBus.Subscribe(busCtx, relay.DeliverLocal); err != nil && busCtx.Err() == nil {
				logg.Errorw("frame bus subscription ended", "error", err)
			}
		}()

		defer func() {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := registry.CleanupInstance(cleanupCtx, relay.InstanceID()); err != nil {
				logg.Warnw("failed to clean up instance registrations", "error", err)
			}
		}()
	}

	sticky := loadbalancer.NewStickySessionManager(cfg.Auth.JWTSecret, "", int(cfg.Auth.AccessTokenTTL/time.Second))

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddRepositoryCheck(roomRepo, 30*time.Second, 2*time.Second)
	if redisClient := repoFactory.RedisClient(); redisClient != nil {
		healthChecker.AddRedisCheck(redisClient, 30*time.Second, 2*time.Second)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", sticky.Wrap(relay.HandleWebSocket))
	mux.HandleFunc("/health", relay.HealthCheck)
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if !healthChecker.IsReady(ctx) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	if cfg.Monitoring.PrometheusEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	srv := &http.Server{
		Addr:    cfg.Relay.Address,
		Handler: mux,
	}

	serverErr := make(chan error, 1)
	go func() {
		logg.Infow("starting relay server", "address", cfg.Relay.Address, "instance_id", relay.InstanceID())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		logg.Fatalw("relay server failed", "error", err)
	case sig := <-sigChan:
		logg.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Errorw("error during server shutdown", "error", err)
		srv.Close()
	}

	busCancel()
	if frameBus != nil {
		if err := frameBus.Close(); err != nil {
			logg.Warnw("error closing frame bus", "error", err)
		}
	}

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		logg.Warnw("error shutting down tracer", "error", err)
	}

	logg.Info("relay server stopped")
}
