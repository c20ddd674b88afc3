package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prudhvinik1/focuspresence/internal/config"
	"github.com/prudhvinik1/focuspresence/internal/database"
	"github.com/prudhvinik1/focuspresence/internal/handlers"
	"github.com/prudhvinik1/focuspresence/internal/metrics"
	"github.com/prudhvinik1/focuspresence/internal/models"
	"github.com/prudhvinik1/focuspresence/internal/repositories"
	"github.com/prudhvinik1/focuspresence/internal/services"
	"golang.org/x/sync/errgroup"
)

const (
	tokenExpiry     = 24 * time.Hour
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})).
		With("instance", cfg.InstanceID)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL, logger)
	if err != nil {
		return fmt.Errorf("failed to create redis client: %w", err)
	}
	defer redisClient.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	clock := quartz.NewReal()
	store := repositories.NewRedisPresenceStore(redisClient,
		repositories.WithTimeout(cfg.Presence.StoreTimeout),
		repositories.WithRetries(cfg.Presence.StoreRetries),
		repositories.WithMetrics(m),
	)

	opts := []services.ServiceOption{
		services.WithClock(clock),
		services.WithLogger(logger),
		services.WithMetrics(m),
	}

	// Statistics are optional; without a database the counters are skipped.
	if cfg.DatabaseURL != "" {
		pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("failed to create postgres pool: %w", err)
		}
		defer pool.Close()

		stats := repositories.NewPostgresStatsRepository(pool)
		if err := stats.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to prepare stats schema: %w", err)
		}
		opts = append(opts, services.WithStats(stats))
	} else {
		logger.Info("DATABASE_URL not set, presence statistics disabled")
	}

	subs := services.NewSubscriptionRegistry()
	hub := services.NewHub(subs, logger)
	broadcaster := services.NewRedisBroadcaster(redisClient, cfg.InstanceID, clock, m, logger)

	svc := services.NewPresenceService(
		store,
		services.NewLocalPresenceCache(clock, cfg.Presence.SweepInterval),
		services.NewConnectionRegistry(),
		subs,
		broadcaster,
		cfg.Presence,
		opts...,
	)
	sweeper := services.NewDecaySweeper(svc)

	verifier := services.NewTokenVerifier(cfg.JWTSecret, tokenExpiry, clock)
	ws := handlers.NewWebSocketHandler(svc, hub, logger)
	router := handlers.NewRouter(
		handlers.NewPresenceHandler(svc, clock, logger),
		ws,
		verifier,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		return broadcaster.Listen(gctx, func(event *models.PresenceEvent) {
			hub.Deliver(event)
		})
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Open sockets are hijacked and invisible to server.Shutdown; their
		// users must be disconnected before the store client closes.
		return errors.Join(server.Shutdown(shutdownCtx), ws.Shutdown(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped gracefully")
	return nil
}
