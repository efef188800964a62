package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/library-catalog/api"
	"github.com/angelmondragon/library-catalog/api/routes"
	"github.com/angelmondragon/library-catalog/internal/participants"
	"github.com/angelmondragon/library-catalog/internal/saga"
	"github.com/angelmondragon/library-catalog/pkg/config"
	"github.com/angelmondragon/library-catalog/pkg/env"
	"github.com/angelmondragon/library-catalog/pkg/instance"
	"github.com/angelmondragon/library-catalog/pkg/logger"
	"github.com/angelmondragon/library-catalog/pkg/metrics"
	"github.com/angelmondragon/library-catalog/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
		Instance:    instance.GetID(),
	})

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	reg := prometheus.NewRegistry()
	clients, err := participants.NewClients(cfg.Participants, &http.Client{}, logg, metrics.NewBreakerMetrics(reg))
	if err != nil {
		logg.Error(context.Background(), "failed to build participant clients", err)
		os.Exit(1)
	}

	orchestrator, err := saga.NewOrchestrator(
		saga.NewRedisStore(redisClient),
		clients.Genres, clients.Authors, clients.Books,
		logg,
		metrics.NewSagaMetrics(reg),
		cfg.Saga.InstanceTTL,
		saga.WithCompensationTimeout(cfg.Saga.CompensationTimeout),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to build saga orchestrator", err)
		os.Exit(1)
	}

	addr := ":" + env.Get("PORT", cfg.App.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	server := api.NewServer(addr, routes.NewOrchestratorRouter(
		cfg,
		logg,
		redisClient,
		orchestrator,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// in-flight sagas get the full request timeout to finish or compensate
		return api.Serve(gctx, server, logg, cfg.Saga.RequestTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "api server shutting down gracefully")
}
