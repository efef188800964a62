package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/library-catalog/api"
	"github.com/angelmondragon/library-catalog/api/routes"
	"github.com/angelmondragon/library-catalog/internal/catalog"
	"github.com/angelmondragon/library-catalog/pkg/config"
	"github.com/angelmondragon/library-catalog/pkg/db"
	"github.com/angelmondragon/library-catalog/pkg/env"
	"github.com/angelmondragon/library-catalog/pkg/instance"
	"github.com/angelmondragon/library-catalog/pkg/logger"
	"github.com/angelmondragon/library-catalog/pkg/migrate"
	"github.com/angelmondragon/library-catalog/pkg/outbox"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "catalog-service"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "catalog-service"

	logg = logger.New(logger.Options{
		ServiceName: "catalog-service",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
		Instance:    instance.GetID(),
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	conn := dbClient.DB()
	service, err := catalog.NewService(
		dbClient,
		catalog.NewRepository(conn),
		outbox.NewService(outbox.NewRepository(conn), logg),
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to build catalog service", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	addr := ":" + env.Get("PORT", cfg.App.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting catalog service")

	server := api.NewServer(addr, routes.NewParticipantRouter(
		cfg,
		logg,
		dbClient,
		service,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.Serve(gctx, server, logg, 0)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "catalog service stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "catalog service shutting down gracefully")
}
