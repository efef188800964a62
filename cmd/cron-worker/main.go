package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/library-catalog/api"
	"github.com/angelmondragon/library-catalog/internal/cron"
	"github.com/angelmondragon/library-catalog/internal/participants"
	"github.com/angelmondragon/library-catalog/internal/saga"
	"github.com/angelmondragon/library-catalog/pkg/config"
	"github.com/angelmondragon/library-catalog/pkg/db"
	"github.com/angelmondragon/library-catalog/pkg/instance"
	"github.com/angelmondragon/library-catalog/pkg/logger"
	"github.com/angelmondragon/library-catalog/pkg/metrics"
	"github.com/angelmondragon/library-catalog/pkg/migrate"
	"github.com/angelmondragon/library-catalog/pkg/outbox"
	"github.com/angelmondragon/library-catalog/pkg/redis"
)

func main() {
	once := flag.String("once", "", "comma-separated job names to run a single time, or \"all\"")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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
	exitOnErr(logg, "failed to build saga orchestrator", err)

	outboxRepo := outbox.NewRepository(dbClient.DB())
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
		Retention:  cfg.Outbox.RetentionDays,
	})
	exitOnErr(logg, "failed to create outbox retention job", err)
	failedReport, err := cron.NewOutboxFailedReportJob(cron.OutboxFailedReportJobParams{
		Logger:     logg,
		Repository: outboxRepo,
		Metrics:    metrics.NewOutboxMetrics(reg),
	})
	exitOnErr(logg, "failed to create outbox report job", err)
	recovery, err := cron.NewSagaRecoveryJob(cron.SagaRecoveryJobParams{
		Logger:       logg,
		Orchestrator: orchestrator,
		StaleAfter:   cfg.Saga.StaleAfter,
		Batch:        cfg.Saga.RecoveryBatch,
	})
	exitOnErr(logg, "failed to create saga recovery job", err)

	registry, err := cron.NewRegistry(recovery, retention, failedReport)
	exitOnErr(logg, "failed to register cron jobs", err)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker"), instance.GetID(), 2*cfg.Cron.Interval)
	exitOnErr(logg, "failed to create cron lock", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
		Interval: cfg.Cron.Interval,
	})
	exitOnErr(logg, "failed to create cron service", err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"worker":      instance.GetID(),
	})

	if *once != "" {
		var names []string
		if *once != "all" {
			names = strings.Split(*once, ",")
		}
		if err := service.RunOnce(ctx, names...); err != nil {
			logg.Error(ctx, "cron run failed", err)
			os.Exit(1)
		}
		return
	}

	logg.Info(ctx, "starting cron worker")

	metricsSrv := api.NewServer(cfg.Metrics.Addr, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return service.Run(gctx)
	})
	g.Go(func() error {
		return api.Serve(gctx, metricsSrv, logg, 5*time.Second)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func exitOnErr(logg *logger.Logger, msg string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), msg, err)
	os.Exit(1)
}
