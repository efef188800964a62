package main

import (
	"context"
	"flag"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/library-catalog/pkg/config"
	"github.com/angelmondragon/library-catalog/pkg/db"
	"github.com/angelmondragon/library-catalog/pkg/instance"
	"github.com/angelmondragon/library-catalog/pkg/logger"
	"github.com/angelmondragon/library-catalog/pkg/outbox"
)

func main() {
	ids := flag.String("ids", "", "comma-separated FAILED outbox event ids to replay")
	all := flag.Bool("all", false, "replay the oldest FAILED outbox events")
	limit := flag.Int("limit", defaultReplayLimit, "maximum rows replayed with -all")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "outbox-replay"})

	req, err := parseRequest(*ids, *all, *limit)
	if err != nil {
		logg.Error(context.Background(), "invalid flags", err)
		flag.Usage()
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "outbox-replay",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
		Instance:    instance.GetID(),
	})

	ctx := context.Background()
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	replayed, err := replay(ctx, outbox.NewRepository(dbClient.DB()), req)
	if err != nil {
		logg.Error(ctx, "outbox replay failed", err)
		os.Exit(1)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"requested": len(req.IDs),
		"all":       req.All,
		"replayed":  replayed,
	})
	logg.Info(ctx, "outbox events reset to pending")
}
