package migrate

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/library-catalog/pkg/config"
	"github.com/angelmondragon/library-catalog/pkg/db"
	"github.com/angelmondragon/library-catalog/pkg/db/models"
	"github.com/angelmondragon/library-catalog/pkg/logger"
)

// MaybeRunDev migrates the schema on startup in dev when CATALOG_AUTO_MIGRATE
// is set. Postgres runs the goose files; sqlite gets the gorm schema instead
// because the SQL files use Postgres types.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	meta := map[string]any{"env": cfg.App.Env, "driver": cfg.DB.Driver, "dir": DefaultDir}
	ctx = logg.WithFields(ctx, meta)

	if cfg.DB.Driver == config.DBDriverSQLite {
		logg.Info(ctx, "running gorm auto-migrate (sqlite)")
		if err := AutoMigrate(client.DB()); err != nil {
			return fmt.Errorf("auto-migrate: %w", err)
		}
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	logg.Info(ctx, "running Goose migrations (dev auto-run)")
	if err := Run(ctx, sqlDB, DefaultDir, "up"); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}

	logg.Info(ctx, "Goose migrations completed")
	return nil
}

// AutoMigrate creates the catalog and outbox tables from the gorm models.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&models.OutboxEvent{},
		&models.Genre{},
		&models.Author{},
		&models.Book{},
		&models.BookAuthor{},
	)
}
