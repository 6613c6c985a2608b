package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/lock"

	"github.com/angelmondragon/eventpay-backend/pkg/config"
	"github.com/angelmondragon/eventpay-backend/pkg/db"
	"github.com/angelmondragon/eventpay-backend/pkg/logger"
)

// MaybeRunDev brings a dev database up to date on boot when auto-migrate is on. The api,
// publisher and cron binaries all call it, so goose holds a Postgres advisory lock while
// applying.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithField(ctx, "env", cfg.App.Env)
	applied, err := UpLocked(ctx, sqlDB)
	if err != nil {
		return err
	}
	for _, res := range applied {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"version":     res.Source.Version,
			"duration_ms": res.Duration.Milliseconds(),
		}), "migration applied")
	}
	if len(applied) == 0 {
		logg.Debug(ctx, "schema already current")
	}
	return nil
}

// UpLocked applies every pending embedded migration under a session advisory lock.
func UpLocked(ctx context.Context, sqlDB *sql.DB) ([]*goose.MigrationResult, error) {
	locker, err := lock.NewPostgresSessionLocker()
	if err != nil {
		return nil, fmt.Errorf("creating migration locker: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, Embedded(), goose.WithSessionLocker(locker))
	if err != nil {
		return nil, fmt.Errorf("creating goose provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return results, fmt.Errorf("applying migrations: %w", err)
	}
	return results, nil
}
