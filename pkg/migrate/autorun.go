package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/inspectbid-backend/pkg/config"
	"github.com/angelmondragon/inspectbid-backend/pkg/db"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
)

type bootAction int

const (
	bootSkip bootAction = iota
	bootApply
	bootCheck
)

// bootActionFor picks what a service does with the schema on startup. Only
// dev applies migrations itself; elsewhere the migrate binary owns that.
func bootActionFor(cfg *config.Config) bootAction {
	switch {
	case cfg.FeatureFlags.UseSQLite:
		return bootSkip
	case cfg.App.IsDev() && cfg.FeatureFlags.AutoMigrate:
		return bootApply
	default:
		return bootCheck
	}
}

// EnsureSchema runs on every service boot. In production a service refuses to
// start against a schema that is behind the binary, since escrow writes depend
// on the newest constraints.
func EnsureSchema(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	action := bootActionFor(cfg)
	if action == bootSkip {
		return nil
	}
	sqlDB, err := client.SQL()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	ctx = logg.WithField(ctx, "env", cfg.App.Env)

	if action == bootApply {
		logg.Info(ctx, "applying migrations (dev auto-migrate)")
		if err := Run(ctx, sqlDB, "up"); err != nil {
			return fmt.Errorf("running goose up: %w", err)
		}
		return nil
	}

	pending, err := Pending(ctx, sqlDB)
	if err != nil {
		return err
	}
	if pending == 0 {
		return nil
	}
	ctx = logg.WithField(ctx, "pending_migrations", pending)
	if cfg.App.IsProd() {
		return fmt.Errorf("schema is %d migration(s) behind; run cmd/migrate first", pending)
	}
	logg.Warn(ctx, "schema is behind the embedded migrations")
	return nil
}

// Pending counts embedded migrations newer than the database version.
func Pending(ctx context.Context, sqlDB *sql.DB) (int, error) {
	if err := prepare(); err != nil {
		return 0, err
	}
	current, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err != nil {
		return 0, fmt.Errorf("get db version: %w", err)
	}
	migrations, err := goose.CollectMigrations(embeddedDir, current, goose.MaxVersion)
	if err != nil {
		return 0, fmt.Errorf("collect migrations: %w", err)
	}
	return len(migrations), nil
}
