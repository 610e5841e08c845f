package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/angelmondragon/inspectbid-backend/internal/bootstrap"
	"github.com/angelmondragon/inspectbid-backend/pkg/migrate"
)

// destructive commands drop escrow history; production needs -force.
var destructive = map[string]bool{
	"down":  true,
	"redo":  true,
	"reset": true,
}

func main() {
	cmd := flag.String("cmd", "up", "up|down|redo|reset|status|version|create|validate")
	dir := flag.String("dir", migrate.DefaultDir, "migrations directory for create and validate")
	name := flag.String("name", "", "migration name for -cmd=create")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	force := flag.Bool("force", false, "allow destructive commands in production")
	flag.Parse()

	// create and validate work on the source tree and need no config
	switch *cmd {
	case "create":
		if *name == "" {
			exit("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(*dir, *name)
		if err != nil {
			exit("create migration: %v", err)
		}
		fmt.Println("created migration:", path)
		return
	case "validate":
		if err := migrate.ValidateDir(*dir); err != nil {
			exit("migration validation failed: %v", err)
		}
		fmt.Println("migration validation passed")
		return
	}

	bootstrap.Main(bootstrap.Options{Service: "migrate", SkipSchemaCheck: true}, func(ctx context.Context, rt *bootstrap.Runtime) error {
		if destructive[*cmd] && rt.Config.App.IsProd() && !*force {
			return fmt.Errorf("refusing %q in production without -force", *cmd)
		}
		sqlDB, err := rt.DB.SQL()
		if err != nil {
			return err
		}
		ctx = rt.Logger.WithField(ctx, "cmd", *cmd)

		switch *cmd {
		case "up", "down", "redo", "reset", "status":
			err = migrate.Run(ctx, sqlDB, *cmd)
		case "version":
			if *version == "" {
				return errors.New("missing -version for version command")
			}
			err = migrate.MigrateToVersion(ctx, sqlDB, *version)
		default:
			return fmt.Errorf("unknown -cmd value: %s", *cmd)
		}
		if err != nil {
			return fmt.Errorf("migrate %s: %w", *cmd, err)
		}
		rt.Logger.Info(ctx, "migrate.done")
		return nil
	})
}

func exit(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
