// Package bootstrap owns process startup for the binaries under cmd/: env
// loading, config, logger, database and the optional redis connection.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/angelmondragon/inspectbid-backend/pkg/config"
	"github.com/angelmondragon/inspectbid-backend/pkg/db"
	"github.com/angelmondragon/inspectbid-backend/pkg/env"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
	"github.com/angelmondragon/inspectbid-backend/pkg/migrate"
	"github.com/angelmondragon/inspectbid-backend/pkg/redis"
)

type Options struct {
	Service string
	Redis   bool
	// SkipSchemaCheck is for the migrate binary, which is what fixes the schema.
	SkipSchemaCheck bool
}

// Runtime is the connected process. Close releases everything Start opened,
// newest first.
type Runtime struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client
	Redis  *redis.Client

	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// Main runs fn inside a started runtime and exits non-zero when startup or
// fn fails. fn's context is cancelled on SIGINT or SIGTERM.
func Main(opts Options, fn func(ctx context.Context, rt *Runtime) error) {
	boot := logger.New(logger.Options{ServiceName: opts.Service})
	rt, err := Start(context.Background(), opts, boot)
	if err != nil {
		boot.Error(context.Background(), "startup failed", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx = rt.Logger.WithFields(ctx, map[string]any{
		"env":      rt.Config.App.Env,
		"instance": env.InstanceID(),
	})
	err = fn(ctx, rt)
	stop()

	if cerr := rt.Close(); cerr != nil {
		rt.Logger.Warn(rt.Logger.WithField(ctx, "error", cerr.Error()), "shutdown.close_failed")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		rt.Logger.Error(ctx, opts.Service+" stopped unexpectedly", err)
		os.Exit(1)
	}
	rt.Logger.Info(ctx, opts.Service+" stopped")
}

// Start loads configuration and opens connections. On error everything
// already opened is closed again.
func Start(ctx context.Context, opts Options, boot *logger.Logger) (rt *Runtime, err error) {
	if loadErr := godotenv.Load(); loadErr != nil && boot != nil {
		boot.Debug(ctx, ".env not loaded, using process environment")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	rt = &Runtime{
		Config: cfg,
		Logger: logger.New(logger.Options{
			ServiceName: opts.Service,
			Level:       logger.ParseLevel(cfg.App.LogLevel),
			WarnStack:   cfg.App.LogWarnStack,
		}),
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, rt.Close())
			rt = nil
		}
	}()

	if rt.DB, err = db.New(ctx, cfg.DB, rt.Logger); err != nil {
		return rt, fmt.Errorf("database: %w", err)
	}
	rt.onClose("database", rt.DB.Close)

	if !opts.SkipSchemaCheck {
		if err = migrate.EnsureSchema(ctx, cfg, rt.Logger, rt.DB); err != nil {
			return rt, fmt.Errorf("schema: %w", err)
		}
	}

	if opts.Redis {
		if rt.Redis, err = redis.New(ctx, cfg.Redis, rt.Logger); err != nil {
			return rt, fmt.Errorf("redis: %w", err)
		}
		rt.onClose("redis", rt.Redis.Close)
	}
	return rt, nil
}

// OnClose registers a resource the binary opened itself.
func (rt *Runtime) OnClose(name string, fn func() error) {
	rt.onClose(name, fn)
}

func (rt *Runtime) onClose(name string, fn func() error) {
	rt.closers = append(rt.closers, closer{name: name, fn: fn})
}

func (rt *Runtime) Close() error {
	if rt == nil {
		return nil
	}
	var errs error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		c := rt.closers[i]
		if err := c.fn(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	rt.closers = nil
	return errs
}
