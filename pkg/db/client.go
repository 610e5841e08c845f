package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/inspectbid-backend/pkg/config"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Client owns the gorm pool. Postgres in every deployed environment; sqlite
// for local runs and tests.
type Client struct {
	conn *gorm.DB
}

func New(ctx context.Context, cfg config.DBConfig, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database DSN is required")
	}

	conn, err := gorm.Open(dialectorFor(cfg), &gorm.Config{
		Logger:                 newQueryLogger(logg, cfg.SlowQuery),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	pool, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("sql handle: %w", err)
	}
	tunePool(pool, cfg)

	if logg != nil {
		logg.Info(logg.WithField(ctx, "db_driver", strings.ToLower(cfg.Driver)), "database ready")
	}
	return &Client{conn: conn}, nil
}

// NewFromConn wraps a connection opened elsewhere, mostly by tests.
func NewFromConn(conn *gorm.DB) *Client {
	return &Client{conn: conn}
}

func dialectorFor(cfg config.DBConfig) gorm.Dialector {
	if strings.EqualFold(cfg.Driver, config.DBDriverSQLite) {
		return sqlite.Open(cfg.DSN)
	}
	// simple protocol keeps pgbouncer in transaction mode happy
	return postgres.New(postgres.Config{DSN: cfg.DSN, PreferSimpleProtocol: true})
}

func tunePool(pool *sql.DB, cfg config.DBConfig) {
	if n := cfg.MaxOpenConns; n > 0 {
		pool.SetMaxOpenConns(n)
	}
	if n := cfg.MaxIdleConns; n > 0 {
		pool.SetMaxIdleConns(n)
	}
	if d := cfg.ConnMaxLifetime; d > 0 {
		pool.SetConnMaxLifetime(d)
	}
	if d := cfg.ConnMaxIdleTime; d > 0 {
		pool.SetConnMaxIdleTime(d)
	}
}

func (c *Client) DB() *gorm.DB { return c.conn }

// SQL is the database/sql handle goose runs migrations against.
func (c *Client) SQL() (*sql.DB, error) { return c.conn.DB() }

func (c *Client) Ping(ctx context.Context) error {
	pool, err := c.conn.DB()
	if err != nil {
		return err
	}
	return pool.PingContext(ctx)
}

func (c *Client) Close() error {
	pool, err := c.conn.DB()
	if err != nil {
		return err
	}
	return pool.Close()
}

// WithTx commits when fn returns nil and rolls back otherwise, including on
// panic. Every escrow state change and its outbox row go through here.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return c.conn.WithContext(ctx).Transaction(fn)
}
