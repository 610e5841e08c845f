// Package dbtest opens isolated in-memory sqlite databases carrying the
// escrow schema for repository and service tests.
package dbtest

import (
	"io"
	"log"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE inspection_jobs (
		id TEXT PRIMARY KEY,
		poster_id TEXT NOT NULL,
		property_address TEXT NOT NULL,
		property_city TEXT NOT NULL,
		property_state TEXT NOT NULL,
		property_zip TEXT NOT NULL,
		urgency TEXT NOT NULL DEFAULT 'standard',
		budget_cents INTEGER NOT NULL CHECK (budget_cents > 0),
		currency TEXT NOT NULL DEFAULT 'usd',
		scope TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'draft',
		payment_status TEXT NOT NULL DEFAULT 'pending',
		payout_status TEXT NOT NULL DEFAULT 'none',
		assigned_inspector_id TEXT,
		agreed_price_cents INTEGER,
		agreed_date DATETIME,
		provider_payment_reference TEXT,
		provider_transfer_reference TEXT,
		payout_attempts INTEGER NOT NULL DEFAULT 0,
		refund_due BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME,
		cancelled_at DATETIME,
		completed_at DATETIME
	)`,
	`CREATE TABLE inspection_bids (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL REFERENCES inspection_jobs(id),
		inspector_id TEXT NOT NULL,
		proposed_price_cents INTEGER NOT NULL,
		proposed_date DATETIME,
		message TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_inspection_bids_one_accepted ON inspection_bids (job_id) WHERE status = 'accepted'`,
	`CREATE UNIQUE INDEX ux_inspection_bids_one_pending_per_inspector ON inspection_bids (job_id, inspector_id) WHERE status = 'pending'`,
	`CREATE TABLE escrow_payments (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL REFERENCES inspection_jobs(id),
		payer_id TEXT NOT NULL,
		payee_id TEXT NOT NULL,
		gross_cents INTEGER NOT NULL,
		platform_fee_cents INTEGER NOT NULL,
		net_cents INTEGER NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'held',
		provider_payment_reference TEXT NOT NULL,
		provider_transfer_reference TEXT,
		paid_at DATETIME NOT NULL,
		released_at DATETIME,
		refunded_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME,
		CHECK (gross_cents = platform_fee_cents + net_cents)
	)`,
	`CREATE UNIQUE INDEX ux_escrow_payments_job_id ON escrow_payments (job_id)`,
	`CREATE UNIQUE INDEX ux_escrow_payments_payment_ref ON escrow_payments (provider_payment_reference)`,
	`CREATE TABLE payment_accounts (
		user_id TEXT PRIMARY KEY,
		provider_customer_id TEXT,
		provider_account_id TEXT,
		payouts_enabled BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		payload TEXT,
		read_at DATETIME,
		created_at DATETIME
	)`,
	`CREATE TABLE payment_webhook_events (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT,
		processed_at DATETIME,
		processing_error TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_payment_webhook_events_provider_event ON payment_webhook_events (provider, provider_event_id)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
}

// Open returns a fresh database that lives for the duration of the test.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_foreign_keys=on"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.New(log.New(io.Discard, "", 0), gormlogger.Config{LogLevel: gormlogger.Silent}),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return conn
}
