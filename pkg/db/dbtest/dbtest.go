// Package dbtest opens throwaway SQLite databases carrying the billing schema
// so repositories and services can be tested without Postgres.
package dbtest

import (
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open returns an isolated in-memory database with every billing table created.
// The pool is pinned to one connection so concurrent callers serialize the
// same way row locks serialize them in Postgres.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.New(log.New(io.Discard, "", 0), gormlogger.Config{LogLevel: gormlogger.Silent}),
		NowFunc:                func() time.Time { return time.Now().UTC() },
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
			t.Fatalf("create schema: %v\n%s", err, stmt)
		}
	}
	return conn
}

var schema = []string{
	`CREATE TABLE plans (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		price_amount TEXT NOT NULL,
		currency_code TEXT NOT NULL,
		billing_cycle TEXT NOT NULL,
		max_seats INTEGER NOT NULL DEFAULT 0,
		max_locations INTEGER NOT NULL DEFAULT 0,
		max_period_usage INTEGER NOT NULL DEFAULT 0,
		features TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE credit_packages (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		base_credits INTEGER NOT NULL,
		bonus_credits INTEGER NOT NULL DEFAULT 0,
		price_amount TEXT NOT NULL,
		currency_code TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE subscriptions (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		duration_months INTEGER NOT NULL DEFAULT 1,
		started_at DATETIME,
		expires_at DATETIME,
		original_price TEXT NOT NULL,
		discounted_price TEXT NOT NULL,
		currency_code TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		expiry_warning_sent_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_subscriptions_one_active_per_tenant ON subscriptions (tenant_id) WHERE status = 'active'`,
	`CREATE TABLE subscription_history (
		id TEXT PRIMARY KEY,
		subscription_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		old_plan_id TEXT,
		new_plan_id TEXT NOT NULL,
		old_status TEXT,
		new_status TEXT NOT NULL,
		reason TEXT NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		created_at DATETIME
	)`,
	`CREATE TABLE credit_balances (
		tenant_id TEXT PRIMARY KEY,
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		sequence INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME
	)`,
	`CREATE TABLE credit_transactions (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		type TEXT NOT NULL,
		amount INTEGER NOT NULL,
		balance_after INTEGER NOT NULL CHECK (balance_after >= 0),
		description TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL DEFAULT '',
		payment_id TEXT,
		created_at DATETIME,
		UNIQUE (tenant_id, sequence)
	)`,
	`CREATE UNIQUE INDEX ux_credit_transactions_payment ON credit_transactions (payment_id) WHERE payment_id IS NOT NULL`,
	`CREATE TABLE payments (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		method TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency_code TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		gateway TEXT NOT NULL,
		gateway_txn_id TEXT UNIQUE,
		gateway_token TEXT UNIQUE,
		gateway_data TEXT,
		plan_id TEXT,
		credit_package_id TEXT,
		subscription_id TEXT,
		buyer_name TEXT NOT NULL DEFAULT '',
		buyer_email TEXT NOT NULL DEFAULT '',
		proof_reference TEXT,
		proof_object TEXT,
		approved_by TEXT,
		approved_at DATETIME,
		completed_at DATETIME,
		failure_reason TEXT,
		notes TEXT NOT NULL DEFAULT '',
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE invoices (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		type TEXT NOT NULL,
		invoice_number TEXT NOT NULL UNIQUE,
		issued_at DATETIME NOT NULL,
		document_ref TEXT,
		amount TEXT NOT NULL,
		currency_code TEXT NOT NULL,
		company_name TEXT NOT NULL DEFAULT '',
		tax_id TEXT NOT NULL DEFAULT '',
		metadata TEXT,
		created_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_invoices_sale_per_payment ON invoices (payment_id) WHERE type = 'sale'`,
	`CREATE TABLE invoice_sequences (
		year_month TEXT PRIMARY KEY,
		last_value INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME
	)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		dedup_key TEXT UNIQUE,
		payload TEXT NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE TABLE outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failed_at DATETIME,
		created_at DATETIME
	)`,
}
