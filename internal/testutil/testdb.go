// Package testutil provides in-memory database fixtures for package tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	subscriptiondomain "github.com/smallbiznis/paysync/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/paysync/internal/subscription/repository"
	"gorm.io/gorm"
)

var schema = []string{
	`CREATE TABLE subscriptions (
		id BIGINT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		status TEXT NOT NULL,
		provider TEXT NOT NULL,
		provider_subscription_ref TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		trial_ends_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX subscriptions_provider_ref_key ON subscriptions(provider, provider_subscription_ref)`,
	`CREATE TABLE billing_ledger_entries (
		id BIGINT PRIMARY KEY,
		subscription_id BIGINT NOT NULL,
		owner_id TEXT NOT NULL,
		amount BIGINT NOT NULL CHECK (amount >= 0),
		currency TEXT NOT NULL DEFAULT '',
		provider TEXT NOT NULL,
		provider_payment_ref TEXT NOT NULL,
		status TEXT NOT NULL,
		paid_at DATETIME,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX billing_ledger_entries_payment_ref_key ON billing_ledger_entries(provider, provider_payment_ref)`,
	`CREATE TABLE processed_events (
		id BIGINT PRIMARY KEY,
		provider TEXT NOT NULL,
		event_ref TEXT NOT NULL,
		action TEXT NOT NULL,
		subscription_id BIGINT,
		metadata TEXT NOT NULL DEFAULT '{}',
		applied_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX processed_events_provider_event_ref_key ON processed_events(provider, event_ref)`,
}

// OpenDB returns a private in-memory database with the service schema. The
// pool is capped at one connection so concurrent callers serialize the way
// row locks would serialize them on postgres.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db
}

// NewNode returns a snowflake node for fixtures.
func NewNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

// SeedSubscription inserts a subscription row and returns it.
func SeedSubscription(t *testing.T, db *gorm.DB, sub subscriptiondomain.Subscription) subscriptiondomain.Subscription {
	t.Helper()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = sub.ExpiresAt.Add(-24 * time.Hour)
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = sub.CreatedAt
	}
	if err := subscriptionrepo.Provide().Insert(context.Background(), db, &sub); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return sub
}

// LoadSubscription reads a subscription back by provider reference.
func LoadSubscription(t *testing.T, db *gorm.DB, provider, ref string) subscriptiondomain.Subscription {
	t.Helper()
	sub, err := subscriptionrepo.Provide().FindByProviderRef(context.Background(), db, provider, ref)
	if err != nil {
		t.Fatalf("load subscription: %v", err)
	}
	if sub == nil {
		t.Fatalf("subscription %s/%s not found", provider, ref)
	}
	return *sub
}

// Count returns the row count of table.
func Count(t *testing.T, db *gorm.DB, table string) int64 {
	t.Helper()
	var count int64
	if err := db.Raw("SELECT COUNT(1) FROM " + table).Scan(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}
