package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertProcessedEvent reports false when the key was already recorded.
	InsertProcessedEvent(ctx context.Context, db *gorm.DB, record *ProcessedEvent) (bool, error)
	// MarkApplied attaches the resolved subscription and effect summary to a claimed record.
	MarkApplied(ctx context.Context, db *gorm.DB, id snowflake.ID, subscriptionID snowflake.ID, metadata datatypes.JSON) error
	ProcessedEventExists(ctx context.Context, db *gorm.DB, provider, eventRef string) (bool, error)
	// InsertEntry reports false when (provider, provider_payment_ref) already exists.
	InsertEntry(ctx context.Context, db *gorm.DB, entry *Entry) (bool, error)
	ListBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]Entry, error)
}
