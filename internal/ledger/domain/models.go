package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EntryStatus records the financial outcome of a payment attempt.
type EntryStatus string

const (
	EntryStatusPaid   EntryStatus = "PAID"
	EntryStatusFailed EntryStatus = "FAILED"
)

// Entry is one append-only billing ledger row. Rows are never updated or deleted.
type Entry struct {
	ID                 snowflake.ID `gorm:"primaryKey"`
	SubscriptionID     snowflake.ID `gorm:"not null;index"`
	OwnerID            string       `gorm:"type:text;not null"`
	Amount             int64        `gorm:"not null"`
	Currency           string       `gorm:"type:text;not null"`
	Provider           string       `gorm:"type:text;not null"`
	ProviderPaymentRef string       `gorm:"type:text;not null"`
	Status             EntryStatus  `gorm:"type:text;not null"`
	PaidAt             *time.Time
	CreatedAt          time.Time `gorm:"not null"`
}

func (Entry) TableName() string { return "billing_ledger_entries" }

// ProcessedEvent marks a canonical event as applied. The unique
// (provider, event_ref) key is the write-time idempotency guard.
type ProcessedEvent struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	Provider       string       `gorm:"type:text;not null"`
	EventRef       string       `gorm:"type:text;not null"`
	Action         string       `gorm:"type:text;not null"`
	SubscriptionID *snowflake.ID
	Metadata       datatypes.JSON `gorm:"type:jsonb"`
	AppliedAt      time.Time      `gorm:"not null"`
}

func (ProcessedEvent) TableName() string { return "processed_events" }
