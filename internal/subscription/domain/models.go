// Package domain contains the persistence model for paying subscriptions.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusTrial    SubscriptionStatus = "TRIAL"
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
	SubscriptionStatusExpired  SubscriptionStatus = "EXPIRED"
)

// Statuses lists every lifecycle state in declaration order.
var Statuses = []SubscriptionStatus{
	SubscriptionStatusTrial,
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
	SubscriptionStatusCanceled,
	SubscriptionStatusExpired,
}

// IsTerminal reports whether no further transition is permitted from s.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusCanceled || s == SubscriptionStatusExpired
}

func (s SubscriptionStatus) Valid() bool {
	for _, status := range Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// ParseStatus validates a raw status value against the enum.
func ParseStatus(raw string) (SubscriptionStatus, bool) {
	status := SubscriptionStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", false
	}
	return status, true
}

// Subscription is one paying account's billing agreement with a provider.
type Subscription struct {
	ID                      snowflake.ID       `gorm:"primaryKey"`
	OwnerID                 string             `gorm:"type:text;not null"`
	Status                  SubscriptionStatus `gorm:"type:text;not null"`
	Provider                string             `gorm:"type:text;not null"`
	ProviderSubscriptionRef string             `gorm:"type:text;not null"`
	ExpiresAt               time.Time          `gorm:"not null"`
	TrialEndsAt             *time.Time
	CreatedAt               time.Time `gorm:"not null"`
	UpdatedAt               time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// Change is the post-commit tag describing what an applied event did.
type Change string

const (
	ChangeActivated Change = "activated"
	ChangeRenewed   Change = "renewed"
	ChangePastDue   Change = "past_due"
	ChangeCanceled  Change = "canceled"
	ChangeExpired   Change = "expired"
	ChangeTrialing  Change = "trialing"
	ChangeNone      Change = "none"
)
