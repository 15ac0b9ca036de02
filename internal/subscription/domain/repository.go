package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrSubscriptionNotFound = errors.New("subscription_not_found")

// OverdueCursor is the (expires_at, id) position of the last row a sweep page
// returned. ListOverdue resumes strictly after it.
type OverdueCursor struct {
	ExpiresAt time.Time
	ID        snowflake.ID
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByProviderRef(ctx context.Context, db *gorm.DB, provider, ref string) (*Subscription, error)
	FindByProviderRefForUpdate(ctx context.Context, db *gorm.DB, provider, ref string) (*Subscription, error)
	UpdateState(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	ListOverdue(ctx context.Context, db *gorm.DB, before time.Time, after *OverdueCursor, limit int) ([]Subscription, error)
}
