package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/paysync/internal/subscription/domain"
	pkgdb "github.com/smallbiznis/paysync/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const selectColumns = `SELECT id, owner_id, status, provider, provider_subscription_ref,
	expires_at, trial_ends_at, created_at, updated_at
	FROM subscriptions`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *domain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, owner_id, status, provider, provider_subscription_ref,
			expires_at, trial_ends_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.OwnerID,
		subscription.Status,
		subscription.Provider,
		subscription.ProviderSubscriptionRef,
		subscription.ExpiresAt,
		subscription.TrialEndsAt,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) FindByProviderRef(ctx context.Context, db *gorm.DB, provider, ref string) (*domain.Subscription, error) {
	return r.findByProviderRef(ctx, db, provider, ref, false)
}

// FindByProviderRefForUpdate locks the row for the rest of the transaction
// on dialects that support row locks.
func (r *repo) FindByProviderRefForUpdate(ctx context.Context, db *gorm.DB, provider, ref string) (*domain.Subscription, error) {
	return r.findByProviderRef(ctx, db, provider, ref, true)
}

func (r *repo) findByProviderRef(ctx context.Context, db *gorm.DB, provider, ref string, forUpdate bool) (*domain.Subscription, error) {
	query := selectColumns + ` WHERE provider = ? AND provider_subscription_ref = ? LIMIT 1`
	if forUpdate && pkgdb.SupportsRowLocks(db) {
		query += " FOR UPDATE"
	}

	var subscription domain.Subscription
	if err := db.WithContext(ctx).Raw(query, provider, ref).Scan(&subscription).Error; err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) UpdateState(ctx context.Context, db *gorm.DB, subscription *domain.Subscription) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, expires_at = ?, updated_at = ?
		 WHERE id = ?`,
		subscription.Status,
		subscription.ExpiresAt,
		subscription.UpdatedAt,
		subscription.ID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

// ListOverdue returns non-terminal subscriptions whose expires_at is before the cutoff,
// ordered by (expires_at, id). A non-nil after skips every row up to and
// including that position.
func (r *repo) ListOverdue(ctx context.Context, db *gorm.DB, before time.Time, after *domain.OverdueCursor, limit int) ([]domain.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	query := selectColumns + ` WHERE status IN (?, ?, ?) AND expires_at < ?`
	args := []any{
		domain.SubscriptionStatusTrial,
		domain.SubscriptionStatusActive,
		domain.SubscriptionStatusPastDue,
		before,
	}
	if after != nil {
		query += ` AND (expires_at > ? OR (expires_at = ? AND id > ?))`
		args = append(args, after.ExpiresAt, after.ExpiresAt, after.ID)
	}
	query += ` ORDER BY expires_at ASC, id ASC LIMIT ?`
	args = append(args, limit)

	var items []domain.Subscription
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
