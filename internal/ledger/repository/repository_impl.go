package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paysync/internal/ledger/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// InsertProcessedEvent claims (provider, event_ref). The conflict clause is
// rendered per dialect, so a lost race shows up as zero affected rows instead
// of an error that would abort the surrounding transaction.
func (r *repo) InsertProcessedEvent(ctx context.Context, db *gorm.DB, record *domain.ProcessedEvent) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "event_ref"}},
			DoNothing: true,
		}).
		Create(record)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkApplied(ctx context.Context, db *gorm.DB, id snowflake.ID, subscriptionID snowflake.ID, metadata datatypes.JSON) error {
	return db.WithContext(ctx).Exec(
		`UPDATE processed_events
		 SET subscription_id = ?, metadata = ?
		 WHERE id = ?`,
		subscriptionID,
		metadata,
		id,
	).Error
}

func (r *repo) ProcessedEventExists(ctx context.Context, db *gorm.DB, provider, eventRef string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM processed_events
		 WHERE provider = ? AND event_ref = ?`,
		provider,
		eventRef,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) InsertEntry(ctx context.Context, db *gorm.DB, entry *domain.Entry) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_payment_ref"}},
			DoNothing: true,
		}).
		Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]domain.Entry, error) {
	var items []domain.Entry
	err := db.WithContext(ctx).Raw(
		`SELECT id, subscription_id, owner_id, amount, currency, provider,
			provider_payment_ref, status, paid_at, created_at
		 FROM billing_ledger_entries
		 WHERE subscription_id = ?
		 ORDER BY created_at ASC, id ASC`,
		subscriptionID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
