// Package idempotency implements the read-only duplicate pre-check that runs
// before the transactional writer. It only saves work: the writer's unique
// processed-event insert remains the enforcement point.
package idempotency

import (
	"context"
	"time"

	"github.com/smallbiznis/paysync/internal/cache"
	ledgerdomain "github.com/smallbiznis/paysync/internal/ledger/domain"
	webhookdomain "github.com/smallbiznis/paysync/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	keyPrefix  = "paysync:processed:"
	defaultTTL = 72 * time.Hour
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Store cache.Store
	Repo  ledgerdomain.Repository
}

type Guard struct {
	db    *gorm.DB
	log   *zap.Logger
	store cache.Store
	repo  ledgerdomain.Repository
	ttl   time.Duration
}

func NewGuard(p Params) *Guard {
	return &Guard{
		db:    p.DB,
		log:   p.Log.Named("idempotency"),
		store: p.Store,
		repo:  p.Repo,
		ttl:   defaultTTL,
	}
}

// ShouldProcess reports false only when key is known to be applied. Lookup
// failures answer true so the writer can decide.
func (g *Guard) ShouldProcess(ctx context.Context, key webhookdomain.Key) (bool, error) {
	if g.store != nil {
		seen, err := g.store.Exists(ctx, cacheKey(key))
		if err != nil {
			g.log.Warn("idempotency cache lookup failed", zap.String("key", key.String()), zap.Error(err))
		} else if seen {
			return false, nil
		}
	}

	exists, err := g.repo.ProcessedEventExists(ctx, g.db, key.Provider, key.EventRef)
	if err != nil {
		g.log.Warn("processed event lookup failed", zap.String("key", key.String()), zap.Error(err))
		return true, err
	}
	if exists {
		g.remember(ctx, key)
		return false, nil
	}
	return true, nil
}

// Remember caches key after the writer committed it.
func (g *Guard) Remember(ctx context.Context, key webhookdomain.Key) {
	g.remember(ctx, key)
}

func (g *Guard) remember(ctx context.Context, key webhookdomain.Key) {
	if g.store == nil {
		return
	}
	if err := g.store.Set(ctx, cacheKey(key), g.ttl); err != nil {
		g.log.Warn("idempotency cache write failed", zap.String("key", key.String()), zap.Error(err))
	}
}

func cacheKey(key webhookdomain.Key) string {
	return keyPrefix + key.String()
}
