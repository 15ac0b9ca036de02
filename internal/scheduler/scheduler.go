package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paysync/internal/cache"
	"github.com/smallbiznis/paysync/internal/clock"
	obsmetrics "github.com/smallbiznis/paysync/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/paysync/internal/subscription/domain"
	webhookdomain "github.com/smallbiznis/paysync/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	jobExpirySweep = "expiry_sweep"
	lockKeyPrefix  = "paysync:lock:scheduler:"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Clock            clock.Clock
	SubscriptionRepo subscriptiondomain.Repository
	WebhookSvc       webhookdomain.Service
	Locker           *cache.Locker                `optional:"true"`
	Metrics          *obsmetrics.SchedulerMetrics `optional:"true"`
	Config           Config                       `optional:"true"`
}

// Scheduler runs periodic maintenance jobs. Today that is the expiry sweep,
// which lapses subscriptions no provider event has renewed.
type Scheduler struct {
	db               *gorm.DB
	log              *zap.Logger
	cfg              Config
	genID            *snowflake.Node
	clock            clock.Clock
	subscriptionRepo subscriptiondomain.Repository
	webhookSvc       webhookdomain.Service
	locker           *cache.Locker
	metrics          *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.SubscriptionRepo == nil || p.WebhookSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:               p.DB,
		log:              p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:              p.Config.withDefaults(),
		genID:            p.GenID,
		clock:            p.Clock,
		subscriptionRepo: p.SubscriptionRepo,
		webhookSvc:       p.WebhookSvc,
		locker:           p.Locker,
		metrics:          p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		run.start()
	}
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errors == 0 {
			run.errors++
		}
		run.finish()
	}
	if err == nil {
		return nil
	}

	s.metrics.IncJobError(name, err)
	// A timed-out sweep resumes on the next tick.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.metrics.IncJobTimeout(name)
		run.log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every job a single time. Jobs are guarded by a lease so only
// one replica sweeps at a time.
func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.withLease(parent, jobExpirySweep, func(ctx context.Context) error {
		return s.runJob(ctx, jobExpirySweep, s.cfg.BatchSize, s.cfg.JobTimeout, s.ExpirySweepJob)
	})
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) withLease(ctx context.Context, job string, fn func(context.Context) error) error {
	key := lockKeyPrefix + job
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("%s: acquire lease: %w", job, err)
	}
	if !ok {
		s.log.Debug("scheduler lease held elsewhere", zap.String("job", job))
		return nil
	}
	defer func() {
		// The job context may already be done; release on a fresh one.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, key, token); err != nil {
			s.log.Warn("scheduler lease release failed", zap.String("job", job), zap.Error(err))
		}
	}()
	return fn(ctx)
}

// ExpirySweepJob expires every non-terminal subscription whose expires_at
// passed more than the grace period ago. Each expiry goes through the regular
// ingestion path as a synthetic status change, so it is idempotent and
// notifies like any provider event.
func (s *Scheduler) ExpirySweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, jobExpirySweep, s.cfg.BatchSize)
	if owner {
		run.start()
		defer run.finish()
	}

	now := s.clock.Now()
	cutoff := now.Add(-s.cfg.Grace)
	var (
		after  *subscriptiondomain.OverdueCursor
		jobErr error
	)

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		overdue, err := s.subscriptionRepo.ListOverdue(ctx, s.db, cutoff, after, s.cfg.BatchSize)
		if err != nil {
			run.fail("scheduler.expiry.list.failed", err)
			return errors.Join(jobErr, err)
		}

		for _, sub := range overdue {
			result, err := s.webhookSvc.Apply(ctx, expiryEvent(sub, now))
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				run.fail("scheduler.expiry.apply.failed", err,
					zap.String("subscription_id", sub.ID.String()),
				)
				continue
			}
			s.metrics.AddBatchProcessed(jobExpirySweep, string(result.Outcome), 1)
			if result.Change == string(subscriptiondomain.ChangeExpired) {
				run.AddProcessed(1)
			}
		}

		// Failed rows stay overdue, so paging continues past them by position.
		if len(overdue) < s.cfg.BatchSize {
			break
		}
		last := overdue[len(overdue)-1]
		after = &subscriptiondomain.OverdueCursor{ExpiresAt: last.ExpiresAt, ID: last.ID}
	}

	return jobErr
}

// expiryEvent builds the synthetic status change for sub. The reference is
// derived from expires_at, so a renewal that moves expires_at yields a new
// reference while repeated sweeps of the same lapse collapse into one. The
// event is pinned to that expires_at: a payment committed after the listing
// turns it into a no-op inside the writer's locked transaction.
func expiryEvent(sub subscriptiondomain.Subscription, now time.Time) webhookdomain.CanonicalEvent {
	expiresAt := sub.ExpiresAt
	return webhookdomain.CanonicalEvent{
		Provider:          sub.Provider,
		ProviderEventRef:  "expire:" + sub.ID.String() + ":" + strconv.FormatInt(sub.ExpiresAt.Unix(), 10),
		SubscriptionRef:   sub.ProviderSubscriptionRef,
		OwnerID:           sub.OwnerID,
		Action:            webhookdomain.ActionStatusChanged,
		NewStatus:         string(subscriptiondomain.SubscriptionStatusExpired),
		OccurredAt:        now,
		ExpectedExpiresAt: &expiresAt,
	}
}
