// Package notify delivers post-commit subscription change notifications.
// Delivery is best effort: failures are logged and never undo a commit.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/paysync/internal/config"
	obsmetrics "github.com/smallbiznis/paysync/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultChannel = "paysync.subscription.changes"

// Notification describes one committed subscription change.
type Notification struct {
	Action         string    `json:"action"`
	SubscriptionID string    `json:"subscription_id"`
	OwnerID        string    `json:"owner_id"`
	Provider       string    `json:"provider"`
	EventRef       string    `json:"event_ref"`
	Status         string    `json:"status"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, notification Notification) error {
	n.log.Info("subscription changed",
		zap.String("action", notification.Action),
		zap.String("subscription_id", notification.SubscriptionID),
		zap.String("provider", notification.Provider),
		zap.String("event_ref", notification.EventRef),
		zap.String("status", notification.Status),
		zap.Time("occurred_at", notification.OccurredAt),
	)
	return nil
}

type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisNotifier publishes notifications as JSON on a pub/sub channel.
type RedisNotifier struct {
	client  publisher
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = defaultChannel
	}
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Notify(ctx context.Context, notification Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel, payload).Err()
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, notification Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, notification); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	Redis      *redis.Client       `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// New builds the configured notifier chain. The log notifier is always on;
// Redis pub/sub is added when a client is available.
func New(p Params) Notifier {
	notifiers := Multi{NewLogNotifier(p.Log)}
	if p.Redis != nil {
		notifiers = append(notifiers, NewRedisNotifier(p.Redis, p.Cfg.NotifyChannel))
	}
	return &Dispatcher{
		next:       notifiers,
		log:        p.Log.Named("notify"),
		obsMetrics: p.ObsMetrics,
	}
}

// Dispatcher guards the notifier chain: it swallows and counts failures so
// the caller's outcome never depends on delivery.
type Dispatcher struct {
	next       Notifier
	log        *zap.Logger
	obsMetrics *obsmetrics.Metrics
}

func NewDispatcher(next Notifier, log *zap.Logger, m *obsmetrics.Metrics) *Dispatcher {
	return &Dispatcher{next: next, log: log.Named("notify"), obsMetrics: m}
}

func (d *Dispatcher) Notify(ctx context.Context, notification Notification) error {
	if d.next == nil {
		return nil
	}
	if err := d.next.Notify(ctx, notification); err != nil {
		d.log.Warn("notification delivery failed",
			zap.String("action", notification.Action),
			zap.String("subscription_id", notification.SubscriptionID),
			zap.Error(err),
		)
		d.obsMetrics.RecordNotifyFailure(ctx, notification.Action)
	}
	return nil
}
