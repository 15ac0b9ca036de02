package service

import (
	"context"
	"errors"
	"net/http"

	"github.com/smallbiznis/paysync/internal/clock"
	"github.com/smallbiznis/paysync/internal/idempotency"
	ledgerdomain "github.com/smallbiznis/paysync/internal/ledger/domain"
	"github.com/smallbiznis/paysync/internal/notify"
	obscontext "github.com/smallbiznis/paysync/internal/observability/context"
	"github.com/smallbiznis/paysync/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paysync/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/paysync/internal/subscription/domain"
	"github.com/smallbiznis/paysync/internal/webhook/adapters"
	"github.com/smallbiznis/paysync/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	Adapters   *adapters.Registry
	Guard      *idempotency.Guard
	Writer     ledgerdomain.Writer
	Notifier   notify.Notifier
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	clock      clock.Clock
	adapters   *adapters.Registry
	guard      *idempotency.Guard
	writer     ledgerdomain.Writer
	notifier   notify.Notifier
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		log:        p.Log.Named("webhook.service"),
		clock:      p.Clock,
		adapters:   p.Adapters,
		guard:      p.Guard,
		writer:     p.Writer,
		notifier:   p.Notifier,
		obsMetrics: p.ObsMetrics,
	}
}

// Handle detects the provider, verifies and parses the delivery, and applies
// the resulting canonical event. A nil error means the delivery should be
// acknowledged; the Result says what happened to it.
func (s *Service) Handle(ctx context.Context, headers http.Header, payload []byte) (domain.Result, error) {
	adapter, err := s.adapters.Detect(headers, payload)
	if err != nil {
		s.obsMetrics.RecordWebhookEvent(ctx, "unknown", "unknown_provider")
		return domain.Result{}, domain.ErrUnknownProvider
	}
	provider := adapter.Provider()
	ctx = obscontext.WithProvider(ctx, provider)
	log := logger.WithContext(ctx, s.log)
	result := domain.Result{Provider: provider}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.obsMetrics.RecordSignatureFailure(ctx, provider)
		s.obsMetrics.RecordWebhookEvent(ctx, provider, "invalid_signature")
		log.Warn("webhook signature rejected")
		return result, domain.ErrInvalidSignature
	}

	event, err := adapter.Parse(ctx, payload)
	switch {
	case errors.Is(err, domain.ErrEventIgnored):
		result.Outcome = domain.OutcomeIgnored
		s.finish(ctx, log, result)
		return result, nil
	case err != nil:
		result.Outcome = domain.OutcomeUnprocessable
		result.Reason = err.Error()
		s.finish(ctx, log, result)
		return result, nil
	}

	result.EventRef = event.ProviderEventRef
	result.Action = event.Action
	log = log.With(
		zap.String("event_ref", event.ProviderEventRef),
		zap.String("subscription_ref", event.SubscriptionRef),
		zap.String("action", string(event.Action)),
	)

	if err := event.Validate(); err != nil {
		result.Outcome = domain.OutcomeUnprocessable
		result.Reason = err.Error()
		s.finish(ctx, log, result)
		return result, nil
	}

	return s.apply(ctx, log, *event, result)
}

// Apply runs an already-normalized event through the idempotency guard and
// the writer. Internally synthesized events enter here.
func (s *Service) Apply(ctx context.Context, event domain.CanonicalEvent) (domain.Result, error) {
	ctx = obscontext.WithProvider(ctx, event.Provider)
	log := logger.WithEvent(s.log, event.Provider, event.ProviderEventRef, event.SubscriptionRef)
	result := domain.Result{Provider: event.Provider, EventRef: event.ProviderEventRef, Action: event.Action}
	if err := event.Validate(); err != nil {
		result.Outcome = domain.OutcomeUnprocessable
		result.Reason = err.Error()
		s.finish(ctx, log, result)
		return result, nil
	}
	return s.apply(ctx, log, event, result)
}

func (s *Service) apply(ctx context.Context, log *zap.Logger, event domain.CanonicalEvent, result domain.Result) (domain.Result, error) {
	key := event.IdempotencyKey()
	if s.guard != nil {
		// Guard errors are already logged; the writer is authoritative.
		if proceed, _ := s.guard.ShouldProcess(ctx, key); !proceed {
			result.Outcome = domain.OutcomeAlreadyApplied
			s.finish(ctx, log, result)
			return result, nil
		}
	}

	applied, err := s.writer.Apply(ctx, ledgerdomain.ApplyRequest{Event: event})
	if err != nil {
		s.obsMetrics.RecordWebhookEvent(ctx, event.Provider, "transient_error")
		log.Error("webhook apply failed", zap.Error(err))
		return result, err
	}

	result.Outcome = applied.Outcome
	result.Reason = applied.Reason
	result.Change = string(applied.Change)

	if applied.Outcome == domain.OutcomeApplied || applied.Outcome == domain.OutcomeAlreadyApplied {
		if s.guard != nil {
			s.guard.Remember(ctx, key)
		}
	}
	if applied.Outcome == domain.OutcomeApplied && applied.Change != subscriptiondomain.ChangeNone {
		s.notify(ctx, event, applied)
	}

	s.finish(ctx, log, result)
	return result, nil
}

func (s *Service) notify(ctx context.Context, event domain.CanonicalEvent, applied ledgerdomain.ApplyResult) {
	if s.notifier == nil {
		return
	}
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.clock.Now()
	}
	_ = s.notifier.Notify(ctx, notify.Notification{
		Action:         string(applied.Change),
		SubscriptionID: applied.SubscriptionID.String(),
		OwnerID:        applied.OwnerID,
		Provider:       event.Provider,
		EventRef:       event.ProviderEventRef,
		Status:         string(applied.Status),
		OccurredAt:     occurredAt.UTC(),
	})
}

func (s *Service) finish(ctx context.Context, log *zap.Logger, result domain.Result) {
	s.obsMetrics.RecordWebhookEvent(ctx, result.Provider, string(result.Outcome))

	fields := []zap.Field{zap.String("outcome", string(result.Outcome))}
	if result.Reason != "" {
		fields = append(fields, zap.String("reason", result.Reason))
	}
	if result.Change != "" {
		fields = append(fields, zap.String("change", result.Change))
	}

	switch result.Outcome {
	case domain.OutcomeUnprocessable:
		log.Warn("webhook event not processable", fields...)
	case domain.OutcomeApplied:
		log.Info("webhook event applied", fields...)
	default:
		log.Debug("webhook event skipped", fields...)
	}
}
