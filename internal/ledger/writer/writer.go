package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paysync/internal/clock"
	ledgerdomain "github.com/smallbiznis/paysync/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/paysync/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/paysync/internal/subscription/domain"
	"github.com/smallbiznis/paysync/internal/subscription/reconciler"
	webhookdomain "github.com/smallbiznis/paysync/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	reasonSubscriptionNotFound = "subscription_not_found"
	reasonOwnerMismatch        = "owner_mismatch"
	reasonDuplicateEvent       = "duplicate_event"
	reasonDuplicatePayment     = "duplicate_payment_ref"
)

// errRollback aborts the transaction for outcomes that are not failures.
var errRollback = errors.New("rollback")

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Clock            clock.Clock
	Reconciler       *reconciler.Reconciler
	SubscriptionRepo subscriptiondomain.Repository
	LedgerRepo       ledgerdomain.Repository
	ObsMetrics       *obsmetrics.Metrics `optional:"true"`
}

type Writer struct {
	db               *gorm.DB
	log              *zap.Logger
	genID            *snowflake.Node
	clock            clock.Clock
	reconciler       *reconciler.Reconciler
	subscriptionRepo subscriptiondomain.Repository
	ledgerRepo       ledgerdomain.Repository
	obsMetrics       *obsmetrics.Metrics
}

func New(p Params) ledgerdomain.Writer {
	return &Writer{
		db:               p.DB,
		log:              p.Log.Named("ledger.writer"),
		genID:            p.GenID,
		clock:            p.Clock,
		reconciler:       p.Reconciler,
		subscriptionRepo: p.SubscriptionRepo,
		ledgerRepo:       p.LedgerRepo,
		obsMetrics:       p.ObsMetrics,
	}
}

// Apply claims the event, reconciles it against the locked subscription row
// and appends the ledger entry in a single transaction. Outcomes other than
// Applied leave no trace in the database.
func (w *Writer) Apply(ctx context.Context, req ledgerdomain.ApplyRequest) (ledgerdomain.ApplyResult, error) {
	event := req.Event
	now := w.clock.Now().UTC()

	var (
		result   ledgerdomain.ApplyResult
		decision reconciler.Decision
	)

	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := &ledgerdomain.ProcessedEvent{
			ID:        w.genID.Generate(),
			Provider:  event.Provider,
			EventRef:  event.ProviderEventRef,
			Action:    string(event.Action),
			Metadata:  datatypes.JSON(`{}`),
			AppliedAt: now,
		}
		claimed, err := w.ledgerRepo.InsertProcessedEvent(ctx, tx, record)
		if err != nil {
			return transient("claim event", err)
		}
		if !claimed {
			result = ledgerdomain.ApplyResult{Outcome: webhookdomain.OutcomeAlreadyApplied, Reason: reasonDuplicateEvent}
			return errRollback
		}

		subscription, err := w.subscriptionRepo.FindByProviderRefForUpdate(ctx, tx, event.Provider, event.SubscriptionRef)
		if err != nil {
			return transient("load subscription", err)
		}
		if subscription == nil {
			result = ledgerdomain.ApplyResult{Outcome: webhookdomain.OutcomeUnprocessable, Reason: reasonSubscriptionNotFound}
			return errRollback
		}
		if event.OwnerID != "" && subscription.OwnerID != event.OwnerID {
			result = ledgerdomain.ApplyResult{
				Outcome:        webhookdomain.OutcomeUnprocessable,
				SubscriptionID: subscription.ID,
				Reason:         reasonOwnerMismatch,
			}
			return errRollback
		}

		decision = w.reconciler.Decide(*subscription, event, now)
		result = ledgerdomain.ApplyResult{
			Outcome:        webhookdomain.OutcomeApplied,
			SubscriptionID: subscription.ID,
			OwnerID:        subscription.OwnerID,
			PreviousStatus: subscription.Status,
			Status:         decision.Next.Status,
			Change:         decision.Change,
			Reason:         decision.Reason,
		}

		if decision.Updated {
			next := decision.Next
			if err := w.subscriptionRepo.UpdateState(ctx, tx, &next); err != nil {
				return transient("update subscription", err)
			}
		}

		if entry := decision.Ledger; entry != nil {
			entry.ID = w.genID.Generate()
			entry.CreatedAt = now
			inserted, err := w.ledgerRepo.InsertEntry(ctx, tx, entry)
			if err != nil {
				return transient("append ledger entry", err)
			}
			if !inserted {
				result = ledgerdomain.ApplyResult{
					Outcome:        webhookdomain.OutcomeAlreadyApplied,
					SubscriptionID: subscription.ID,
					OwnerID:        subscription.OwnerID,
					Reason:         reasonDuplicatePayment,
				}
				return errRollback
			}
			result.LedgerEntryID = entry.ID
			result.LedgerStatus = entry.Status
		}

		summary := appliedMetadata{
			From:   string(result.PreviousStatus),
			To:     string(result.Status),
			Change: string(result.Change),
			Reason: result.Reason,
		}
		if result.LedgerEntryID != 0 {
			summary.LedgerEntryID = result.LedgerEntryID.String()
		}
		metadata, err := json.Marshal(summary)
		if err != nil {
			return err
		}
		if err := w.ledgerRepo.MarkApplied(ctx, tx, record.ID, subscription.ID, datatypes.JSON(metadata)); err != nil {
			return transient("mark event applied", err)
		}
		return nil
	})

	if errors.Is(err, errRollback) {
		w.log.Debug("event not applied",
			zap.String("provider", event.Provider),
			zap.String("event_ref", event.ProviderEventRef),
			zap.String("outcome", string(result.Outcome)),
			zap.String("reason", result.Reason),
		)
		return result, nil
	}
	if err != nil {
		if !errors.Is(err, ledgerdomain.ErrTransientWrite) {
			err = transient("commit", err)
		}
		return ledgerdomain.ApplyResult{}, err
	}

	w.recordMetrics(ctx, event, result)
	return result, nil
}

type appliedMetadata struct {
	From          string `json:"from"`
	To            string `json:"to"`
	Change        string `json:"change"`
	Reason        string `json:"reason,omitempty"`
	LedgerEntryID string `json:"ledger_entry_id,omitempty"`
}

func (w *Writer) recordMetrics(ctx context.Context, event webhookdomain.CanonicalEvent, result ledgerdomain.ApplyResult) {
	if w.obsMetrics == nil {
		return
	}
	if result.LedgerEntryID != 0 {
		w.obsMetrics.RecordLedgerEntry(ctx, event.Provider, string(result.LedgerStatus))
	}
	if result.PreviousStatus != result.Status {
		w.obsMetrics.RecordTransition(ctx, string(result.PreviousStatus), string(result.Status))
	}
}

func transient(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ledgerdomain.ErrTransientWrite, op, err)
}
