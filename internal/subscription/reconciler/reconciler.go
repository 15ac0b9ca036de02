// Package reconciler holds the subscription state machine. It performs no
// I/O: callers load the current row, ask for a Decision and persist it.
package reconciler

import (
	"time"

	"github.com/smallbiznis/paysync/internal/config"
	ledgerdomain "github.com/smallbiznis/paysync/internal/ledger/domain"
	subscriptiondomain "github.com/smallbiznis/paysync/internal/subscription/domain"
	webhookdomain "github.com/smallbiznis/paysync/internal/webhook/domain"
)

// No-op reasons reported on decisions that leave the subscription untouched.
const (
	ReasonTerminalState = "terminal_state"
	ReasonUnknownStatus = "unknown_status"
	ReasonUnchanged     = "unchanged"
	ReasonUnknownAction = "unknown_action"

	// ReasonExpirySuperseded marks a sweep expiry that lost to a renewal.
	ReasonExpirySuperseded = "expiry_superseded"
)

// Decision is the outcome of applying one event to one subscription.
type Decision struct {
	// Next is the subscription as it should be persisted.
	Next subscriptiondomain.Subscription
	// Updated is true when Next differs from the current row.
	Updated bool
	// Ledger is the entry to append, nil for non-payment actions and no-ops.
	Ledger *ledgerdomain.Entry
	Change subscriptiondomain.Change
	Reason string
}

// Reconcile computes the next state of current under event. now is the
// application time; period is the billing period added by payments and
// renewals.
func Reconcile(current subscriptiondomain.Subscription, event webhookdomain.CanonicalEvent, now time.Time, period time.Duration) Decision {
	decision := Decision{Next: current, Change: subscriptiondomain.ChangeNone}

	if current.Status.IsTerminal() {
		decision.Reason = ReasonTerminalState
		return decision
	}

	next := current
	switch event.Action {
	case webhookdomain.ActionPaymentSucceeded:
		next.Status = subscriptiondomain.SubscriptionStatusActive
		next.ExpiresAt = extend(current.ExpiresAt, now, period)
		paidAt := now
		decision.Ledger = ledgerEntry(current, event, ledgerdomain.EntryStatusPaid, &paidAt)
		decision.Change = subscriptiondomain.ChangeActivated
		if current.Status == subscriptiondomain.SubscriptionStatusActive {
			decision.Change = subscriptiondomain.ChangeRenewed
		}

	case webhookdomain.ActionPaymentFailed:
		next.Status = subscriptiondomain.SubscriptionStatusPastDue
		decision.Ledger = ledgerEntry(current, event, ledgerdomain.EntryStatusFailed, nil)
		if current.Status != subscriptiondomain.SubscriptionStatusPastDue {
			decision.Change = subscriptiondomain.ChangePastDue
		}

	case webhookdomain.ActionSubscriptionRenewed:
		next.Status = subscriptiondomain.SubscriptionStatusActive
		next.ExpiresAt = extend(current.ExpiresAt, now, period)
		decision.Change = subscriptiondomain.ChangeRenewed

	case webhookdomain.ActionSubscriptionCanceled:
		next.Status = subscriptiondomain.SubscriptionStatusCanceled
		decision.Change = subscriptiondomain.ChangeCanceled

	case webhookdomain.ActionStatusChanged:
		if event.ExpectedExpiresAt != nil && !current.ExpiresAt.Equal(*event.ExpectedExpiresAt) {
			decision.Reason = ReasonExpirySuperseded
			return decision
		}
		target, ok := subscriptiondomain.ParseStatus(event.NewStatus)
		if !ok {
			decision.Reason = ReasonUnknownStatus
			return decision
		}
		if target == current.Status {
			decision.Reason = ReasonUnchanged
			return decision
		}
		next.Status = target
		decision.Change = changeFor(target)

	default:
		decision.Reason = ReasonUnknownAction
		return decision
	}

	if next.Status == current.Status && next.ExpiresAt.Equal(current.ExpiresAt) {
		// Repeated failure on a PAST_DUE row still appends to the ledger.
		if decision.Ledger == nil {
			decision.Reason = ReasonUnchanged
		}
		return decision
	}

	if now.After(current.UpdatedAt) {
		next.UpdatedAt = now
	}
	decision.Next = next
	decision.Updated = true
	return decision
}

// extend pushes expiresAt forward by period, counting from now when the
// subscription has already lapsed.
func extend(expiresAt, now time.Time, period time.Duration) time.Time {
	base := expiresAt
	if base.Before(now) {
		base = now
	}
	return base.Add(period)
}

func ledgerEntry(current subscriptiondomain.Subscription, event webhookdomain.CanonicalEvent, status ledgerdomain.EntryStatus, paidAt *time.Time) *ledgerdomain.Entry {
	return &ledgerdomain.Entry{
		SubscriptionID:     current.ID,
		OwnerID:            current.OwnerID,
		Amount:             event.Amount,
		Currency:           event.Currency,
		Provider:           event.Provider,
		ProviderPaymentRef: event.PaymentRef,
		Status:             status,
		PaidAt:             paidAt,
	}
}

func changeFor(status subscriptiondomain.SubscriptionStatus) subscriptiondomain.Change {
	switch status {
	case subscriptiondomain.SubscriptionStatusActive:
		return subscriptiondomain.ChangeActivated
	case subscriptiondomain.SubscriptionStatusTrial:
		return subscriptiondomain.ChangeTrialing
	case subscriptiondomain.SubscriptionStatusPastDue:
		return subscriptiondomain.ChangePastDue
	case subscriptiondomain.SubscriptionStatusCanceled:
		return subscriptiondomain.ChangeCanceled
	case subscriptiondomain.SubscriptionStatusExpired:
		return subscriptiondomain.ChangeExpired
	default:
		return subscriptiondomain.ChangeNone
	}
}

// Reconciler binds Reconcile to the live plan configuration.
type Reconciler struct {
	plan *config.PlanConfigHolder
}

func New(plan *config.PlanConfigHolder) *Reconciler {
	return &Reconciler{plan: plan}
}

// Decide applies event using the currently configured billing period.
func (r *Reconciler) Decide(current subscriptiondomain.Subscription, event webhookdomain.CanonicalEvent, now time.Time) Decision {
	period := config.DefaultPlanConfig().BillingPeriod()
	if r != nil && r.plan != nil {
		period = r.plan.Get().BillingPeriod()
	}
	return Reconcile(current, event, now, period)
}
