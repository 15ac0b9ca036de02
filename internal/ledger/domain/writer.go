package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/paysync/internal/subscription/domain"
	webhookdomain "github.com/smallbiznis/paysync/internal/webhook/domain"
)

var (
	ErrTransientWrite = errors.New("transient_write")
	ErrOwnerMismatch  = errors.New("owner_mismatch")
)

type ApplyRequest struct {
	Event webhookdomain.CanonicalEvent
}

// ApplyResult describes the committed (or skipped) effect of one event.
type ApplyResult struct {
	Outcome        webhookdomain.Outcome
	SubscriptionID snowflake.ID
	OwnerID        string
	PreviousStatus subscriptiondomain.SubscriptionStatus
	Status         subscriptiondomain.SubscriptionStatus
	Change         subscriptiondomain.Change
	LedgerEntryID  snowflake.ID
	LedgerStatus   EntryStatus
	Reason         string
}

// Writer applies a canonical event atomically: idempotency marker, subscription
// update and ledger append commit or roll back together.
type Writer interface {
	Apply(ctx context.Context, req ApplyRequest) (ApplyResult, error)
}
