package domain

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	ProviderStripe   = "stripe"
	ProviderPaypal   = "paypal"
	ProviderRazorpay = "razorpay"
)

// Action is the provider-agnostic kind of a canonical event.
type Action string

const (
	ActionPaymentSucceeded     Action = "PAYMENT_SUCCEEDED"
	ActionPaymentFailed        Action = "PAYMENT_FAILED"
	ActionSubscriptionRenewed  Action = "SUBSCRIPTION_RENEWED"
	ActionSubscriptionCanceled Action = "SUBSCRIPTION_CANCELED"
	ActionStatusChanged        Action = "SUBSCRIPTION_STATUS_CHANGED"
)

// IsPayment reports whether the action produces a ledger entry.
func (a Action) IsPayment() bool {
	return a == ActionPaymentSucceeded || a == ActionPaymentFailed
}

// CanonicalEvent is the normalized form of one provider notification. It is
// built once by an adapter and never re-inspected as raw JSON downstream.
type CanonicalEvent struct {
	Provider         string `validate:"required"`
	ProviderEventRef string `validate:"required"`
	SubscriptionRef  string `validate:"required"`
	OwnerID          string `validate:"required"`
	PaymentRef       string `validate:"required_if=Action PAYMENT_SUCCEEDED,required_if=Action PAYMENT_FAILED"`
	Amount           int64  `validate:"gte=0"`
	Currency         string
	Action           Action `validate:"required,oneof=PAYMENT_SUCCEEDED PAYMENT_FAILED SUBSCRIPTION_RENEWED SUBSCRIPTION_CANCELED SUBSCRIPTION_STATUS_CHANGED"`
	// NewStatus carries the provider-mapped target status for status changes.
	// It is validated against the subscription enum by the reconciler.
	NewStatus  string
	OccurredAt time.Time
	// ExpectedExpiresAt pins a synthetic expiry to the expires_at it was
	// derived from. Once the stored value has moved the event is a no-op.
	ExpectedExpiresAt *time.Time
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func eventValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks mandatory fields. Failures wrap ErrMissingField or
// ErrInvalidAmount so callers can classify them as unprocessable.
func (e CanonicalEvent) Validate() error {
	err := eventValidator().Struct(e)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Field() == "Amount" {
			return ErrInvalidAmount
		}
		fields = append(fields, fe.Field())
	}
	return fmt.Errorf("%w: %s", ErrMissingField, strings.Join(fields, ","))
}

// IdempotencyKey returns the (provider, event ref) pair used for deduplication.
func (e CanonicalEvent) IdempotencyKey() Key {
	return Key{Provider: e.Provider, EventRef: e.ProviderEventRef}
}

type Key struct {
	Provider string
	EventRef string
}

func (k Key) String() string {
	return k.Provider + ":" + k.EventRef
}
