package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/paysync/internal/webhook/adapters/payload"
	"github.com/smallbiznis/paysync/internal/webhook/domain"
	"github.com/stripe/stripe-go/v82/webhook"
)

const signatureHeader = "Stripe-Signature"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return domain.ProviderStripe
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, domain.ErrInvalidConfig
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Adapter{webhookSecret: secret, tolerance: tolerance}, nil
}

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
}

func (a *Adapter) Provider() string {
	return domain.ProviderStripe
}

func (a *Adapter) MatchHeaders(headers http.Header) bool {
	return strings.TrimSpace(headers.Get(signatureHeader)) != ""
}

func (a *Adapter) MatchBody(shape domain.BodyShape) bool {
	return shape.Object == "event" && strings.TrimSpace(shape.Type) != ""
}

// Verify checks the t=...,v1=... signature header and its timestamp tolerance.
func (a *Adapter) Verify(_ context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get(signatureHeader))
	if sigHeader == "" {
		return domain.ErrInvalidSignature
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, sigHeader, a.webhookSecret, a.tolerance); err != nil {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(_ context.Context, raw []byte) (*domain.CanonicalEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrMissingField
	}

	switch strings.TrimSpace(event.Type) {
	case "invoice.payment_succeeded", "invoice.paid":
		return a.parseInvoice(event, domain.ActionPaymentSucceeded)
	case "invoice.payment_failed":
		return a.parseInvoice(event, domain.ActionPaymentFailed)
	case "customer.subscription.deleted":
		return a.parseSubscription(event, domain.ActionSubscriptionCanceled)
	case "customer.subscription.updated":
		return a.parseSubscription(event, domain.ActionStatusChanged)
	default:
		return nil, domain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeInvoice struct {
	ID                  string                     `json:"id"`
	AmountPaid          int64                      `json:"amount_paid"`
	AmountDue           int64                      `json:"amount_due"`
	Currency            string                     `json:"currency"`
	Created             int64                      `json:"created"`
	Subscription        json.RawMessage            `json:"subscription"`
	Charge              json.RawMessage            `json:"charge"`
	PaymentIntent       json.RawMessage            `json:"payment_intent"`
	Metadata            json.RawMessage            `json:"metadata"`
	SubscriptionDetails *stripeSubscriptionDetails `json:"subscription_details"`
	Parent              *stripeInvoiceParent       `json:"parent"`
	StatusTransitions   struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
}

type stripeInvoiceParent struct {
	SubscriptionDetails *stripeSubscriptionDetails `json:"subscription_details"`
}

type stripeSubscriptionDetails struct {
	Subscription json.RawMessage `json:"subscription"`
	Metadata     json.RawMessage `json:"metadata"`
}

type stripeSubscription struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Created  int64           `json:"created"`
	Metadata json.RawMessage `json:"metadata"`
}

func (a *Adapter) parseInvoice(event stripeEvent, action domain.Action) (*domain.CanonicalEvent, error) {
	var invoice stripeInvoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return nil, domain.ErrInvalidPayload
	}

	subscriptionRef := payload.ExpandableID(invoice.Subscription)
	ownerID := payload.String(payload.Metadata(invoice.Metadata), "owner_id")
	for _, details := range []*stripeSubscriptionDetails{invoice.SubscriptionDetails, parentDetails(invoice.Parent)} {
		if details == nil {
			continue
		}
		subscriptionRef = payload.FirstNonEmpty(subscriptionRef, payload.ExpandableID(details.Subscription))
		ownerID = payload.FirstNonEmpty(ownerID, payload.String(payload.Metadata(details.Metadata), "owner_id"))
	}

	chargeID := payload.ExpandableID(invoice.Charge)
	amount := invoice.AmountPaid
	paymentRef := payload.FirstNonEmpty(chargeID, payload.ExpandableID(invoice.PaymentIntent), invoice.ID)
	if action == domain.ActionPaymentFailed {
		amount = invoice.AmountDue
		// The payment intent is shared by every retry of an invoice; without a
		// charge id each failed attempt is keyed by its own event.
		paymentRef = payload.FirstNonEmpty(chargeID, event.ID)
	}

	return &domain.CanonicalEvent{
		Provider:         domain.ProviderStripe,
		ProviderEventRef: event.ID,
		SubscriptionRef:  subscriptionRef,
		OwnerID:          ownerID,
		PaymentRef:       paymentRef,
		Amount:           amount,
		Currency:         strings.ToUpper(strings.TrimSpace(invoice.Currency)),
		Action:           action,
		OccurredAt:       payload.Unix(invoice.StatusTransitions.PaidAt, event.Created, invoice.Created),
	}, nil
}

func (a *Adapter) parseSubscription(event stripeEvent, action domain.Action) (*domain.CanonicalEvent, error) {
	var subscription stripeSubscription
	if err := json.Unmarshal(event.Data.Object, &subscription); err != nil {
		return nil, domain.ErrInvalidPayload
	}

	out := &domain.CanonicalEvent{
		Provider:         domain.ProviderStripe,
		ProviderEventRef: event.ID,
		SubscriptionRef:  strings.TrimSpace(subscription.ID),
		OwnerID:          payload.String(payload.Metadata(subscription.Metadata), "owner_id"),
		Action:           action,
		OccurredAt:       payload.Unix(event.Created, subscription.Created),
	}
	if action == domain.ActionStatusChanged {
		out.NewStatus = mapStatus(subscription.Status)
	}
	return out, nil
}

func parentDetails(parent *stripeInvoiceParent) *stripeSubscriptionDetails {
	if parent == nil {
		return nil
	}
	return parent.SubscriptionDetails
}

// mapStatus translates Stripe subscription statuses. Unmapped values pass
// through upper-cased and are rejected by the reconciler as unknown.
func mapStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "trialing":
		return "TRIAL"
	case "active":
		return "ACTIVE"
	case "past_due", "unpaid":
		return "PAST_DUE"
	case "canceled":
		return "CANCELED"
	case "incomplete_expired":
		return "EXPIRED"
	default:
		return strings.ToUpper(strings.TrimSpace(status))
	}
}
