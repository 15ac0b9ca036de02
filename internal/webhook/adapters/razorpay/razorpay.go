package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/smallbiznis/paysync/internal/webhook/adapters/payload"
	"github.com/smallbiznis/paysync/internal/webhook/domain"
)

const signatureHeader = "X-Razorpay-Signature"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return domain.ProviderRazorpay
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, domain.ErrInvalidConfig
	}
	return &Adapter{webhookSecret: secret}, nil
}

type Adapter struct {
	webhookSecret string
}

func (a *Adapter) Provider() string {
	return domain.ProviderRazorpay
}

func (a *Adapter) MatchHeaders(headers http.Header) bool {
	return strings.TrimSpace(headers.Get(signatureHeader)) != ""
}

func (a *Adapter) MatchBody(shape domain.BodyShape) bool {
	return shape.Entity == "event" && strings.TrimSpace(shape.Event) != ""
}

// Verify compares the hex HMAC-SHA256 of the raw body. Razorpay signs no
// timestamp, so replays are only caught by idempotency.
func (a *Adapter) Verify(_ context.Context, body []byte, headers http.Header) error {
	signature := strings.TrimSpace(headers.Get(signatureHeader))
	if signature == "" {
		return domain.ErrInvalidSignature
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return domain.ErrInvalidSignature
	}
	if !hmac.Equal(provided, sign(a.webhookSecret, body)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

func sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

type razorpayEvent struct {
	Entity    string `json:"entity"`
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Subscription *struct {
			Entity razorpaySubscription `json:"entity"`
		} `json:"subscription"`
		Payment *struct {
			Entity razorpayPayment `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

type razorpaySubscription struct {
	ID         string          `json:"id"`
	Status     string          `json:"status"`
	Notes      json.RawMessage `json:"notes"`
	ChargeAt   int64           `json:"charge_at"`
	CurrentEnd int64           `json:"current_end"`
}

type razorpayPayment struct {
	ID             string          `json:"id"`
	Amount         int64           `json:"amount"`
	Currency       string          `json:"currency"`
	Status         string          `json:"status"`
	InvoiceID      string          `json:"invoice_id"`
	SubscriptionID string          `json:"subscription_id"`
	Notes          json.RawMessage `json:"notes"`
	CreatedAt      int64           `json:"created_at"`
}

func (a *Adapter) Parse(_ context.Context, raw []byte) (*domain.CanonicalEvent, error) {
	var event razorpayEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}

	switch strings.TrimSpace(event.Event) {
	case "subscription.charged":
		return a.parsePayment(event, domain.ActionPaymentSucceeded)
	case "payment.failed":
		return a.parsePayment(event, domain.ActionPaymentFailed)
	case "subscription.cancelled":
		return a.parseSubscription(event, domain.ActionSubscriptionCanceled, "")
	case "subscription.activated":
		return a.parseSubscription(event, domain.ActionStatusChanged, "ACTIVE")
	case "subscription.pending", "subscription.halted":
		return a.parseSubscription(event, domain.ActionStatusChanged, "PAST_DUE")
	case "subscription.completed":
		return a.parseSubscription(event, domain.ActionStatusChanged, "EXPIRED")
	default:
		return nil, domain.ErrEventIgnored
	}
}

func (a *Adapter) parsePayment(event razorpayEvent, action domain.Action) (*domain.CanonicalEvent, error) {
	if event.Payload.Payment == nil {
		return nil, domain.ErrInvalidPayload
	}
	payment := event.Payload.Payment.Entity
	if payment.Amount < 0 {
		return nil, domain.ErrInvalidAmount
	}
	paymentNotes := payload.Metadata(payment.Notes)

	var subscriptionRef, owner string
	if sub := event.Payload.Subscription; sub != nil {
		subscriptionRef = sub.Entity.ID
		owner = payload.String(payload.Metadata(sub.Entity.Notes), "owner_id")
	}

	paymentID := strings.TrimSpace(payment.ID)
	return &domain.CanonicalEvent{
		Provider:         domain.ProviderRazorpay,
		ProviderEventRef: paymentID,
		SubscriptionRef: payload.FirstNonEmpty(
			subscriptionRef,
			payment.SubscriptionID,
			payload.String(paymentNotes, "subscription_id"),
		),
		OwnerID:    payload.FirstNonEmpty(owner, payload.String(paymentNotes, "owner_id")),
		PaymentRef: paymentID,
		Amount:     payment.Amount,
		Currency:   strings.ToUpper(strings.TrimSpace(payment.Currency)),
		Action:     action,
		OccurredAt: payload.Unix(event.CreatedAt, payment.CreatedAt),
	}, nil
}

func (a *Adapter) parseSubscription(event razorpayEvent, action domain.Action, newStatus string) (*domain.CanonicalEvent, error) {
	if event.Payload.Subscription == nil {
		return nil, domain.ErrInvalidPayload
	}
	sub := event.Payload.Subscription.Entity
	subID := strings.TrimSpace(sub.ID)

	// Lifecycle notifications carry no event id of their own.
	eventRef := ""
	if subID != "" {
		eventRef = strings.Join([]string{event.Event, subID, strconv.FormatInt(event.CreatedAt, 10)}, ":")
	}

	return &domain.CanonicalEvent{
		Provider:         domain.ProviderRazorpay,
		ProviderEventRef: eventRef,
		SubscriptionRef:  subID,
		OwnerID:          payload.String(payload.Metadata(sub.Notes), "owner_id"),
		Action:           action,
		NewStatus:        newStatus,
		OccurredAt:       payload.Unix(event.CreatedAt),
	}, nil
}
