package paypal

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"hash/crc32"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/paysync/internal/webhook/adapters/payload"
	"github.com/smallbiznis/paysync/internal/webhook/domain"
)

const (
	headerTransmissionID   = "Paypal-Transmission-Id"
	headerTransmissionTime = "Paypal-Transmission-Time"
	headerTransmissionSig  = "Paypal-Transmission-Sig"

	defaultTolerance = 5 * time.Minute
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return domain.ProviderPaypal
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	webhookID := strings.TrimSpace(cfg.WebhookID)
	if secret == "" || webhookID == "" {
		return nil, domain.ErrInvalidConfig
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	return &Adapter{
		webhookSecret: secret,
		webhookID:     webhookID,
		tolerance:     tolerance,
		now:           time.Now,
	}, nil
}

type Adapter struct {
	webhookSecret string
	webhookID     string
	tolerance     time.Duration
	now           func() time.Time
}

func (a *Adapter) Provider() string {
	return domain.ProviderPaypal
}

func (a *Adapter) MatchHeaders(headers http.Header) bool {
	return strings.TrimSpace(headers.Get(headerTransmissionID)) != ""
}

func (a *Adapter) MatchBody(shape domain.BodyShape) bool {
	return strings.TrimSpace(shape.EventType) != "" && strings.TrimSpace(shape.ResourceType) != ""
}

// Verify checks the transmission signature: base64 HMAC-SHA256 over
// "<transmission id>|<transmission time>|<webhook id>|<crc32 of body>".
func (a *Adapter) Verify(_ context.Context, body []byte, headers http.Header) error {
	transmissionID := strings.TrimSpace(headers.Get(headerTransmissionID))
	transmissionTime := strings.TrimSpace(headers.Get(headerTransmissionTime))
	signature := strings.TrimSpace(headers.Get(headerTransmissionSig))
	if transmissionID == "" || transmissionTime == "" || signature == "" {
		return domain.ErrInvalidSignature
	}

	sentAt, err := time.Parse(time.RFC3339Nano, transmissionTime)
	if err != nil {
		return domain.ErrInvalidSignature
	}
	if age := a.now().Sub(sentAt); age > a.tolerance || age < -a.tolerance {
		return domain.ErrInvalidSignature
	}

	provided, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return domain.ErrInvalidSignature
	}
	expected := sign(a.webhookSecret, transmissionID, transmissionTime, a.webhookID, body)
	if !hmac.Equal(provided, expected) {
		return domain.ErrInvalidSignature
	}
	return nil
}

func sign(secret, transmissionID, transmissionTime, webhookID string, body []byte) []byte {
	message := strings.Join([]string{
		transmissionID,
		transmissionTime,
		webhookID,
		strconv.FormatUint(uint64(crc32.ChecksumIEEE(body)), 10),
	}, "|")
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(message))
	return mac.Sum(nil)
}

func (a *Adapter) Parse(_ context.Context, raw []byte) (*domain.CanonicalEvent, error) {
	var event paypalEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrMissingField
	}

	switch strings.ToUpper(strings.TrimSpace(event.EventType)) {
	case "PAYMENT.SALE.COMPLETED":
		return a.parseSale(event, domain.ActionPaymentSucceeded)
	case "PAYMENT.SALE.DENIED":
		return a.parseSale(event, domain.ActionPaymentFailed)
	case "BILLING.SUBSCRIPTION.PAYMENT.FAILED":
		return a.parseSubscription(event, domain.ActionPaymentFailed, "")
	case "BILLING.SUBSCRIPTION.CANCELLED":
		return a.parseSubscription(event, domain.ActionSubscriptionCanceled, "")
	case "BILLING.SUBSCRIPTION.RENEWED":
		return a.parseSubscription(event, domain.ActionSubscriptionRenewed, "")
	case "BILLING.SUBSCRIPTION.ACTIVATED":
		return a.parseSubscription(event, domain.ActionStatusChanged, "ACTIVE")
	case "BILLING.SUBSCRIPTION.SUSPENDED":
		return a.parseSubscription(event, domain.ActionStatusChanged, "PAST_DUE")
	case "BILLING.SUBSCRIPTION.EXPIRED":
		return a.parseSubscription(event, domain.ActionStatusChanged, "EXPIRED")
	default:
		return nil, domain.ErrEventIgnored
	}
}

type paypalEvent struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	ResourceType string          `json:"resource_type"`
	CreateTime   string          `json:"create_time"`
	Resource     json.RawMessage `json:"resource"`
}

type paypalSale struct {
	ID                 string `json:"id"`
	BillingAgreementID string `json:"billing_agreement_id"`
	Custom             string `json:"custom"`
	CustomID           string `json:"custom_id"`
	CreateTime         string `json:"create_time"`
	Amount             struct {
		Total    string `json:"total"`
		Currency string `json:"currency"`
	} `json:"amount"`
}

type paypalMoney struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalSubscription struct {
	ID          string `json:"id"`
	CustomID    string `json:"custom_id"`
	Status      string `json:"status"`
	BillingInfo struct {
		LastFailedPayment *struct {
			Amount paypalMoney `json:"amount"`
			Time   string      `json:"time"`
		} `json:"last_failed_payment"`
		OutstandingBalance *paypalMoney `json:"outstanding_balance"`
	} `json:"billing_info"`
	StatusUpdateTime string `json:"status_update_time"`
}

func (a *Adapter) parseSale(event paypalEvent, action domain.Action) (*domain.CanonicalEvent, error) {
	var sale paypalSale
	if err := json.Unmarshal(event.Resource, &sale); err != nil {
		return nil, domain.ErrInvalidPayload
	}

	currency := strings.ToUpper(strings.TrimSpace(sale.Amount.Currency))
	amount, err := toMinorUnits(sale.Amount.Total, currency)
	if err != nil {
		return nil, err
	}

	return &domain.CanonicalEvent{
		Provider:         domain.ProviderPaypal,
		ProviderEventRef: event.ID,
		SubscriptionRef:  strings.TrimSpace(sale.BillingAgreementID),
		OwnerID:          payload.FirstNonEmpty(sale.CustomID, sale.Custom),
		PaymentRef:       payload.FirstNonEmpty(sale.ID, event.ID),
		Amount:           amount,
		Currency:         currency,
		Action:           action,
		OccurredAt:       payload.RFC3339(sale.CreateTime, event.CreateTime),
	}, nil
}

func (a *Adapter) parseSubscription(event paypalEvent, action domain.Action, newStatus string) (*domain.CanonicalEvent, error) {
	var subscription paypalSubscription
	if err := json.Unmarshal(event.Resource, &subscription); err != nil {
		return nil, domain.ErrInvalidPayload
	}

	out := &domain.CanonicalEvent{
		Provider:         domain.ProviderPaypal,
		ProviderEventRef: event.ID,
		SubscriptionRef:  strings.TrimSpace(subscription.ID),
		OwnerID:          strings.TrimSpace(subscription.CustomID),
		Action:           action,
		NewStatus:        newStatus,
		OccurredAt:       payload.RFC3339(subscription.StatusUpdateTime, event.CreateTime),
	}

	if action == domain.ActionPaymentFailed {
		// Subscription-level failures carry no sale id; each notification is
		// its own attempt.
		out.PaymentRef = event.ID
		var money *paypalMoney
		if failed := subscription.BillingInfo.LastFailedPayment; failed != nil {
			money = &failed.Amount
		} else if subscription.BillingInfo.OutstandingBalance != nil {
			money = subscription.BillingInfo.OutstandingBalance
		}
		if money != nil {
			currency := strings.ToUpper(strings.TrimSpace(money.CurrencyCode))
			amount, err := toMinorUnits(money.Value, currency)
			if err != nil {
				return nil, err
			}
			out.Amount = amount
			out.Currency = currency
		}
	}
	return out, nil
}
