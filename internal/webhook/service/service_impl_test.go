package service_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/paysync/internal/cache"
	"github.com/smallbiznis/paysync/internal/clock"
	"github.com/smallbiznis/paysync/internal/config"
	"github.com/smallbiznis/paysync/internal/idempotency"
	ledgerdomain "github.com/smallbiznis/paysync/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/paysync/internal/ledger/repository"
	"github.com/smallbiznis/paysync/internal/ledger/writer"
	"github.com/smallbiznis/paysync/internal/notify"
	obsmetrics "github.com/smallbiznis/paysync/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/paysync/internal/subscription/domain"
	"github.com/smallbiznis/paysync/internal/subscription/reconciler"
	subscriptionrepo "github.com/smallbiznis/paysync/internal/subscription/repository"
	"github.com/smallbiznis/paysync/internal/testutil"
	"github.com/smallbiznis/paysync/internal/webhook/adapters"
	"github.com/smallbiznis/paysync/internal/webhook/adapters/stripe"
	"github.com/smallbiznis/paysync/internal/webhook/domain"
	"github.com/smallbiznis/paysync/internal/webhook/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const stripeSecret = "whsec_test"

var t0 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return nil
}

func (r *recordingNotifier) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.got))
	for _, n := range r.got {
		out = append(out, n.Action)
	}
	return out
}

type harness struct {
	db       *gorm.DB
	svc      domain.Service
	notifier *recordingNotifier
	sub      subscriptiondomain.Subscription
}

func newHarness(t *testing.T, status subscriptiondomain.SubscriptionStatus) harness {
	t.Helper()
	db := testutil.OpenDB(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(t0)
	log := zap.NewNop()

	sub := testutil.SeedSubscription(t, db, subscriptiondomain.Subscription{
		ID:                      node.Generate(),
		OwnerID:                 "usr_1",
		Status:                  status,
		Provider:                domain.ProviderStripe,
		ProviderSubscriptionRef: "sub_1",
		ExpiresAt:               t0,
	})

	stripeAdapter, err := stripe.NewFactory().NewAdapter(domain.AdapterConfig{WebhookSecret: stripeSecret})
	require.NoError(t, err)

	ledgerRepo := ledgerrepo.Provide()
	w := writer.New(writer.Params{
		DB:               db,
		Log:              log,
		GenID:            node,
		Clock:            clk,
		Reconciler:       reconciler.New(config.NewStaticPlanConfigHolder(config.DefaultPlanConfig())),
		SubscriptionRepo: subscriptionrepo.Provide(),
		LedgerRepo:       ledgerRepo,
	})
	notifier := &recordingNotifier{}
	svc := service.NewService(service.Params{
		Log:        log,
		Clock:      clk,
		Adapters:   adapters.NewRegistry(stripeAdapter),
		Guard:      idempotency.NewGuard(idempotency.Params{DB: db, Log: log, Store: cache.NewMemoryStore(0), Repo: ledgerRepo}),
		Writer:     w,
		Notifier:   notifier,
		ObsMetrics: obsmetrics.NewNoop(),
	})
	return harness{db: db, svc: svc, notifier: notifier, sub: sub}
}

func invoicePayload(eventID, eventType, chargeID, ownerID string, amount int64) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"created":%d,"data":{"object":{
		"id":"in_%s","object":"invoice","subscription":"sub_1","charge":%q,
		"amount_paid":%d,"amount_due":%d,"currency":"usd","metadata":{"owner_id":%q}}}}`,
		eventID, eventType, t0.Unix(), eventID, chargeID, amount, amount, ownerID))
}

func signed(secret string, payload []byte) http.Header {
	timestamp := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.%s", timestamp, payload)))
	headers := http.Header{}
	headers.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil))))
	return headers
}

func ledgerEntries(t *testing.T, db *gorm.DB, sub subscriptiondomain.Subscription) []ledgerdomain.Entry {
	t.Helper()
	entries, err := ledgerrepo.Provide().ListBySubscription(context.Background(), db, sub.ID)
	require.NoError(t, err)
	return entries
}

func TestTrialPaymentActivatesAndReplayIsIdempotent(t *testing.T) {
	h := newHarness(t, subscriptiondomain.SubscriptionStatusTrial)
	ctx := context.Background()
	payload := invoicePayload("evt_1", "invoice.paid", "ch_1", "usr_1", 60000)

	result, err := h.svc.Handle(ctx, signed(stripeSecret, payload), payload)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, result.Outcome)
	assert.Equal(t, string(subscriptiondomain.ChangeActivated), result.Change)

	stored := testutil.LoadSubscription(t, h.db, domain.ProviderStripe, "sub_1")
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, stored.Status)
	assert.True(t, stored.ExpiresAt.Equal(t0.Add(90*24*time.Hour)))
	entries := ledgerEntries(t, h.db, h.sub)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(60000), entries[0].Amount)
	assert.Equal(t, ledgerdomain.EntryStatusPaid, entries[0].Status)

	replay, err := h.svc.Handle(ctx, signed(stripeSecret, payload), payload)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAlreadyApplied, replay.Outcome)
	assert.Len(t, ledgerEntries(t, h.db, h.sub), 1)
	assert.Equal(t, stored, testutil.LoadSubscription(t, h.db, domain.ProviderStripe, "sub_1"))
	assert.Equal(t, []string{"activated"}, h.notifier.actions())
}

func TestStripeDoubleInvoiceEventsProduceOneEntry(t *testing.T) {
	h := newHarness(t, subscriptiondomain.SubscriptionStatusTrial)
	ctx := context.Background()

	paid := invoicePayload("evt_paid", "invoice.paid", "ch_1", "usr_1", 60000)
	succeeded := invoicePayload("evt_succeeded", "invoice.payment_succeeded", "ch_1", "usr_1", 60000)

	_, err := h.svc.Handle(ctx, signed(stripeSecret, paid), paid)
	require.NoError(t, err)
	result, err := h.svc.Handle(ctx, signed(stripeSecret, succeeded), succeeded)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAlreadyApplied, result.Outcome)
	assert.Len(t, ledgerEntries(t, h.db, h.sub), 1)
}

func TestInvalidSignatureNeverMutates(t *testing.T) {
	h := newHarness(t, subscriptiondomain.SubscriptionStatusTrial)
	payload := invoicePayload("evt_1", "invoice.paid", "ch_1", "usr_1", 60000)

	_, err := h.svc.Handle(context.Background(), signed("whsec_wrong", payload), payload)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	assert.Equal(t, subscriptiondomain.SubscriptionStatusTrial, testutil.LoadSubscription(t, h.db, "stripe", "sub_1").Status)
	assert.Equal(t, int64(0), testutil.Count(t, h.db, "processed_events"))
	assert.Equal(t, int64(0), testutil.Count(t, h.db, "billing_ledger_entries"))
}

func TestUnknownProvider(t *testing.T) {
	h := newHarness(t, subscriptiondomain.SubscriptionStatusTrial)

	_, err := h.svc.Handle(context.Background(), http.Header{}, []byte(`{"hello":"world"}`))
	assert.ErrorIs(t, err, domain.ErrUnknownProvider)
}

func TestUnprocessableEventsLeaveNoTrace(t *testing.T) {
	h := newHarness(t, subscriptiondomain.SubscriptionStatusTrial)
	ctx := context.Background()

	cases := map[string][]byte{
		"missing owner":   invoicePayload("evt_1", "invoice.paid", "ch_1", "", 60000),
		"unknown sub ref": []byte(`{"id":"evt_2","object":"event","type":"customer.subscription.deleted","data":{"object":{"id":"sub_missing","metadata":{"owner_id":"usr_1"}}}}`),
		"malformed":       []byte(`{"id":"evt_3","object":"event","type":"invoice.paid","data":{"object":"oops"}}`),
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			result, err := h.svc.Handle(ctx, signed(stripeSecret, payload), payload)
			require.NoError(t, err)
			assert.Equal(t, domain.OutcomeUnprocessable, result.Outcome)
		})
	}

	assert.Equal(t, subscriptiondomain.SubscriptionStatusTrial, testutil.LoadSubscription(t, h.db, "stripe", "sub_1").Status)
	assert.Equal(t, int64(0), testutil.Count(t, h.db, "processed_events"))
	assert.Equal(t, int64(0), testutil.Count(t, h.db, "billing_ledger_entries"))
	assert.Empty(t, h.notifier.actions())
}

func TestIgnoredEventTypesAreAcknowledged(t *testing.T) {
	h := newHarness(t, subscriptiondomain.SubscriptionStatusTrial)
	payload := []byte(`{"id":"evt_9","object":"event","type":"customer.created","data":{"object":{}}}`)

	result, err := h.svc.Handle(context.Background(), signed(stripeSecret, payload), payload)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeIgnored, result.Outcome)
	assert.Equal(t, int64(0), testutil.Count(t, h.db, "processed_events"))
}

func TestFailedThenSucceeded(t *testing.T) {
	h := newHarness(t, subscriptiondomain.SubscriptionStatusActive)
	ctx := context.Background()

	failed := invoicePayload("evt_f", "invoice.payment_failed", "ch_f", "usr_1", 60000)
	result, err := h.svc.Handle(ctx, signed(stripeSecret, failed), failed)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, result.Outcome)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusPastDue, testutil.LoadSubscription(t, h.db, "stripe", "sub_1").Status)

	paid := invoicePayload("evt_p", "invoice.paid", "ch_p", "usr_1", 60000)
	_, err = h.svc.Handle(ctx, signed(stripeSecret, paid), paid)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, testutil.LoadSubscription(t, h.db, "stripe", "sub_1").Status)

	entries := ledgerEntries(t, h.db, h.sub)
	require.Len(t, entries, 2)
	var paidCount int
	for _, e := range entries {
		if e.Status == ledgerdomain.EntryStatusPaid {
			paidCount++
		}
	}
	assert.Equal(t, 1, paidCount)
	assert.Equal(t, []string{"past_due", "activated"}, h.notifier.actions())
}

func TestConcurrentDeliveries(t *testing.T) {
	h := newHarness(t, subscriptiondomain.SubscriptionStatusTrial)
	ctx := context.Background()

	const (
		distinct   = 6
		duplicates = 4
	)
	var payloads [][]byte
	for i := 0; i < distinct; i++ {
		payloads = append(payloads, invoicePayload(fmt.Sprintf("evt_%d", i), "invoice.paid", fmt.Sprintf("ch_%d", i), "usr_1", 1000))
	}
	dup := invoicePayload("evt_dup", "invoice.paid", "ch_dup", "usr_1", 1000)
	for i := 0; i < duplicates; i++ {
		payloads = append(payloads, dup)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[domain.Outcome]int{}
		errs     []error
	)
	for _, payload := range payloads {
		wg.Add(1)
		go func(payload []byte) {
			defer wg.Done()
			result, err := h.svc.Handle(ctx, signed(stripeSecret, payload), payload)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			outcomes[result.Outcome]++
		}(payload)
	}
	wg.Wait()

	require.Empty(t, errs)
	applied := distinct + 1
	assert.Equal(t, applied, outcomes[domain.OutcomeApplied])
	assert.Equal(t, duplicates-1, outcomes[domain.OutcomeAlreadyApplied])
	assert.Len(t, ledgerEntries(t, h.db, h.sub), applied)
	assert.Equal(t, int64(applied), testutil.Count(t, h.db, "processed_events"))

	stored := testutil.LoadSubscription(t, h.db, "stripe", "sub_1")
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, stored.Status)
	assert.True(t, stored.ExpiresAt.Equal(t0.Add(time.Duration(applied)*90*24*time.Hour)), "expires_at = %s", stored.ExpiresAt)
}

func subscriptionPayload(eventID, eventType, status string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"created":%d,"data":{"object":{
		"id":"sub_1","object":"subscription","status":%q,"metadata":{"owner_id":"usr_1"}}}}`,
		eventID, eventType, t0.Unix(), status))
}

type delivery struct {
	payload []byte
	event   domain.CanonicalEvent
}

func paymentDelivery(eventID, eventType, chargeID string, action domain.Action) delivery {
	return delivery{
		payload: invoicePayload(eventID, eventType, chargeID, "usr_1", 1000),
		event:   domain.CanonicalEvent{ProviderEventRef: eventID, PaymentRef: chargeID, Action: action},
	}
}

// serialOutcomes folds every ordering of events over start and returns the
// reachable (status, expires_at, ledger rows) triples.
func serialOutcomes(start subscriptiondomain.Subscription, events []domain.CanonicalEvent, now time.Time) map[string]bool {
	outcomes := map[string]bool{}
	var walk func(current subscriptiondomain.Subscription, rest []domain.CanonicalEvent, ledger int)
	walk = func(current subscriptiondomain.Subscription, rest []domain.CanonicalEvent, ledger int) {
		if len(rest) == 0 {
			outcomes[outcomeKey(current.Status, current.ExpiresAt, ledger)] = true
			return
		}
		for i := range rest {
			decision := reconciler.Reconcile(current, rest[i], now, 90*24*time.Hour)
			next := ledger
			if decision.Ledger != nil {
				next++
			}
			remaining := append(append([]domain.CanonicalEvent{}, rest[:i]...), rest[i+1:]...)
			walk(decision.Next, remaining, next)
		}
	}
	walk(start, events, 0)
	return outcomes
}

func outcomeKey(status subscriptiondomain.SubscriptionStatus, expiresAt time.Time, ledger int) string {
	return fmt.Sprintf("%s|%d|%d", status, expiresAt.Unix(), ledger)
}

func TestConcurrentMixedDeliveriesMatchASerialOrder(t *testing.T) {
	h := newHarness(t, subscriptiondomain.SubscriptionStatusTrial)
	ctx := context.Background()

	deliveries := []delivery{
		paymentDelivery("evt_p0", "invoice.paid", "ch_p0", domain.ActionPaymentSucceeded),
		paymentDelivery("evt_p1", "invoice.paid", "ch_p1", domain.ActionPaymentSucceeded),
		paymentDelivery("evt_f0", "invoice.payment_failed", "ch_f0", domain.ActionPaymentFailed),
		paymentDelivery("evt_f1", "invoice.payment_failed", "ch_f1", domain.ActionPaymentFailed),
		{
			payload: subscriptionPayload("evt_c", "customer.subscription.deleted", "canceled"),
			event:   domain.CanonicalEvent{ProviderEventRef: "evt_c", Action: domain.ActionSubscriptionCanceled},
		},
	}
	const duplicates = 3
	dup := paymentDelivery("evt_dup", "invoice.paid", "ch_dup", domain.ActionPaymentSucceeded)

	events := make([]domain.CanonicalEvent, 0, len(deliveries)+1)
	payloads := make([][]byte, 0, len(deliveries)+duplicates)
	for _, d := range append(deliveries, dup) {
		events = append(events, d.event)
	}
	for _, d := range deliveries {
		payloads = append(payloads, d.payload)
	}
	for i := 0; i < duplicates; i++ {
		payloads = append(payloads, dup.payload)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[domain.Outcome]int{}
		errs     []error
	)
	for _, payload := range payloads {
		wg.Add(1)
		go func(payload []byte) {
			defer wg.Done()
			result, err := h.svc.Handle(ctx, signed(stripeSecret, payload), payload)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			outcomes[result.Outcome]++
		}(payload)
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, len(events), outcomes[domain.OutcomeApplied])
	assert.Equal(t, duplicates-1, outcomes[domain.OutcomeAlreadyApplied])
	assert.Equal(t, int64(len(events)), testutil.Count(t, h.db, "processed_events"))

	stored := testutil.LoadSubscription(t, h.db, "stripe", "sub_1")
	got := outcomeKey(stored.Status, stored.ExpiresAt, len(ledgerEntries(t, h.db, h.sub)))
	want := serialOutcomes(h.sub, events, t0)
	assert.True(t, want[got], "final state %s is not reachable by any serial order", got)
}

func TestApplySyntheticEvent(t *testing.T) {
	h := newHarness(t, subscriptiondomain.SubscriptionStatusActive)

	result, err := h.svc.Apply(context.Background(), domain.CanonicalEvent{
		Provider:         domain.ProviderStripe,
		ProviderEventRef: "expire:1:1",
		SubscriptionRef:  "sub_1",
		OwnerID:          "usr_1",
		Action:           domain.ActionStatusChanged,
		NewStatus:        string(subscriptiondomain.SubscriptionStatusExpired),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, result.Outcome)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusExpired, testutil.LoadSubscription(t, h.db, "stripe", "sub_1").Status)

	_, err = h.svc.Apply(context.Background(), domain.CanonicalEvent{Provider: domain.ProviderStripe})
	require.NoError(t, err)
}

func TestTransientFailureIsReported(t *testing.T) {
	h := newHarness(t, subscriptiondomain.SubscriptionStatusTrial)
	require.NoError(t, h.db.Exec(`DROP TABLE billing_ledger_entries`).Error)
	payload := invoicePayload("evt_1", "invoice.paid", "ch_1", "usr_1", 60000)

	_, err := h.svc.Handle(context.Background(), signed(stripeSecret, payload), payload)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledgerdomain.ErrTransientWrite))
}
