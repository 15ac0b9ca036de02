package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "stripe"),
		attribute.String("owner_id", "usr_1"),
		attribute.String("outcome", "applied"),
		attribute.String("event_ref", "evt_1"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "owner_id" || attr.Key == "event_ref" {
			t.Fatalf("expected %s to be dropped", attr.Key)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordWebhookEvent(ctx, "stripe", "applied")
	m.RecordSignatureFailure(ctx, "stripe")
	m.RecordLedgerEntry(ctx, "stripe", "PAID")
	m.RecordTransition(ctx, "TRIAL", "ACTIVE")
	m.RecordNotifyFailure(ctx, "activated")
}

func TestNoopMetricsRecord(t *testing.T) {
	m := NewNoop()
	if m == nil {
		t.Fatalf("expected noop metrics")
	}
	m.RecordWebhookEvent(context.Background(), "", "")
}

func TestLabelNormalizesValue(t *testing.T) {
	if got := label("provider", "  Stripe "); got.Value.AsString() != "stripe" {
		t.Fatalf("expected stripe, got %q", got.Value.AsString())
	}
	if got := label("outcome", ""); got.Value.AsString() != "unknown" {
		t.Fatalf("expected unknown, got %q", got.Value.AsString())
	}
}
