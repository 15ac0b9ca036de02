package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	webhookEvents     metric.Int64Counter
	signatureFailures metric.Int64Counter
	ledgerEntries     metric.Int64Counter
	transitions       metric.Int64Counter
	notifyFailures    metric.Int64Counter
}

const exportInterval = 10 * time.Second

// NewProvider installs the global meter provider. Disabled metrics get a
// no-op provider so instruments stay cheap to call.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	var provider metric.MeterProvider = noop.NewMeterProvider()
	if cfg.Enabled {
		exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
		if err != nil {
			return nil, err
		}
		sdkProvider := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
		)
		if lc != nil {
			lc.Append(fx.StopHook(sdkProvider.Shutdown))
		}
		if log != nil {
			log.Info("metrics exporter configured",
				zap.String("endpoint", cfg.ExporterEndpoint),
				zap.String("protocol", cfg.ExporterProtocol),
			)
		}
		provider = sdkProvider
	}
	otel.SetMeterProvider(provider)
	return provider, nil
}

// New registers the domain counters on provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "paysync"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	counters := []struct {
		target      *metric.Int64Counter
		name        string
		description string
	}{
		{&m.webhookEvents, "paysync_webhook_events_total", "Inbound webhook deliveries by provider and outcome."},
		{&m.signatureFailures, "paysync_webhook_signature_failures_total", "Deliveries rejected for a bad signature."},
		{&m.ledgerEntries, "paysync_ledger_entries_total", "Billing ledger entries written by status."},
		{&m.transitions, "paysync_subscription_transitions_total", "Subscription status transitions."},
		{&m.notifyFailures, "paysync_notify_failures_total", "Post-commit notifications that failed."},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.description))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", c.name, err)
		}
		*c.target = counter
	}
	return m, nil
}

// NewNoop returns instruments bound to a no-op meter, for tests and tools.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

func (m *Metrics) add(ctx context.Context, counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	if m == nil || counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attrs...)...))
}

func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	m.add(ctx, m.webhookEvents, label("provider", provider), label("outcome", outcome))
}

func (m *Metrics) RecordSignatureFailure(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.add(ctx, m.signatureFailures, label("provider", provider))
}

func (m *Metrics) RecordLedgerEntry(ctx context.Context, provider, status string) {
	if m == nil {
		return
	}
	m.add(ctx, m.ledgerEntries, label("provider", provider), label("status", status))
}

// RecordTransition counts a status change of a subscription.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.add(ctx, m.transitions, label("from", from), label("to", to))
}

func (m *Metrics) RecordNotifyFailure(ctx context.Context, action string) {
	if m == nil {
		return
	}
	m.add(ctx, m.notifyFailures, label("action", action))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"provider":    {},
	"outcome":     {},
	"status":      {},
	"status_code": {},
	"action":      {},
	"from":        {},
	"to":          {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}

// label lower-cases value and substitutes "unknown" for blanks.
func label(key, value string) attribute.KeyValue {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		value = "unknown"
	}
	return attribute.String(key, value)
}
