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
	usageAllowed  metric.Int64Counter
	usageDenied   metric.Int64Counter
	tryonStarted  metric.Int64Counter
	webhookEvents metric.Int64Counter
	pushSent      metric.Int64Counter
	providerCalls metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "velra"
	}
	meter := provider.Meter(name)

	usageAllowed, err := meter.Int64Counter("velra_usage_allowed_total")
	if err != nil {
		return nil, err
	}
	usageDenied, err := meter.Int64Counter("velra_usage_denied_total")
	if err != nil {
		return nil, err
	}
	tryonStarted, err := meter.Int64Counter("velra_tryon_started_total")
	if err != nil {
		return nil, err
	}
	webhookEvents, err := meter.Int64Counter("velra_webhook_events_total")
	if err != nil {
		return nil, err
	}
	pushSent, err := meter.Int64Counter("velra_push_sent_total")
	if err != nil {
		return nil, err
	}
	providerCalls, err := meter.Int64Counter("velra_provider_calls_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		usageAllowed:  usageAllowed,
		usageDenied:   usageDenied,
		tryonStarted:  tryonStarted,
		webhookEvents: webhookEvents,
		pushSent:      pushSent,
		providerCalls: providerCalls,
	}, nil
}

// RecordUsageAllowed increments allowed usage decisions.
func (m *Metrics) RecordUsageAllowed(ctx context.Context, subjectKind, tier string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("subject_kind", strings.TrimSpace(subjectKind)),
		attribute.String("tier", strings.TrimSpace(tier)),
	)
	m.usageAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordUsageDenied increments denied usage decisions by reason.
func (m *Metrics) RecordUsageDenied(ctx context.Context, subjectKind, tier, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("subject_kind", strings.TrimSpace(subjectKind)),
		attribute.String("tier", strings.TrimSpace(tier)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.usageDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTryonStarted increments started try-on predictions.
func (m *Metrics) RecordTryonStarted(ctx context.Context, subjectKind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("subject_kind", strings.TrimSpace(subjectKind)))
	m.tryonStarted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordWebhookEvent increments processed billing webhook events.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPushSent increments delivered push notifications by outcome.
func (m *Metrics) RecordPushSent(ctx context.Context, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(status)))
	m.pushSent.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordProviderCall increments upstream API calls by provider and outcome.
func (m *Metrics) RecordProviderCall(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.providerCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"subject_kind": {},
	"tier":         {},
	"reason":       {},
	"provider":     {},
	"event_type":   {},
	"status":       {},
	"outcome":      {},
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
