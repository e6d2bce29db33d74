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

// Metrics exposes engine-level instruments.
type Metrics struct {
	visitsStarted        metric.Int64Counter
	visitsResumed        metric.Int64Counter
	visitsClosed         metric.Int64Counter
	rollovers            metric.Int64Counter
	slipTransitions      metric.Int64Counter
	entriesDerived       metric.Int64Counter
	entriesDeduplicated  metric.Int64Counter
	manualEntries        metric.Int64Counter
	thresholdTransitions metric.Int64Counter
	integrityViolations  metric.Int64Counter
	rolloverSweeps       metric.Int64Counter
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

// New configures the engine metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "pitboss"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	counters := map[string]*metric.Int64Counter{
		"pitboss_visits_started_total":                  &m.visitsStarted,
		"pitboss_visits_resumed_total":                  &m.visitsResumed,
		"pitboss_visits_closed_total":                   &m.visitsClosed,
		"pitboss_visit_rollovers_total":                 &m.rollovers,
		"pitboss_rating_slip_transitions_total":         &m.slipTransitions,
		"pitboss_compliance_entries_derived_total":      &m.entriesDerived,
		"pitboss_compliance_entries_deduplicated_total": &m.entriesDeduplicated,
		"pitboss_compliance_manual_entries_total":       &m.manualEntries,
		"pitboss_threshold_transitions_total":           &m.thresholdTransitions,
		"pitboss_integrity_violations_total":            &m.integrityViolations,
		"pitboss_rollover_sweeps_total":                 &m.rolloverSweeps,
	}
	for name, target := range counters {
		counter, err := meter.Int64Counter(name)
		if err != nil {
			return nil, err
		}
		*target = counter
	}

	return m, nil
}

// NewNoop returns instruments bound to a no-op provider.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

// RecordVisitStarted increments new visit counts.
func (m *Metrics) RecordVisitStarted(ctx context.Context, kind string, rollover bool) {
	if m == nil {
		return
	}
	m.visitsStarted.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("visit_kind", kind))...))
	if rollover {
		m.rollovers.Add(ctx, 1)
	}
}

// RecordVisitResumed increments resumed visit counts.
func (m *Metrics) RecordVisitResumed(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.visitsResumed.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("visit_kind", kind))...))
}

// RecordVisitClosed increments closed visit counts.
func (m *Metrics) RecordVisitClosed(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.visitsClosed.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("reason", reason))...))
}

// RecordSlipTransition increments rating slip lifecycle counts.
func (m *Metrics) RecordSlipTransition(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.slipTransitions.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("operation", operation))...))
}

// RecordEntryDerived increments derived compliance entry counts.
func (m *Metrics) RecordEntryDerived(ctx context.Context, channel string) {
	if m == nil {
		return
	}
	m.entriesDerived.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("channel", channel))...))
}

// RecordEntryDeduplicated increments replayed financial event counts.
func (m *Metrics) RecordEntryDeduplicated(ctx context.Context) {
	if m == nil {
		return
	}
	m.entriesDeduplicated.Add(ctx, 1)
}

// RecordManualEntry increments manual compliance entry counts.
func (m *Metrics) RecordManualEntry(ctx context.Context, direction string) {
	if m == nil {
		return
	}
	m.manualEntries.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("direction", direction))...))
}

// RecordThresholdTransition increments threshold escalation counts.
func (m *Metrics) RecordThresholdTransition(ctx context.Context, direction, state string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("direction", direction),
		attribute.String("state", state),
	)
	m.thresholdTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordIntegrityViolation increments invariant breach counts.
func (m *Metrics) RecordIntegrityViolation(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.integrityViolations.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("reason", reason))...))
}

// RecordRolloverSweep increments eager rollover sweep counts.
func (m *Metrics) RecordRolloverSweep(ctx context.Context, closed int) {
	if m == nil {
		return
	}
	m.rolloverSweeps.Add(ctx, 1)
	if closed > 0 {
		m.rollovers.Add(ctx, int64(closed))
	}
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

// Player and visit identifiers are never labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"visit_kind": {},
	"operation":  {},
	"channel":    {},
	"direction":  {},
	"state":      {},
	"reason":     {},
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
