package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/pitboss/internal/config"
	"github.com/smallbiznis/pitboss/internal/orgcontext"
	"github.com/smallbiznis/pitboss/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module wires telemetry components via Fx.
// The invoke installs the global provider before any traced component starts.
var Module = fx.Options(
	fx.Provide(NewTracerProvider),
	fx.Invoke(func(*trace.TracerProvider) {}),
)

// NewTracerProvider configures the OTLP exporter and tracer provider.
// When tracing is disabled the provider samples nothing and exports nowhere.
func NewTracerProvider(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*trace.TracerProvider, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.AppName),
			attribute.String("service.version", cfg.AppVersion),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	opts := []trace.TracerProviderOption{
		trace.WithResource(res),
		trace.WithSpanProcessor(scopeSpanProcessor{}),
	}

	if cfg.Metrics.TracingEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		exporter, err := newSpanExporter(ctx, cfg.Metrics.Protocol, cfg.Metrics.Endpoint)
		cancel()
		if err != nil {
			return nil, err
		}
		opts = append(opts, trace.WithBatcher(exporter))
	} else {
		opts = append(opts, trace.WithSampler(trace.NeverSample()))
	}

	tp := trace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down tracer provider")
			return tp.Shutdown(ctx)
		},
	})

	logger.Info("telemetry initialized",
		zap.Bool("tracing_enabled", cfg.Metrics.TracingEnabled),
		zap.String("endpoint", cfg.Metrics.Endpoint),
		zap.String("protocol", cfg.Metrics.Protocol),
	)
	return tp, nil
}

func newSpanExporter(ctx context.Context, protocol, endpoint string) (trace.SpanExporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		return otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	case "grpc", "grpc/protobuf", "":
		return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// scopeSpanProcessor stamps every span with the operation's correlation id and
// the organization it runs for, so traces can be joined to log lines.
type scopeSpanProcessor struct{}

func (scopeSpanProcessor) OnStart(ctx context.Context, s trace.ReadWriteSpan) {
	s.SetAttributes(scopeAttributes(ctx)...)
}

func (scopeSpanProcessor) OnEnd(trace.ReadOnlySpan) {}

func (scopeSpanProcessor) Shutdown(context.Context) error { return nil }

func (scopeSpanProcessor) ForceFlush(context.Context) error { return nil }

func scopeAttributes(ctx context.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if cid := correlation.ExtractCorrelationID(ctx); cid != "" {
		attrs = append(attrs,
			attribute.String("correlation_id", cid),
			attribute.String("correlation_root", correlation.Root(ctx)),
		)
	}
	if orgID, ok := orgcontext.OrgIDFromContext(ctx); ok {
		attrs = append(attrs, attribute.String("pitboss.org_id", orgID.String()))
	}
	return attrs
}
