// Package ctxlogger decorates a logger with what the context knows about the
// operation in flight: correlation id, trace ids and the organization.
package ctxlogger

import (
	"context"
	"sync/atomic"

	"github.com/smallbiznis/pitboss/internal/orgcontext"
	"github.com/smallbiznis/pitboss/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var serviceName atomic.Value // string

func SetServiceName(name string) {
	serviceName.Store(name)
}

func currentServiceName() string {
	if name, ok := serviceName.Load().(string); ok && name != "" {
		return name
	}
	return "unknown"
}

// FromContext decorates the global logger.
func FromContext(ctx context.Context) *zap.Logger {
	return WithContext(ctx, zap.L())
}

// WithContext decorates base. Fields the context does not carry are omitted
// rather than logged empty.
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if ctx == nil {
		return base
	}
	return base.With(Fields(ctx)...)
}

// Fields returns the context fields in a stable order.
func Fields(ctx context.Context) []zap.Field {
	fields := []zap.Field{zap.String("service", currentServiceName())}
	if cid := correlation.ExtractCorrelationID(ctx); cid != "" {
		fields = append(fields, zap.String("correlation_id", cid))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if orgID, ok := orgcontext.OrgIDFromContext(ctx); ok {
		fields = append(fields, zap.String("org_id", orgID.String()))
	}
	return fields
}
