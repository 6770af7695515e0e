package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type tenantKey struct{}

// WithTenant stores the tenant identifier for request-scoped logging.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantFromContext returns the tenant stored by WithTenant, or "".
func TenantFromContext(ctx context.Context) string {
	v, _ := ctx.Value(tenantKey{}).(string)
	return v
}

// Fields returns tenant and trace correlation fields carried by ctx.
func Fields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}

	fields := make([]zap.Field, 0, 3)
	if tenantID := TenantFromContext(ctx); tenantID != "" {
		fields = append(fields, zap.String("tenant_id", tenantID))
	}

	span := trace.SpanFromContext(ctx).SpanContext()
	if span.IsValid() {
		fields = append(fields,
			zap.String("trace_id", span.TraceID().String()),
			zap.String("span_id", span.SpanID().String()),
		)
	}
	return fields
}

// Ctx returns the global logger annotated with the correlation fields of ctx.
func Ctx(ctx context.Context) *zap.Logger {
	return zap.L().With(Fields(ctx)...)
}
