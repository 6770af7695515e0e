package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestFieldsCarryTenantAndTrace(t *testing.T) {
	require.Empty(t, Fields(context.Background()))

	ctx := WithTenant(context.Background(), "tenant-a")
	require.Equal(t, "tenant-a", TenantFromContext(ctx))
	require.Len(t, Fields(ctx), 1)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1},
		SpanID:  trace.SpanID{2},
	})
	ctx = trace.ContextWithSpanContext(ctx, sc)
	require.Len(t, Fields(ctx), 3)
}
