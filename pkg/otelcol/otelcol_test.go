package otelcol

import (
	"context"
	"testing"

	"grc-license-controlplane/pkg/config"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestProvideTraceExportsSpans(t *testing.T) {
	cfg := &config.Config{AppName: "license-controlplane", AppEnv: "test"}
	exporter := tracetest.NewInMemoryExporter()

	tp := ProvideTrace(exporter, append(defaultTraceProviderOption(cfg), trace.WithSyncer(exporter))...)
	_, span := tp.Tracer("test").Start(context.Background(), "check_entitlement")
	span.End()
	require.NoError(t, tp.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.NotEmpty(t, spans)
	require.Equal(t, "check_entitlement", spans[0].Name)

	var service string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	require.Equal(t, "license-controlplane", service)
	require.NoError(t, tp.Shutdown(context.Background()))
}
