package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestLogHelpers_NilLogger tests that helpers accept a nil logger.
func TestLogHelpers_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		LogRunStart(nil, "run", "entry")
		LogRunComplete(nil, "run", 1, 1)
		LogRunError(nil, "run", errors.New("x"), 1, "node")
		LogNodeStart(nil, "node", 1)
		LogNodeComplete(nil, "node", 1)
		LogNodeError(nil, "node", errors.New("x"))
		LogTransition(nil, "a", "b", true)
		LogCheckpoint(nil, "node", 1, 10)
		LogCheckpointError(nil, "node", "save", errors.New("x"))
	})
}

// TestLogHelpers_Fields tests structured attributes.
func TestLogHelpers_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	LogRunError(logger, "run-1", errors.New("boom"), 12, "executeDDL")
	LogTransition(logger, "executeDDL", "designSchema", true)

	out := buf.String()
	assert.Contains(t, out, `"msg":"graph run failed"`)
	assert.Contains(t, out, `"last_node":"executeDDL"`)
	assert.Contains(t, out, `"to":"designSchema"`)
	assert.Contains(t, out, `"conditional":true`)
}

// TestMetricsRecorder tests that instruments report through the SDK.
func TestMetricsRecorder(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	ctx := context.Background()

	rec, err := NewMetricsRecorderWithMeter(provider.Meter(MeterName))
	require.NoError(t, err)

	rec.RecordNodeExecution(ctx, "designSchema", 5*time.Millisecond, nil)
	rec.RecordNodeExecution(ctx, "designSchema", 5*time.Millisecond, errors.New("x"))
	rec.RecordTransition(ctx, "designSchema", "executeDDL")
	rec.RecordGraphRun(ctx, true, time.Second)
	rec.RecordCheckpoint(ctx, "designSchema", 128)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	names := map[string]metricdata.Metrics{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		names[m.Name] = m
	}
	require.Contains(t, names, "flowgraph.node.executions")
	require.Contains(t, names, "flowgraph.node.errors")
	require.Contains(t, names, "flowgraph.transitions")
	require.Contains(t, names, "flowgraph.graph.runs")
	require.Contains(t, names, "flowgraph.checkpoint.size_bytes")

	sum, ok := names["flowgraph.node.executions"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)
}

// TestSpanManager tests span names and status.
func TestSpanManager(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	spans := NewSpanManagerWithProvider(provider)

	ctx, runSpan := spans.StartRunSpan(context.Background(), "schemaflow", "run-1")
	_, nodeSpan := spans.StartNodeSpan(ctx, "executeDDL", 1)
	spans.EndSpanWithError(nodeSpan, errors.New("ddl failed"))
	spans.EndSpanWithError(runSpan, nil)

	got := exporter.GetSpans()
	require.Len(t, got, 2)
	assert.Equal(t, "flowgraph.node.executeDDL", got[0].Name)
	assert.Equal(t, codes.Error, got[0].Status.Code)
	assert.Equal(t, "flowgraph.run", got[1].Name)
	assert.Equal(t, codes.Ok, got[1].Status.Code)
	assert.Equal(t, got[1].SpanContext.SpanID(), got[0].Parent.SpanID())
}

// TestNoop tests the no-op variants.
func TestNoop(t *testing.T) {
	ctx := context.Background()
	var spans SpanManager = NoopSpanManager{}
	gotCtx, span := spans.StartRunSpan(ctx, "g", "r")
	assert.Equal(t, ctx, gotCtx)
	assert.False(t, span.IsRecording())
	assert.NotPanics(t, func() {
		spans.EndSpanWithError(span, errors.New("x"))
		NoopMetrics{}.RecordGraphRun(ctx, true, time.Second)
	})
}
