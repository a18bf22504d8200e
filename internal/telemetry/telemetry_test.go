package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/codalotl/toolcallbench/internal/types"
)

func TestConfigValidate(t *testing.T) {
	require.NoError(t, Config{}.Validate())
	require.NoError(t, Config{Traces: ExporterOTLPGRPC, Metrics: ExporterStdout}.Validate())
	require.Error(t, Config{Traces: "zipkin"}.Validate())
	require.Error(t, Config{Metrics: "prometheus"}.Validate())

	_, err := New(context.Background(), Config{Traces: "zipkin"})
	require.Error(t, err)
}

func TestSpanProcessorsRunWithoutExporter(t *testing.T) {
	ctx := context.Background()
	rec := tracetest.NewSpanRecorder()
	tel, err := New(ctx, Config{}, WithSpanProcessor(rec))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(ctx) })

	_, span := tel.Tracer().Start(ctx, "root")
	span.End()
	require.NoError(t, tel.ForceFlush(ctx))

	ended := rec.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "root", ended[0].Name())
	require.True(t, ended[0].SpanContext().IsSampled())
}

func TestResourceCarriesServiceVersion(t *testing.T) {
	ctx := context.Background()
	rec := tracetest.NewSpanRecorder()
	tel, err := New(ctx, Config{ServiceName: "bench"}, WithSpanProcessor(rec), WithServiceVersion("2.0.1"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(ctx) })

	_, span := tel.Tracer().Start(ctx, "root")
	span.End()

	attrs := rec.Ended()[0].Resource().Set()
	name, ok := attrs.Value(semconv.ServiceNameKey)
	require.True(t, ok)
	require.Equal(t, "bench", name.AsString())
	version, ok := attrs.Value(semconv.ServiceVersionKey)
	require.True(t, ok)
	require.Equal(t, "2.0.1", version.AsString())

	unversioned := tracetest.NewSpanRecorder()
	tel, err = New(ctx, Config{}, WithSpanProcessor(unversioned), WithServiceVersion(""))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(ctx) })
	_, span = tel.Tracer().Start(ctx, "root")
	span.End()
	_, ok = unversioned.Ended()[0].Resource().Set().Value(semconv.ServiceVersionKey)
	require.False(t, ok)
}

func TestStdoutTraceExporterWritesToWriter(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	tel, err := New(ctx, Config{Traces: ExporterStdout}, WithWriter(&buf))
	require.NoError(t, err)

	_, span := tel.Tracer().Start(ctx, "exported-span")
	span.End()
	require.NoError(t, tel.Shutdown(ctx))

	require.Contains(t, buf.String(), "exported-span")
}

func TestRecordRun(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	tel, err := New(ctx, Config{}, WithMetricReader(reader))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(ctx) })

	run := types.RunMetrics{
		TaskID:           "echo",
		Agent:            types.AgentCLI,
		Model:            "default",
		PromptTokens:     100,
		CompletionTokens: 20,
		ToolCallCount:    3,
		Retries:          1,
		Errors:           2,
		DurationMs:       1500,
		Success:          true,
	}
	tel.RecordRun(ctx, run)
	tel.RecordRun(ctx, run)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sums := map[string]int64{}
	var durationCount uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					sums[m.Name] += dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					durationCount += dp.Count
				}
			}
		}
	}

	require.Equal(t, int64(2), sums[MetricRuns])
	require.Equal(t, int64(240), sums[MetricTokens])
	require.Equal(t, int64(6), sums[MetricToolCalls])
	require.Equal(t, int64(2), sums[MetricRetries])
	require.Equal(t, int64(4), sums[MetricErrors])
	require.Equal(t, uint64(2), durationCount)
}

func TestRecordRunOnNilTelemetry(t *testing.T) {
	var tel *Telemetry
	require.NotPanics(t, func() { tel.RecordRun(context.Background(), types.RunMetrics{}) })
}
