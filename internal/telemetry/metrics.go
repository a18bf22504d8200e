package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/codalotl/toolcallbench/internal/types"
)

const (
	MetricRuns      = "toolcallbench.runs"
	MetricDuration  = "toolcallbench.run.duration"
	MetricTokens    = "toolcallbench.tokens"
	MetricToolCalls = "toolcallbench.tool_calls"
	MetricRetries   = "toolcallbench.retries"
	MetricErrors    = "toolcallbench.errors"
)

type instruments struct {
	runs      metric.Int64Counter
	duration  metric.Float64Histogram
	tokens    metric.Int64Counter
	toolCalls metric.Int64Counter
	retries   metric.Int64Counter
	errors    metric.Int64Counter
}

func newInstruments(m metric.Meter) (*instruments, error) {
	var (
		in  instruments
		err error
	)
	if in.runs, err = m.Int64Counter(MetricRuns, metric.WithDescription("Completed executions")); err != nil {
		return nil, fmt.Errorf("failed to create runs counter: %w", err)
	}
	if in.duration, err = m.Float64Histogram(MetricDuration,
		metric.WithDescription("Wall-clock duration of an execution"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}
	if in.tokens, err = m.Int64Counter(MetricTokens, metric.WithDescription("Tokens used, by kind")); err != nil {
		return nil, fmt.Errorf("failed to create tokens counter: %w", err)
	}
	if in.toolCalls, err = m.Int64Counter(MetricToolCalls, metric.WithDescription("Tool calls observed in traces")); err != nil {
		return nil, fmt.Errorf("failed to create tool call counter: %w", err)
	}
	if in.retries, err = m.Int64Counter(MetricRetries, metric.WithDescription("Inferred tool call retries")); err != nil {
		return nil, fmt.Errorf("failed to create retries counter: %w", err)
	}
	if in.errors, err = m.Int64Counter(MetricErrors, metric.WithDescription("Errored spans and failed executions")); err != nil {
		return nil, fmt.Errorf("failed to create errors counter: %w", err)
	}
	return &in, nil
}

// RecordRun adds one finished execution to the run instruments.
func (t *Telemetry) RecordRun(ctx context.Context, r types.RunMetrics) {
	if t == nil || t.instruments == nil {
		return
	}
	in := t.instruments
	base := []attribute.KeyValue{
		attribute.String("task", r.TaskID),
		attribute.String("agent", r.Agent.String()),
		attribute.String("model", r.Model),
	}
	attrs := metric.WithAttributes(base...)

	in.runs.Add(ctx, 1, metric.WithAttributes(append(base, attribute.Bool("success", r.Success))...))
	in.duration.Record(ctx, float64(r.DurationMs), attrs)
	in.tokens.Add(ctx, int64(r.PromptTokens), metric.WithAttributes(append(base, attribute.String("kind", "prompt"))...))
	in.tokens.Add(ctx, int64(r.CompletionTokens), metric.WithAttributes(append(base, attribute.String("kind", "completion"))...))
	in.toolCalls.Add(ctx, int64(r.ToolCallCount), attrs)
	in.retries.Add(ctx, int64(r.Retries), attrs)
	in.errors.Add(ctx, int64(r.Errors), attrs)
}
