package collector

import (
	"context"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Span attributes read by SpanProcessor. Executors set them on the spans they emit.
const (
	AttrSpanType = attribute.Key("agent.span.type")
	AttrToolName = attribute.Key("agent.tool.name")
)

// SpanProcessor feeds OpenTelemetry spans into a Collector. A span without a
// valid parent starts a trace; every ended span is reported with its type,
// tool name and error status.
type SpanProcessor struct {
	collector *Collector
	logger    *slog.Logger
}

var _ sdktrace.SpanProcessor = (*SpanProcessor)(nil)

// NewSpanProcessor returns a processor for c. Ended spans are logged at debug
// level on logger, which may be nil.
func NewSpanProcessor(c *Collector, logger *slog.Logger) *SpanProcessor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SpanProcessor{collector: c, logger: logger}
}

func (p *SpanProcessor) OnStart(_ context.Context, s sdktrace.ReadWriteSpan) {
	if s.Parent().IsValid() {
		return
	}
	tid := s.SpanContext().TraceID()
	if !tid.IsValid() {
		return
	}
	p.collector.OnTraceStart(TraceStart{TraceID: tid.String(), Name: s.Name()})
}

func (p *SpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	ev, ok := SpanEndFromSpan(s)
	if !ok {
		return
	}
	p.logger.Debug("span ended",
		"trace_id", ev.TraceID,
		"span", s.Name(),
		"type", string(ev.Type),
		"tool", ev.ToolName,
		"error", ev.Error,
	)
	p.collector.OnSpanEnd(ev)
}

// Spans are applied synchronously in OnEnd, so there is nothing to flush.
func (p *SpanProcessor) ForceFlush(context.Context) error { return nil }

func (p *SpanProcessor) Shutdown(context.Context) error { return nil }

// SpanEndFromSpan maps an ended OpenTelemetry span to a SpanEnd.
func SpanEndFromSpan(s sdktrace.ReadOnlySpan) (SpanEnd, bool) {
	tid := s.SpanContext().TraceID()
	if !tid.IsValid() {
		return SpanEnd{}, false
	}
	ev := SpanEnd{
		TraceID: tid.String(),
		Error:   s.Status().Code == codes.Error,
	}
	for _, kv := range s.Attributes() {
		switch kv.Key {
		case AttrSpanType:
			ev.Type = SpanType(kv.Value.AsString())
		case AttrToolName:
			ev.ToolName = kv.Value.AsString()
		}
	}
	return ev, true
}
