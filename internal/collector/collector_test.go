package collector

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func runSpans(t *testing.T, spans ...SpanEnd) Metrics {
	t.Helper()
	c := New()
	c.OnTraceStart(TraceStart{TraceID: "t1", Name: "exec"})
	for _, s := range spans {
		s.TraceID = "t1"
		c.OnSpanEnd(s)
	}
	m, ok := c.ConsumeLatest()
	require.True(t, ok)
	return m
}

func toolCall(name string, failed bool) SpanEnd {
	return SpanEnd{Type: SpanTypeFunction, ToolName: name, Error: failed}
}

func TestRetryInference(t *testing.T) {
	cases := []struct {
		name    string
		spans   []SpanEnd
		calls   int
		errors  int
		retries int
	}{
		{
			name:    "error then success",
			spans:   []SpanEnd{toolCall("X", true), toolCall("X", false)},
			calls:   2,
			errors:  1,
			retries: 1,
		},
		{
			name:    "success then error",
			spans:   []SpanEnd{toolCall("X", false), toolCall("X", true)},
			calls:   2,
			errors:  1,
			retries: 0,
		},
		{
			name:    "two errors then success",
			spans:   []SpanEnd{toolCall("X", true), toolCall("X", true), toolCall("X", false)},
			calls:   3,
			errors:  2,
			retries: 1,
		},
		{
			name:    "two errors then two successes",
			spans:   []SpanEnd{toolCall("X", true), toolCall("X", true), toolCall("X", false), toolCall("X", false)},
			calls:   4,
			errors:  2,
			retries: 2,
		},
		{
			name:    "failure resolved only by same tool",
			spans:   []SpanEnd{toolCall("X", true), toolCall("Y", false)},
			calls:   2,
			errors:  1,
			retries: 0,
		},
		{
			name:    "single resolution per failure",
			spans:   []SpanEnd{toolCall("X", true), toolCall("X", false), toolCall("X", false)},
			calls:   3,
			errors:  1,
			retries: 1,
		},
		{
			name: "non tool spans count errors only",
			spans: []SpanEnd{
				{Type: SpanTypeGeneration, Error: true},
				{Type: SpanTypeAgent},
				toolCall("X", false),
			},
			calls:   1,
			errors:  1,
			retries: 0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := runSpans(t, tc.spans...)
			require.Equal(t, tc.calls, m.ToolCallCount)
			require.Equal(t, tc.errors, m.Errors)
			require.Equal(t, tc.retries, m.Retries)
		})
	}
}

func TestConsumeLatestIsDestructive(t *testing.T) {
	c := New()
	c.OnTraceStart(TraceStart{TraceID: "t1"})
	c.OnSpanEnd(SpanEnd{TraceID: "t1", Type: SpanTypeFunction, ToolName: "X"})

	m, ok := c.ConsumeLatest()
	require.True(t, ok)
	require.Equal(t, "t1", m.TraceID)
	require.Equal(t, 1, m.ToolCallCount)

	_, ok = c.ConsumeLatest()
	require.False(t, ok)
	require.Zero(t, c.Pending())
}

func TestConsumeLatestEmpty(t *testing.T) {
	_, ok := New().ConsumeLatest()
	require.False(t, ok)
}

func TestSpansForUnknownOrConsumedTracesAreDropped(t *testing.T) {
	c := New()
	c.OnSpanEnd(SpanEnd{TraceID: "ghost", Type: SpanTypeFunction, Error: true})
	require.Zero(t, c.Pending())

	c.OnTraceStart(TraceStart{TraceID: "t1"})
	_, ok := c.Consume("t1")
	require.True(t, ok)

	c.OnSpanEnd(SpanEnd{TraceID: "t1", Type: SpanTypeFunction, Error: true})
	require.Zero(t, c.Pending())
	_, ok = c.Consume("t1")
	require.False(t, ok)
}

func TestTraceStartWithoutIDIsIgnored(t *testing.T) {
	c := New()
	c.OnTraceStart(TraceStart{})
	require.Zero(t, c.Pending())
	_, ok := c.ConsumeLatest()
	require.False(t, ok)
}

func TestConsumeByIDKeepsOtherTraces(t *testing.T) {
	c := New()
	c.OnTraceStart(TraceStart{TraceID: "a"})
	c.OnTraceStart(TraceStart{TraceID: "b"})
	c.OnSpanEnd(SpanEnd{TraceID: "a", Type: SpanTypeFunction, ToolName: "X", Error: true})
	c.OnSpanEnd(SpanEnd{TraceID: "b", Type: SpanTypeFunction, ToolName: "X"})
	c.OnSpanEnd(SpanEnd{TraceID: "a", Type: SpanTypeFunction, ToolName: "X"})

	a, ok := c.Consume("a")
	require.True(t, ok)
	require.Equal(t, Metrics{TraceID: "a", ToolCallCount: 2, Errors: 1, Retries: 1}, a)

	// b is still the latest trace.
	b, ok := c.ConsumeLatest()
	require.True(t, ok)
	require.Equal(t, Metrics{TraceID: "b", ToolCallCount: 1}, b)
}

func TestConsumeLatestAfterConsumingLatestByID(t *testing.T) {
	c := New()
	c.OnTraceStart(TraceStart{TraceID: "a"})
	c.OnTraceStart(TraceStart{TraceID: "b"})
	_, ok := c.Consume("b")
	require.True(t, ok)

	_, ok = c.ConsumeLatest()
	require.False(t, ok)
	require.Equal(t, 1, c.Pending())
}
