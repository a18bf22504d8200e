// Package collector reconstructs per-execution tool-call, error and retry
// counts from the spans an agent execution emits.
//
// Tool spans carry no retry marker, so retries are inferred: a successful call
// to tool T that follows an unresolved failed call to T in the same trace
// counts as one retry and resolves one failure. Failures followed by failures
// never count, and nothing beyond the tool name is correlated.
package collector

import "sync"

// SpanType discriminates spans. Only SpanTypeFunction is counted as a tool call.
type SpanType string

const (
	SpanTypeFunction   SpanType = "function"
	SpanTypeGeneration SpanType = "generation"
	SpanTypeAgent      SpanType = "agent"
	SpanTypeCustom     SpanType = "custom"
)

// TraceStart announces a new execution trace.
type TraceStart struct {
	TraceID string
	Name    string
}

// SpanEnd reports a finished span within a trace.
type SpanEnd struct {
	TraceID  string
	Type     SpanType
	ToolName string
	Error    bool
}

// Metrics are the counts accumulated for one trace.
type Metrics struct {
	TraceID       string `json:"traceId"`
	Name          string `json:"name,omitempty"`
	ToolCallCount int    `json:"toolCallCount"`
	Errors        int    `json:"errors"`
	Retries       int    `json:"retries"`
}

type traceState struct {
	metrics       Metrics
	pendingErrors map[string]int
}

// Collector accumulates trace state between a trace's start and its
// consumption. Each trace can be consumed exactly once.
//
// The latest slot assumes executions are not interleaved. Callers that know
// the trace id should use Consume rather than ConsumeLatest.
type Collector struct {
	mu     sync.Mutex
	traces map[string]*traceState
	latest string
}

func New() *Collector {
	return &Collector{traces: map[string]*traceState{}}
}

// OnTraceStart registers a trace and marks it latest. Events without an id are ignored.
func (c *Collector) OnTraceStart(ev TraceStart) {
	if ev.TraceID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.traces[ev.TraceID] = &traceState{
		metrics:       Metrics{TraceID: ev.TraceID, Name: ev.Name},
		pendingErrors: map[string]int{},
	}
	c.latest = ev.TraceID
}

// OnSpanEnd folds a finished span into its trace. Spans for unknown or
// already consumed traces are dropped.
func (c *Collector) OnSpanEnd(ev SpanEnd) {
	if ev.TraceID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.traces[ev.TraceID]
	if !ok {
		return
	}
	if ev.Error {
		st.metrics.Errors++
	}
	if ev.Type != SpanTypeFunction {
		return
	}
	st.metrics.ToolCallCount++
	if ev.Error {
		st.pendingErrors[ev.ToolName]++
		return
	}
	if st.pendingErrors[ev.ToolName] > 0 {
		st.pendingErrors[ev.ToolName]--
		st.metrics.Retries++
	}
}

// ConsumeLatest returns and forgets the most recently started trace.
func (c *Collector) ConsumeLatest() (Metrics, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == "" {
		return Metrics{}, false
	}
	return c.consumeLocked(c.latest)
}

// Consume returns and forgets the trace with the given id.
func (c *Collector) Consume(traceID string) (Metrics, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consumeLocked(traceID)
}

func (c *Collector) consumeLocked(traceID string) (Metrics, bool) {
	if traceID == c.latest {
		c.latest = ""
	}
	st, ok := c.traces[traceID]
	if !ok {
		return Metrics{}, false
	}
	delete(c.traces, traceID)
	return st.metrics, true
}

// Pending reports how many traces are waiting to be consumed.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.traces)
}
