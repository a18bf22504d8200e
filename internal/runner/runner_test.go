package runner

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/codalotl/toolcallbench/internal/agents"
	"github.com/codalotl/toolcallbench/internal/collector"
	"github.com/codalotl/toolcallbench/internal/experiment"
	"github.com/codalotl/toolcallbench/internal/types"
)

// scriptedExecutor emits one function span per entry of calls (true = error)
// on the tracer found in ctx, then returns result and err.
type scriptedExecutor struct {
	variant types.AgentVariant
	calls   []bool
	result  *agents.Result
	err     error

	requests []agents.Request
	onRun    func()
}

func (e *scriptedExecutor) Variant() types.AgentVariant { return e.variant }

func (e *scriptedExecutor) Execute(ctx context.Context, req agents.Request) (*agents.Result, error) {
	e.requests = append(e.requests, req)
	tracer := trace.SpanFromContext(ctx).TracerProvider().Tracer("test")
	for _, failed := range e.calls {
		_, span := tracer.Start(ctx, "files.read", trace.WithAttributes(
			collector.AttrSpanType.String(string(collector.SpanTypeFunction)),
			collector.AttrToolName.String("files.read"),
		))
		if failed {
			span.SetStatus(codes.Error, "failed")
		}
		span.End()
	}
	if e.onRun != nil {
		e.onRun()
	}
	return e.result, e.err
}

func usage(in, out int) *agents.Usage {
	return &agents.Usage{InputTokens: &in, OutputTokens: &out}
}

type harness struct {
	collector *collector.Collector
	recorder  *tracetest.SpanRecorder
	tp        *sdktrace.TracerProvider
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{collector: collector.New(), recorder: tracetest.NewSpanRecorder()}
	h.tp = sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSpanProcessor(collector.NewSpanProcessor(h.collector, nil)),
		sdktrace.WithSpanProcessor(h.recorder),
	)
	t.Cleanup(func() { _ = h.tp.Shutdown(context.Background()) })
	return h
}

func (h *harness) options(t *testing.T, execs ...agents.Executor) Options {
	return Options{
		Tasks:       []experiment.Task{{ID: "read", Server: "files", Tool: "read"}},
		RunsPerTask: 1,
		Executors:   execs,
		Tracer:      h.tp.Tracer("runner"),
		Flush:       h.tp.ForceFlush,
		Collector:   h.collector,
		RunDir:      t.TempDir(),
	}
}

type recordedRuns struct {
	runs []types.RunMetrics
}

func (r *recordedRuns) RecordRun(_ context.Context, m types.RunMetrics) {
	r.runs = append(r.runs, m)
}

func TestRunMergesTraceCountsAndUsage(t *testing.T) {
	h := newHarness(t)
	native := &scriptedExecutor{
		variant: types.AgentNative,
		calls:   []bool{true, false},
		result:  &agents.Result{Output: "done", Usage: usage(100, 20), Transcript: "{}\n"},
	}
	cli := &scriptedExecutor{
		variant: types.AgentCLI,
		calls:   []bool{false},
		result:  &agents.Result{Output: "done", Usage: usage(300, 40)},
	}
	rec := &recordedRuns{}
	var progress []string

	opts := h.options(t, cli, native)
	opts.Recorder = rec
	opts.OnRun = func(m types.RunMetrics) { progress = append(progress, m.Label) }
	runs, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	require.Equal(t, types.AgentNative, runs[0].Agent)
	require.Equal(t, "read", runs[0].TaskID)
	require.Equal(t, experiment.DefaultModel, runs[0].Model)
	require.Equal(t, 2, runs[0].ToolCallCount)
	require.Equal(t, 1, runs[0].Errors)
	require.Equal(t, 1, runs[0].Retries)
	require.Equal(t, 100, runs[0].PromptTokens)
	require.Equal(t, 20, runs[0].CompletionTokens)
	require.Equal(t, 120, runs[0].TotalTokens)
	require.True(t, runs[0].Success)
	require.Empty(t, runs[0].ErrorMessage)
	require.True(t, strings.HasPrefix(runs[0].Label, "read/mcp/default/run-0/"))
	require.NotEmpty(t, runs[0].TraceID)

	require.Equal(t, types.AgentCLI, runs[1].Agent)
	require.Equal(t, 1, runs[1].ToolCallCount)
	require.Zero(t, runs[1].Retries)
	require.Equal(t, 340, runs[1].TotalTokens)

	require.Equal(t, runs, rec.runs)
	require.Equal(t, []string{runs[0].Label, runs[1].Label}, progress)
	require.Zero(t, h.collector.Pending())

	transcript, err := os.ReadFile(filepath.Join(native.requests[0].WorkDir, TranscriptFile))
	require.NoError(t, err)
	require.Equal(t, "{}\n", string(transcript))
}

func TestRunSweepOrder(t *testing.T) {
	h := newHarness(t)
	native := &scriptedExecutor{variant: types.AgentNative, result: &agents.Result{}}
	cli := &scriptedExecutor{variant: types.AgentCLI, result: &agents.Result{}}

	opts := h.options(t, native, cli)
	opts.Tasks = []experiment.Task{{ID: "a"}, {ID: "b"}}
	opts.RunsPerTask = 2
	opts.Models = []string{"m1", "m2"}
	runs, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, runs, 16)

	var got []string
	for _, r := range runs {
		got = append(got, strings.Join([]string{r.TaskID, r.Agent.Short(), r.Model, string(rune('0' + r.RunIndex))}, " "))
	}
	require.Equal(t, []string{
		"a mcp m1 0", "a mcp m2 0", "a cli m1 0", "a cli m2 0",
		"a mcp m1 1", "a mcp m2 1", "a cli m1 1", "a cli m2 1",
		"b mcp m1 0", "b mcp m2 0", "b cli m1 0", "b cli m2 0",
		"b mcp m1 1", "b mcp m2 1", "b cli m1 1", "b cli m2 1",
	}, got)

	labels := map[string]bool{}
	for _, r := range runs {
		labels[r.Label] = true
	}
	require.Len(t, labels, len(runs))
	require.Equal(t, "m2", native.requests[1].Model)
}

func TestRunRecordsFailuresAndContinues(t *testing.T) {
	h := newHarness(t)
	native := &scriptedExecutor{variant: types.AgentNative, err: errors.New("agent crashed")}
	cli := &scriptedExecutor{
		variant: types.AgentCLI,
		calls:   []bool{true, true},
		result:  &agents.Result{Usage: usage(5, 5)},
		err:     errors.New("agent timed out"),
	}

	runs, err := Run(context.Background(), h.options(t, native, cli))
	require.NoError(t, err)
	require.Len(t, runs, 2)

	require.False(t, runs[0].Success)
	require.Equal(t, 1, runs[0].Errors)
	require.Equal(t, "agent crashed", runs[0].ErrorMessage)
	require.Zero(t, runs[0].TotalTokens)

	require.False(t, runs[1].Success)
	require.Equal(t, 2, runs[1].Errors)
	require.Equal(t, 10, runs[1].TotalTokens)

	var rootStatus []codes.Code
	for _, s := range h.recorder.Ended() {
		if !s.Parent().IsValid() {
			rootStatus = append(rootStatus, s.Status().Code)
		}
	}
	require.Equal(t, []codes.Code{codes.Error, codes.Error}, rootStatus)
	require.Zero(t, h.collector.Pending())
}

func TestRunExpectations(t *testing.T) {
	h := newHarness(t)
	native := &scriptedExecutor{variant: types.AgentNative, calls: []bool{false}, result: &agents.Result{Output: "The answer is 42."}}
	cli := &scriptedExecutor{variant: types.AgentCLI, calls: []bool{false}, result: &agents.Result{Output: "I could not find it."}}

	opts := h.options(t, native, cli)
	opts.Tasks[0].Expect = experiment.StringList{`\b42\b`}
	runs, err := Run(context.Background(), opts)
	require.NoError(t, err)

	require.True(t, runs[0].Success)
	require.False(t, runs[1].Success)
	require.Equal(t, "output does not match expected pattern `\\b42\\b`", runs[1].ErrorMessage)
	require.Zero(t, runs[1].Errors)
}

func TestRunDuration(t *testing.T) {
	h := newHarness(t)
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	native := &scriptedExecutor{variant: types.AgentNative, result: &agents.Result{}}
	native.onRun = func() { now = now.Add(1500 * time.Millisecond) }

	opts := h.options(t, native)
	opts.Now = func() time.Time { return now }
	runs, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, int64(1500), runs[0].DurationMs)
	require.Equal(t, now, runs[0].Timestamp)
}

func TestRunCancellation(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	native := &scriptedExecutor{variant: types.AgentNative, result: &agents.Result{}}
	native.onRun = cancel
	cli := &scriptedExecutor{variant: types.AgentCLI, result: &agents.Result{}}

	runs, err := Run(ctx, h.options(t, native, cli))
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, runs, 1)
	require.Empty(t, cli.requests)
}

func TestRunValidatesOptions(t *testing.T) {
	h := newHarness(t)
	opts := h.options(t)
	_, err := Run(context.Background(), opts)
	require.Error(t, err)

	opts = h.options(t, &scriptedExecutor{variant: types.AgentNative})
	opts.Tasks = nil
	_, err = Run(context.Background(), opts)
	require.ErrorIs(t, err, experiment.ErrNoTasks)
}

func TestRunAppliesTaskSetup(t *testing.T) {
	h := newHarness(t)
	fixtures := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(fixtures, "notes.txt"), []byte("hello"), 0o644))

	var seen string
	native := &scriptedExecutor{variant: types.AgentNative, result: &agents.Result{}}
	native.onRun = func() {
		data, err := os.ReadFile(filepath.Join(native.requests[0].WorkDir, "data", "notes.txt"))
		require.NoError(t, err)
		seen = string(data)
	}
	cli := &scriptedExecutor{variant: types.AgentCLI, result: &agents.Result{}}

	opts := h.options(t, native, cli)
	opts.FixturesDir = fixtures
	opts.Tasks[0].Setup = []experiment.CopyStep{{From: "notes.txt", To: "data"}}
	runs, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, "hello", seen)
	require.True(t, runs[0].Success)

	opts.Tasks[0].Setup = []experiment.CopyStep{{From: "missing.txt"}}
	runs, err = Run(context.Background(), opts)
	require.NoError(t, err)
	require.False(t, runs[0].Success)
	require.Contains(t, runs[0].ErrorMessage, "setup")
	require.Len(t, native.requests, 1)
}

func TestRunLogsAgentSession(t *testing.T) {
	h := newHarness(t)
	native := &scriptedExecutor{variant: types.AgentNative, result: &agents.Result{Session: "sess-123"}}

	var logs bytes.Buffer
	opts := h.options(t, native)
	opts.Logger = slog.New(slog.NewTextHandler(&logs, nil))
	runs, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Contains(t, logs.String(), "execution finished")
	require.Contains(t, logs.String(), "session=sess-123")
}
