// Package runner sequences task executions and turns each one into RunMetrics.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/codalotl/toolcallbench/internal/agents"
	"github.com/codalotl/toolcallbench/internal/collector"
	"github.com/codalotl/toolcallbench/internal/experiment"
	"github.com/codalotl/toolcallbench/internal/fsutil"
	"github.com/codalotl/toolcallbench/internal/types"
	"github.com/codalotl/toolcallbench/internal/workspace"
)

// TranscriptFile is written into each execution's work dir.
const TranscriptFile = "transcript.jsonl"

const (
	attrTask  = attribute.Key("bench.task")
	attrAgent = attribute.Key("bench.agent")
	attrModel = attribute.Key("bench.model")
	attrRun   = attribute.Key("bench.run")
)

// Recorder receives every finished run. *telemetry.Telemetry implements it.
type Recorder interface {
	RecordRun(ctx context.Context, r types.RunMetrics)
}

// Options configures a sweep.
type Options struct {
	Tasks       []experiment.Task
	RunsPerTask int
	// Models defaults to the placeholder model.
	Models []string
	// Executors are run in variant order regardless of their order here.
	Executors []agents.Executor
	Tracer    trace.Tracer
	// Flush delivers ended spans to the collector before a trace is consumed.
	Flush     func(context.Context) error
	Collector *collector.Collector
	Recorder  Recorder
	// RunDir receives per-execution work dirs. When empty, a temporary dir is used.
	RunDir string
	// FixturesDir is where task setup sources are resolved.
	FixturesDir string
	OnRun       func(types.RunMetrics)
	Logger      *slog.Logger
	Now         func() time.Time
}

// Run executes every task runsPerTask times with each executor and model. A
// failed execution is recorded and the sweep continues. When ctx is cancelled
// the runs completed so far are returned with the context's error.
func Run(ctx context.Context, opts Options) ([]types.RunMetrics, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	r := newSweep(opts)
	if r.opts.RunDir == "" {
		dir, err := os.MkdirTemp("", "toolcallbench-")
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(dir)
		r.opts.RunDir = dir
	}

	executors := orderedExecutors(opts.Executors)
	models := opts.Models
	if len(models) == 0 {
		models = []string{experiment.DefaultModel}
	}

	var runs []types.RunMetrics
	for _, task := range opts.Tasks {
		for i := 0; i < opts.RunsPerTask; i++ {
			for _, exec := range executors {
				for _, model := range models {
					if err := ctx.Err(); err != nil {
						return runs, err
					}
					m := r.runOne(ctx, task, i, exec, model)
					runs = append(runs, m)
					if opts.Recorder != nil {
						opts.Recorder.RecordRun(ctx, m)
					}
					if opts.OnRun != nil {
						opts.OnRun(m)
					}
				}
			}
		}
	}
	return runs, nil
}

func (o Options) validate() error {
	switch {
	case len(o.Tasks) == 0:
		return experiment.ErrNoTasks
	case o.RunsPerTask < 1:
		return fmt.Errorf("runs per task must be >= 1, got %d", o.RunsPerTask)
	case len(o.Executors) == 0:
		return errors.New("no executors configured")
	case o.Tracer == nil:
		return errors.New("tracer is required")
	case o.Collector == nil:
		return errors.New("collector is required")
	}
	return nil
}

type sweep struct {
	opts Options
}

func newSweep(opts Options) *sweep {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Flush == nil {
		opts.Flush = func(context.Context) error { return nil }
	}
	return &sweep{opts: opts}
}

// orderedExecutors sorts executors into sweep order, keeping only the first
// executor of each variant.
func orderedExecutors(in []agents.Executor) []agents.Executor {
	var out []agents.Executor
	for _, v := range types.Variants() {
		for _, e := range in {
			if e.Variant() == v {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Label is the unique name of one execution and its root span.
func Label(taskID string, variant types.AgentVariant, model string, runIndex int) string {
	return fmt.Sprintf("%s/%s/%s/run-%d/%s", taskID, variant.Short(), model, runIndex, uuid.NewString()[:8])
}

func (s *sweep) runOne(ctx context.Context, task experiment.Task, runIndex int, exec agents.Executor, model string) types.RunMetrics {
	variant := exec.Variant()
	label := Label(task.ID, variant, model, runIndex)
	log := s.opts.Logger.With("label", label)

	started := s.opts.Now()
	spanCtx, root := s.opts.Tracer.Start(ctx, label, trace.WithNewRoot(), trace.WithAttributes(
		collector.AttrSpanType.String(string(collector.SpanTypeAgent)),
		attrTask.String(task.ID),
		attrAgent.String(variant.String()),
		attrModel.String(model),
		attrRun.Int(runIndex),
	))
	traceID := root.SpanContext().TraceID().String()

	m := types.RunMetrics{
		TaskID:   task.ID,
		Model:    model,
		Agent:    variant,
		RunIndex: runIndex,
		Label:    label,
		TraceID:  traceID,
	}

	var res *agents.Result
	workDir, err := workspace.WorkDir(s.opts.RunDir, label)
	if err == nil {
		err = s.applySetup(task, workDir)
	}
	if err == nil {
		log.Debug("executing", "work_dir", workDir)
		res, err = exec.Execute(spanCtx, agents.Request{Task: task, Model: model, Label: label, WorkDir: workDir})
		if res != nil && res.Session != "" {
			log = log.With("session", res.Session)
		}
		if res != nil && res.Transcript != "" {
			if werr := os.WriteFile(filepath.Join(workDir, TranscriptFile), []byte(res.Transcript), 0o644); werr != nil {
				log.Warn("failed to save transcript", "error", werr)
			}
		}
	}

	if ferr := s.opts.Flush(ctx); ferr != nil {
		log.Warn("failed to flush spans", "error", ferr)
	}
	counts, ok := s.opts.Collector.Consume(traceID)
	if !ok {
		log.Warn("no trace state for execution", "trace_id", traceID)
	}
	m.ToolCallCount = counts.ToolCallCount
	m.Retries = counts.Retries
	m.Errors = counts.Errors

	if res != nil {
		usage := res.Usage.Resolve()
		m.PromptTokens = usage.Prompt
		m.CompletionTokens = usage.Completion
		m.TotalTokens = usage.Total
	}

	m.Success = true
	if err != nil {
		m.Success = false
		m.Errors = max(1, m.Errors)
		m.ErrorMessage = strings.TrimSpace(err.Error())
	} else if msg := unmetExpectation(task, res); msg != "" {
		m.Success = false
		m.ErrorMessage = msg
	}

	ended := s.opts.Now()
	m.DurationMs = ended.Sub(started).Milliseconds()
	m.Timestamp = ended.UTC()

	if !m.Success {
		root.SetStatus(codes.Error, m.ErrorMessage)
	}
	root.End()

	log.Info("execution finished",
		"success", m.Success,
		"tool_calls", m.ToolCallCount,
		"retries", m.Retries,
		"errors", m.Errors,
		"duration_ms", m.DurationMs,
	)
	return m
}

func (s *sweep) applySetup(task experiment.Task, workDir string) error {
	base := s.opts.FixturesDir
	if base == "" {
		base = "."
	}
	for _, step := range task.Setup {
		src, err := fsutil.SafeJoin(base, step.From)
		if err != nil {
			return fmt.Errorf("setup: %w", err)
		}
		dst, err := fsutil.SafeJoin(workDir, step.To)
		if err != nil {
			return fmt.Errorf("setup: %w", err)
		}
		if err := fsutil.CopyInto(src, dst); err != nil {
			return fmt.Errorf("setup: copy %s: %w", step.From, err)
		}
	}
	return nil
}

// unmetExpectation returns a message naming the first expect pattern the
// final answer does not match, or "" when all match.
func unmetExpectation(task experiment.Task, res *agents.Result) string {
	patterns, err := task.ExpectPatterns()
	if err != nil {
		return err.Error()
	}
	var output string
	if res != nil {
		output = res.Output
	}
	for _, re := range patterns {
		if !re.MatchString(output) {
			return fmt.Sprintf("output does not match expected pattern `%s`", re.String())
		}
	}
	return ""
}
