package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codalotl/toolcallbench/internal/agents"
	"github.com/codalotl/toolcallbench/internal/collector"
	"github.com/codalotl/toolcallbench/internal/output"
	"github.com/codalotl/toolcallbench/internal/report"
	"github.com/codalotl/toolcallbench/internal/runner"
	"github.com/codalotl/toolcallbench/internal/telemetry"
	"github.com/codalotl/toolcallbench/internal/types"
	"github.com/codalotl/toolcallbench/internal/workspace"
)

type runFlags struct {
	tasks   string
	agents  string
	models  string
	runs    int
	results string
	format  string
	verbose bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	var f runFlags
	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "run",
		Short: "Run every task with both agent variants and write runs.json and summary.json",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExperiment(cmd.Context(), g, f)
		},
	})
	cmd.Flags().StringVar(&f.tasks, "tasks", "", "comma-separated task ids (default: all)")
	cmd.Flags().StringVar(&f.agents, "agents", "", "comma-separated variants: native/mcp, cli-wrapped/cli (default: both)")
	cmd.Flags().StringVar(&f.models, "models", "", "comma-separated models (default: the experiment's models)")
	cmd.Flags().IntVar(&f.runs, "runs", 0, "runs per task (default: the experiment's runs-per-task)")
	cmd.Flags().StringVar(&f.results, "results", "", "results directory (default: the experiment's results, or $"+workspace.ResultsEnvVar+")")
	cmd.Flags().StringVar(&f.format, "format", report.FormatTable, "format of the report printed at the end")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "echo agent commands and their output")
	return cmd
}

func runExperiment(ctx context.Context, g *globalFlags, f runFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, err := g.logger()
	if err != nil {
		return err
	}
	exp, err := g.loadExperiment()
	if err != nil {
		return err
	}
	if err := exp.CheckEnv(lookupEnv); err != nil {
		return err
	}
	tasks, err := exp.SelectTasks(splitCommaList(f.tasks))
	if err != nil {
		return err
	}
	runsPerTask := exp.RunsPerTask
	if f.runs > 0 {
		runsPerTask = f.runs
	}
	models := exp.ModelList()
	if list := splitCommaList(f.models); list != nil {
		models = list
	}

	printer := output.NewPrinter(g.stdout)
	printer.SetVerbose(f.verbose)
	executors, err := executorFactory(exp, printer, logger)
	if err != nil {
		return err
	}
	executors, err = filterExecutors(executors, splitCommaList(f.agents))
	if err != nil {
		return err
	}

	rootDir, _ := os.Getwd()
	resultsDir := f.results
	if resultsDir == "" {
		resultsDir = exp.Results
	}
	resultsDir = workspace.ResultsDir(rootDir, resultsDir)
	runDir, err := workspace.CreateRunDir(resultsDir, now())
	if err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	version, verr := agentVersion(ctx, exp.Agent.Command)
	if verr != nil {
		logger.Warn("could not determine agent version", "command", exp.Agent.Command, "error", verr)
	}

	c := collector.New()
	tel, err := telemetry.New(ctx, exp.Telemetry,
		telemetry.WithSpanProcessor(collector.NewSpanProcessor(c, logger)),
		telemetry.WithWriter(g.stderr),
		telemetry.WithServiceVersion(version),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	if err := printer.Appf("Running %d task(s) x %d run(s) x %d variant(s) x %d model(s). Results: %s",
		len(tasks), runsPerTask, len(executors), len(models), runDir); err != nil {
		return err
	}

	runs, runErr := runner.Run(ctx, runner.Options{
		Tasks:       tasks,
		RunsPerTask: runsPerTask,
		Models:      models,
		Executors:   executors,
		Tracer:      tel.Tracer(),
		Flush:       tel.ForceFlush,
		Collector:   c,
		Recorder:    tel,
		RunDir:      runDir,
		FixturesDir: exp.Dir,
		Logger:      logger,
		OnRun: func(m types.RunMetrics) {
			_ = printer.App(progressLine(m))
		},
	})
	if len(runs) == 0 && runErr != nil {
		return runErr
	}

	if err := writeArtifacts(ctx, runDir, runs, runsPerTask, version, logger); err != nil {
		return errors.Join(runErr, err)
	}
	if err := report.FromRuns(runs).Write(g.stdout, f.format); err != nil {
		return errors.Join(runErr, err)
	}
	if runErr != nil {
		return fmt.Errorf("sweep stopped after %d run(s): %w", len(runs), runErr)
	}
	return nil
}

func writeArtifacts(ctx context.Context, runDir string, runs []types.RunMetrics, runsPerTask int, version string, logger *slog.Logger) error {
	if err := report.WriteRuns(runDir, runs); err != nil {
		return err
	}
	summary := report.NewSummary(runs, runsPerTask, now(), systemInfo(ctx))
	summary.AgentVersion = version
	if err := report.WriteSummary(runDir, summary); err != nil {
		return err
	}
	logger.Info("wrote artifacts",
		"runs", filepath.Join(runDir, report.RunsFile),
		"summary", filepath.Join(runDir, report.SummaryFile),
	)
	return nil
}

// filterExecutors keeps the executors whose variant is named in names. An empty
// list keeps all of them.
func filterExecutors(executors []agents.Executor, names []string) ([]agents.Executor, error) {
	if len(names) == 0 {
		return executors, nil
	}
	want := map[types.AgentVariant]bool{}
	for _, name := range names {
		v, err := types.ParseAgentVariant(name)
		if err != nil {
			return nil, err
		}
		want[v] = true
	}
	var out []agents.Executor
	for _, e := range executors {
		if want[e.Variant()] {
			out = append(out, e)
		}
	}
	return out, nil
}

func progressLine(m types.RunMetrics) string {
	status := "ok"
	if !m.Success {
		status = "FAIL"
	}
	line := fmt.Sprintf("%-4s %s  tokens=%d tools=%d retries=%d errors=%d %dms",
		status, m.Label, m.TotalTokens, m.ToolCallCount, m.Retries, m.Errors, m.DurationMs)
	if m.ErrorMessage != "" {
		line += "  (" + m.ErrorMessage + ")"
	}
	return line
}

var _ runner.Recorder = (*telemetry.Telemetry)(nil)
