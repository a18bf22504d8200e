package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/codalotl/toolcallbench/internal/agents"
	"github.com/codalotl/toolcallbench/internal/experiment"
	"github.com/codalotl/toolcallbench/internal/sysinfo"
)

// These function variables allow tests to stub external dependencies.
var (
	executorFactory = agents.NewExecutors
	systemInfo      = sysinfo.Collect
	agentVersion    = agents.Version
	lookupEnv       = os.LookupEnv
	now             = time.Now
)

type globalFlags struct {
	experimentPath string
	logLevel       string
	stdout         io.Writer
	stderr         io.Writer
}

// Execute runs the CLI.
func Execute() error {
	root, _ := newRootCmd(os.Stdout, os.Stderr)
	executed, err := root.ExecuteC()
	if err != nil {
		maybePrintUsage(executed, root, err)
	}
	return err
}

func newRootCmd(stdout, stderr io.Writer) (*cobra.Command, *globalFlags) {
	g := &globalFlags{stdout: stdout, stderr: stderr}
	root := silenceUsageAndErrors(&cobra.Command{
		Use:   "toolcallbench",
		Short: "Benchmark native MCP tool calls against CLI-wrapped tool calls.",
	})
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&g.experimentPath, "experiment", "f", experiment.DefaultFile, "experiment definition")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(newRunCmd(g))
	root.AddCommand(newReportCmd(g))
	root.AddCommand(newValidateCmd(g))
	root.AddCommand(newListCmd(g))
	root.AddCommand(newReplayTraceCmd(g))
	return root, g
}

// logger returns a text logger on stderr at the configured level.
func (g *globalFlags) logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(g.logLevel))); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", g.logLevel, err)
	}
	return slog.New(slog.NewTextHandler(g.stderr, &slog.HandlerOptions{Level: level})), nil
}

// loadExperiment loads and validates the experiment file.
func (g *globalFlags) loadExperiment() (*experiment.Experiment, error) {
	exp, err := experiment.Load(g.experimentPath)
	if err != nil {
		return nil, err
	}
	if err := experiment.Validate(exp); err != nil {
		return nil, fmt.Errorf("%s: %w", g.experimentPath, err)
	}
	return exp, nil
}

func silenceUsageAndErrors(cmd *cobra.Command) *cobra.Command {
	silenceErrors(cmd)
	cmd.SilenceUsage = true
	return cmd
}

func silenceErrors(cmd *cobra.Command) *cobra.Command {
	cmd.SilenceErrors = true
	return cmd
}

func maybePrintUsage(cmd, root *cobra.Command, err error) {
	if err == nil {
		return
	}
	target := cmd
	if target == nil {
		target = root
	}
	if target == nil {
		return
	}
	if shouldShowUsage(err) {
		_ = target.Usage()
	}
}

func shouldShowUsage(err error) bool {
	msg := strings.ToLower(err.Error())
	if strings.HasPrefix(msg, "unknown command") {
		return true
	}
	if strings.HasPrefix(msg, "unknown flag") || strings.HasPrefix(msg, "unknown shorthand flag") {
		return true
	}
	if strings.Contains(msg, "accepts") && strings.Contains(msg, "arg") {
		return true
	}
	if strings.Contains(msg, "requires at least") && strings.Contains(msg, "arg") {
		return true
	}
	if strings.Contains(msg, "requires at most") && strings.Contains(msg, "arg") {
		return true
	}
	if strings.Contains(msg, "required flag") {
		return true
	}
	if strings.Contains(msg, "flag needs an argument") {
		return true
	}
	if strings.HasPrefix(msg, "invalid argument") {
		return true
	}
	return false
}

func splitCommaList(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
