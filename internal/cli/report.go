package cli

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/codalotl/toolcallbench/internal/report"
	"github.com/codalotl/toolcallbench/internal/workspace"
)

func newReportCmd(g *globalFlags) *cobra.Command {
	var runDir string
	var results string
	var tasks string
	var agents string
	var models string
	var after string
	var format string
	var includeTokens bool
	var publish bool

	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "report",
		Short: "Summarize a run's runs.json",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rootDir, _ := os.Getwd()
			var afterTime *time.Time
			if strings.TrimSpace(after) != "" {
				parsed, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(after), time.Local)
				if err != nil {
					return fmt.Errorf("invalid --after (expected YYYY-MM-DD): %w", err)
				}
				afterTime = &parsed
			}

			if strings.TrimSpace(runDir) == "" {
				latest, err := workspace.LatestRunDir(workspace.ResultsDir(rootDir, results))
				if err != nil {
					return err
				}
				runDir = latest
			}

			rep, err := report.Run(report.Options{
				RunDir:        runDir,
				Tasks:         splitCommaList(tasks),
				Agents:        splitCommaList(agents),
				Models:        splitCommaList(models),
				After:         afterTime,
				IncludeTokens: includeTokens,
			})
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := rep.Write(&buf, format); err != nil {
				return err
			}
			if _, err := g.stdout.Write(buf.Bytes()); err != nil {
				return err
			}
			if publish {
				command := publishCommand(os.Args)
				_, err := publishReport(rootDir, rep, command, now())
				return err
			}
			return nil
		},
	})

	cmd.Flags().StringVar(&runDir, "run", "", "run directory (default: the latest run)")
	cmd.Flags().StringVar(&results, "results", "", "results directory used to find the latest run (default: "+workspace.DefaultResultsDir+", or $"+workspace.ResultsEnvVar+")")
	cmd.Flags().StringVar(&tasks, "tasks", "", "comma-separated task list (default: all)")
	cmd.Flags().StringVar(&agents, "agents", "", "comma-separated variant list (default: all)")
	cmd.Flags().StringVar(&models, "models", "", "comma-separated model list (default: all)")
	cmd.Flags().StringVar(&after, "after", "", "only include runs finished on/after YYYY-MM-DD (local time)")
	cmd.Flags().StringVar(&format, "format", report.FormatCSV, "output format: "+strings.Join(report.Formats(), ", "))
	cmd.Flags().BoolVar(&includeTokens, "include-tokens", false, "include prompt and completion token columns")
	cmd.Flags().BoolVar(&publish, "publish", false, "write the report under summaries/ and update the README results section")

	return cmd
}
