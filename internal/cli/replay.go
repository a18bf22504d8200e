package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/codalotl/toolcallbench/internal/collector"
)

func newReplayTraceCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "replay-trace <events.jsonl|->",
		Short: "Compute tool-call metrics from recorded trace events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			var traces []collector.Metrics
			if err := collector.Replay(r, collector.New(), func(m collector.Metrics) {
				traces = append(traces, m)
			}); err != nil {
				return err
			}
			return writeReplay(g.stdout, traces, asJSON)
		},
	})
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per trace")
	return cmd
}

func writeReplay(w io.Writer, traces []collector.Metrics, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		for _, m := range traces {
			if err := enc.Encode(m); err != nil {
				return err
			}
		}
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TRACE\tNAME\tTOOL_CALLS\tERRORS\tRETRIES")
	for _, m := range traces {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n", m.TraceID, m.Name, m.ToolCallCount, m.Errors, m.Retries)
	}
	return tw.Flush()
}
