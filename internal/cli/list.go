package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/codalotl/toolcallbench/internal/types"
)

func newListCmd(g *globalFlags) *cobra.Command {
	return silenceUsageAndErrors(&cobra.Command{
		Use:   "list",
		Short: "List the experiment's tasks, variants and models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := g.loadExperiment()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(g.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TASK\tTOOL\tEXPECT")
			for _, task := range exp.Tasks {
				fmt.Fprintf(tw, "%s\t%s.%s\t%s\n", task.ID, task.Server, task.Tool, strings.Join(task.Expect, " "))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			variants := make([]string, 0, len(types.Variants()))
			for _, v := range types.Variants() {
				variants = append(variants, v.String())
			}
			fmt.Fprintf(g.stdout, "\nvariants: %s\n", strings.Join(variants, ", "))
			fmt.Fprintf(g.stdout, "models: %s\n", strings.Join(exp.ModelList(), ", "))
			fmt.Fprintf(g.stdout, "runs per task: %d\n", exp.RunsPerTask)
			return nil
		},
	})
}
