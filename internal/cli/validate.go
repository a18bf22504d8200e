package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd(g *globalFlags) *cobra.Command {
	var checkEnv bool
	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "validate",
		Short: "Validate the experiment definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := g.loadExperiment()
			if err != nil {
				return err
			}
			if checkEnv {
				if err := exp.CheckEnv(lookupEnv); err != nil {
					return err
				}
			}
			formatted, err := json.MarshalIndent(exp, "", "  ")
			if err != nil {
				return fmt.Errorf("format experiment: %w", err)
			}
			fmt.Fprintln(g.stdout, string(formatted))
			fmt.Fprintln(g.stdout, "valid")
			return nil
		},
	})
	cmd.Flags().BoolVar(&checkEnv, "check-env", false, "also require the agent's required-env variables to be set")
	return cmd
}
