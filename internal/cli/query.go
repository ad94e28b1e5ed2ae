package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/schemaflow/internal/workflow"
)

func newQueryCmd(load loader) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "query <run-id> [query...]",
		Short: "Inspect a run from its checkpoints",
		Long: `Answer read-only queries about a workflow run from its latest checkpoint.
Without query names the run's status is printed.

Examples:
  schemaflow query <run-id>
  schemaflow query <run-id> path ddl retries
  schemaflow query --list`,
		Args: func(cmd *cobra.Command, args []string) error {
			if list {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.MinimumNArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, logger, err := load(cmd)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), settings, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if list {
				for _, name := range a.executor.Queries() {
					fmt.Fprintln(out, name)
				}
				return nil
			}

			runID, names := args[0], args[1:]
			if len(names) == 0 {
				names = []string{workflow.QueryStatus}
			}
			for _, name := range names {
				value, err := a.executor.Query(cmd.Context(), runID, name)
				if err != nil {
					return err
				}
				data, err := json.MarshalIndent(value, "", "  ")
				if err != nil {
					return fmt.Errorf("encode %s: %w", name, err)
				}
				fmt.Fprintf(out, "%s: %s\n", name, data)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list the available queries")
	return cmd
}
