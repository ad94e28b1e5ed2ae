package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newGraphCmd(load loader) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the workflow graph as a Mermaid flowchart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, logger, err := load(cmd)
			if err != nil {
				return err
			}
			settings.Storage.Path = ":memory:"
			settings.Storage.CheckpointPath = ":memory:"
			settings.Postgres.DSN = ""
			a, err := openApp(cmd.Context(), settings, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			chart := a.executor.Graph().Mermaid()
			if output == "" {
				fmt.Fprint(cmd.OutOrStdout(), chart)
				return nil
			}
			if err := os.WriteFile(output, []byte(chart), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "graph written to %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "output file (default: stdout)")
	return cmd
}
