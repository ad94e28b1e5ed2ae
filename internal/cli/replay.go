package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newReplayCmd(load loader) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "replay --session <id>",
		Short: "Resume the latest run of a session from its last checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if sessionID == "" {
				return errors.New("--session is required")
			}
			settings, logger, err := load(cmd)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), settings, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireLLM(); err != nil {
				return err
			}

			final, err := a.executor.Replay(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s (schema version %d)\n%s\n",
				final.WorkflowRunID, final.LatestVersionNumber, final.FinalResponse)
			if final.Error != nil {
				fmt.Fprintf(out, "error in %s: %s\n", final.Error.Node, final.Error.Message)
				return errRunFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "design session id")
	return cmd
}
