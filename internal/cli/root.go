// Package cli implements the schemaflow command line.
package cli

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/schemaflow/internal/config"
)

// errRunFailed makes the process exit non-zero after a failed run has
// been printed.
var errRunFailed = errors.New("workflow run failed")

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:   "schemaflow",
		Short: "Chat-driven database schema design",
		Long: `schemaflow turns chat messages into reviewed, executable database schema
changes. It runs the design workflow as an HTTP service or one turn at a
time from the command line.

Examples:
  # Start the API server
  schemaflow serve --config schemaflow.yaml

  # Start a new design session
  schemaflow chat --new "A todo app with users and tags"

  # Inspect a run
  schemaflow query <run-id> status ddl
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (YAML, JSON or TOML)")

	load := func(cmd *cobra.Command) (config.Settings, *slog.Logger, error) {
		settings, err := config.Load(configPath)
		if err != nil {
			return config.Settings{}, nil, err
		}
		return settings, settings.Log.Logger(cmd.ErrOrStderr()), nil
	}

	root.AddCommand(
		newServeCmd(load),
		newChatCmd(load),
		newReplayCmd(load),
		newQueryCmd(load),
		newGraphCmd(load),
	)
	return root
}

type loader func(cmd *cobra.Command) (config.Settings, *slog.Logger, error)
