package cli

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/schemaflow/internal/repository"
	"github.com/randalmurphal/schemaflow/internal/workflow"
)

func newChatCmd(load loader) *cobra.Command {
	var (
		sessionID, schemaID, orgID, userID string
		newSession                         bool
	)
	cmd := &cobra.Command{
		Use:   "chat [flags] <message>",
		Short: "Run one chat turn and print its progress",
		Long: `Run one chat turn against a design session and print each node as it
finishes, followed by the assistant's answer.

Examples:
  schemaflow chat --new "A blog with posts, authors and comments"
  schemaflow chat --session <id> --schema <id> "Add a tags table"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !newSession && (sessionID == "" || schemaID == "") {
				return errors.New("either --new or both --session and --schema are required")
			}
			settings, logger, err := load(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, settings, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireLLM(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if newSession {
				bs, err := a.repo.CreateBuildingSchema(ctx, repository.CreateBuildingSchemaParams{
					DesignSessionID: uuid.NewString(),
					OrganizationID:  orgID,
				})
				if err != nil {
					return fmt.Errorf("create session: %w", err)
				}
				sessionID, schemaID = bs.DesignSessionID, bs.ID
				fmt.Fprintf(out, "session %s\nschema  %s\n\n", sessionID, schemaID)
			}

			events, err := a.executor.Stream(ctx, workflow.Params{
				UserInput:        strings.Join(args, " "),
				DesignSessionID:  sessionID,
				BuildingSchemaID: schemaID,
				OrganizationID:   orgID,
				UserID:           userID,
			})
			if err != nil {
				return err
			}
			return printEvents(out, events)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "design session id")
	cmd.Flags().StringVar(&schemaID, "schema", "", "building schema id")
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().BoolVar(&newSession, "new", false, "start a new design session with an empty schema")
	return cmd
}

// printEvents writes one line per node and the final answer.
func printEvents(w io.Writer, events iter.Seq[workflow.Event]) error {
	failed := false
	for ev := range events {
		switch ev.Type {
		case workflow.EventNode:
			fmt.Fprintf(w, "[%d] %s -> %s\n", ev.Step, ev.Node, ev.Next)
		case workflow.EventError:
			failed = true
			fmt.Fprintf(w, "error in %s: %s\n", ev.Node, ev.Message)
		case workflow.EventDone:
			fmt.Fprintf(w, "\nrun %s (schema version %d)\n%s\n",
				ev.State.WorkflowRunID, ev.State.LatestVersionNumber, ev.Message)
		}
	}
	if failed {
		return errRunFailed
	}
	return nil
}
