package commands

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conciergebot/concierge/pkg/concierge/store"
)

// newTasksCmd creates the `concierge tasks` command: an offline listing
// of a user's tasks straight from the local database, useful for
// debugging without going through the chat interface.
func newTasksCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List a user's tasks from the local database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if user == "" {
				return fmt.Errorf("--user is required")
			}
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Database.Path, slog.New(slog.DiscardHandler))
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			assigned, created, err := st.TasksFor(cmd.Context(), user)
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}
			if len(assigned) == 0 && len(created) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No tasks for %s.\n", user)
				return nil
			}

			out := cmd.OutOrStdout()
			printGroup := func(title string, tws []store.TaskWithAssignees) {
				if len(tws) == 0 {
					return
				}
				fmt.Fprintf(out, "%s:\n", title)
				for _, tw := range tws {
					status := " "
					if tw.Task.Status == store.StatusDone {
						status = "x"
					}
					names := make([]string, len(tw.Assignees))
					for i, a := range tw.Assignees {
						names[i] = a.UserName
					}
					fmt.Fprintf(out, "  [%s] #%d %s", status, tw.Task.ID, firstLine(tw.Task.Content))
					if len(names) > 0 {
						fmt.Fprintf(out, " (%s)", strings.Join(names, ", "))
					}
					fmt.Fprintln(out)
				}
			}
			printGroup("Assigned", assigned)
			printGroup("Created", created)
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "display name to list tasks for")
	return cmd
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if r := []rune(s); len(r) > 100 {
		s = string(r[:100]) + "…"
	}
	return s
}
