package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List, show and delete saved chat sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list <bucket>",
	Short: "List a bucket's sessions, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(true, func(a *app) error {
			sessions, err := a.chat.ListSessions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tTOPIC")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.CreatedAt.Local().Format("2006-01-02 15:04"), s.Topic)
			}
			return tw.Flush()
		})
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the saved messages of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(true, func(a *app) error {
			msgs, err := a.chat.Messages(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, m := range msgs {
				who := colorize(colorCyan, "you")
				if m.Sender != "user" {
					who = colorize(colorGreen, "bot")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", colorize(colorDim, m.CreatedAt.Local().Format("2006-01-02 15:04")), who, m.Content)
			}
			return nil
		})
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session remotely and forget it locally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(true, func(a *app) error {
			if err := a.chat.DeleteSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			if err := a.local.Forget(args[0]); err != nil {
				printWarning("Deleted remotely but local copy remains: %v", err)
			}
			printSuccess("Deleted session %s", args[0])
			return nil
		})
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}
