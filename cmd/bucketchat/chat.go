package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/bucketchat/internal/chat"
	"github.com/kalambet/bucketchat/internal/client"
)

var askCmd = &cobra.Command{
	Use:   "ask <bucket> <question>...",
	Short: "Ask one question, continuing the bucket's last conversation",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fresh, _ := cmd.Flags().GetBool("new")
		bucketID, question := args[0], strings.Join(args[1:], " ")

		return withApp(true, func(a *app) error {
			conv, err := a.local.Open(bucketID, fresh)
			if err != nil {
				return err
			}
			return runTurn(cmd.Context(), a, conv, question, cmd.OutOrStdout())
		})
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat <bucket>",
	Short: "Start an interactive chat with a bucket",
	Long: `Start an interactive chat. Each line is a question.
Type /new to start a fresh conversation, /history to show it, /quit to leave.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fresh, _ := cmd.Flags().GetBool("new")
		bucketID := args[0]

		return withApp(true, func(a *app) error {
			conv, err := a.local.Open(bucketID, fresh)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if n := len(conv.Transcript()); n > 0 {
				printStep("Continuing conversation with %d earlier message(s); /new starts over", n)
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(os.Stderr, colorize(colorBold, "> "))
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					continue
				case "/quit", "/exit":
					return nil
				case "/new":
					conv = chat.NewConversation(bucketID)
					printSuccess("Started a new conversation")
					continue
				case "/history":
					for _, e := range conv.Transcript() {
						printEntry(out, e)
					}
					continue
				}

				if err := runTurn(cmd.Context(), a, conv, line, out); err != nil {
					return err
				}
			}
		})
	},
}

// runTurn asks one question, records the turn locally and prints the reply.
func runTurn(ctx context.Context, a *app, conv *chat.Conversation, question string, out io.Writer) error {
	reply, err := a.orch.Turn(ctx, conv, question)
	if errors.Is(err, chat.ErrEmptyQuestion) {
		return err
	}
	if reply.Question.Content != "" {
		if recErr := a.local.Record(conv, reply); recErr != nil {
			printWarning("Could not save the conversation locally: %v", recErr)
		}
	}
	if client.IsSessionExpired(err) {
		return errNotSignedIn
	}
	if err != nil {
		return err
	}
	printReply(out, reply)
	return nil
}

var historyCmd = &cobra.Command{
	Use:   "history <bucket>",
	Short: "Show the bucket's last conversation, including informational replies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(false, func(a *app) error {
			conv, err := a.local.Open(args[0], false)
			if err != nil {
				return err
			}
			entries := conv.Transcript()
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No conversation yet.")
				return nil
			}
			for _, e := range entries {
				printEntry(cmd.OutOrStdout(), e)
			}
			return nil
		})
	},
}

func init() {
	askCmd.Flags().Bool("new", false, "start a new conversation")
	chatCmd.Flags().Bool("new", false, "start a new conversation")
}
