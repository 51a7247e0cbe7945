package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	noColor bool
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "bucketchat",
	Short: "Chat with the sources collected in your buckets",
	Long: `bucketchat asks questions against the sources ingested into a bucket,
tracks ingestion progress and keeps your conversations across runs.

Examples:
  bucketchat login --email me@example.com
  bucketchat sources add my-bucket --url https://example.com/article --wait
  bucketchat ask my-bucket "What are the main arguments?"
  bucketchat chat my-bucket`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if os.Getenv("NO_COLOR") != "" {
			noColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(askCmd, chatCmd, historyCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(mcpCmd, devBackendCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError("%v", err)
		stop()
		os.Exit(1)
	}
}

// setupLogging installs the default logger on stderr. --verbose wins over
// the configured level.
func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch {
	case verbose, strings.EqualFold(level, "debug"):
		logLevel = slog.LevelDebug
	case strings.EqualFold(level, "warn"):
		logLevel = slog.LevelWarn
	case strings.EqualFold(level, "error"):
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}
