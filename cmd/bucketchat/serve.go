package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/bucketchat/internal/fakebackend"
	"github.com/kalambet/bucketchat/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve bucketchat tools over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(false, func(a *app) error {
			if err := a.requireSignedIn(); err != nil {
				printWarning("%v; tools will fail until you sign in", err)
			}

			mcpSrv := mcpserver.New(mcpserver.Deps{
				Chat:          a.orch,
				Conversations: a.local,
				Sources:       a.sources,
				Sessions:      a.chat,
				Version:       version,
				Logger:        slog.Default(),
			})
			slog.Info("MCP server started (stdio transport)")

			err := server.NewStdioServer(mcpSrv).Listen(cmd.Context(), os.Stdin, os.Stdout)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("MCP stdio server: %w", err)
			}
			return nil
		})
	},
}

var devBackendCmd = &cobra.Command{
	Use:   "dev-backend",
	Short: "Run an in-memory backend and identity provider for local trials",
	Long: `Run an in-memory backend for trying bucketchat without a real deployment.
Point the client at it with:
  bucketchat config set backend.base_url http://127.0.0.1:8000
  bucketchat config set identity.base_url http://127.0.0.1:8000/auth/v1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		users, _ := cmd.Flags().GetStringArray("user")
		delay, _ := cmd.Flags().GetDuration("inference-delay")
		ttl, _ := cmd.Flags().GetDuration("token-ttl")
		setupLogging("")

		fake := fakebackend.New(fakebackend.Options{
			AccessTTL:      ttl,
			InferenceDelay: delay,
			Logger:         slog.Default(),
		})
		for _, u := range users {
			email, password, ok := strings.Cut(u, ":")
			if !ok || email == "" {
				return fmt.Errorf("invalid --user %q, want email:password", u)
			}
			fake.AddUser(email, password)
		}

		return serveHTTP(cmd.Context(), addr, fake.Handler())
	},
}

// serveHTTP runs handler on addr until ctx ends, then shuts down gracefully.
func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		printStep("Listening on http://%s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func init() {
	devBackendCmd.Flags().String("addr", "127.0.0.1:8000", "listen address")
	devBackendCmd.Flags().StringArray("user", []string{"demo@example.com:demo"}, "account as email:password (repeatable)")
	devBackendCmd.Flags().Duration("inference-delay", 0, "delay before every answer")
	devBackendCmd.Flags().Duration("token-ttl", time.Hour, "access token lifetime")
}
