package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/bucketchat/internal/auth"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store a credential",
	Long: `Sign in with email and password. The password is read from --password,
then BUCKETCHAT_PASSWORD, then the first line of stdin.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		if email == "" {
			return fmt.Errorf("--email is required")
		}
		if password == "" {
			password = os.Getenv("BUCKETCHAT_PASSWORD")
		}
		if password == "" {
			fmt.Fprint(os.Stderr, "Password: ")
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("reading password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}

		return withApp(false, func(a *app) error {
			pair, err := a.provider.PasswordGrant(cmd.Context(), email, password)
			if errors.Is(err, auth.ErrInvalidGrant) {
				return fmt.Errorf("invalid email or password")
			}
			if err != nil {
				return fmt.Errorf("signing in: %w", err)
			}
			if err := a.creds.Write(pair.Credential()); err != nil {
				return fmt.Errorf("storing credential: %w", err)
			}
			printSuccess("Signed in as %s", email)
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the stored credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(false, func(a *app) error {
			cred := a.creds.Read()
			if cred == nil {
				printWarning("Not signed in")
				return nil
			}
			if err := a.provider.Logout(cmd.Context(), cred.AccessToken); err != nil {
				printWarning("Could not revoke the session remotely: %v", err)
			}
			if err := a.creds.Clear(); err != nil {
				return fmt.Errorf("clearing credential: %w", err)
			}
			printSuccess("Signed out")
			return nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the stored credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(false, func(a *app) error {
			out := cmd.OutOrStdout()
			cred := a.creds.Read()
			if cred == nil {
				fmt.Fprintln(out, "Not signed in")
				return nil
			}

			printStatus(out, "Signed in", "yes")
			if cred.ExpiresAt.IsZero() {
				printStatus(out, "Token expires", "unknown")
			} else {
				printStatus(out, "Token expires", "%s (in %s)", cred.ExpiresAt.Local().Format(time.RFC3339), time.Until(cred.ExpiresAt).Round(time.Second))
			}
			if a.creds.IsExpiringSoon(a.cfg.Credential.RefreshThreshold) {
				printStatus(out, "Refresh", "due on next request")
			}
			printStatus(out, "Backend", "%s", a.cfg.Backend.BaseURL)
			return nil
		})
	},
}

func init() {
	loginCmd.Flags().String("email", "", "account email")
	loginCmd.Flags().String("password", "", "account password (prefer BUCKETCHAT_PASSWORD or stdin)")
}
