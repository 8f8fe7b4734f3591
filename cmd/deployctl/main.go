package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/splax/clouddeploy/pkg/config"
)

var buildVersion = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(config.LoadClientConfig(), os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(cfg config.ClientConfig, out io.Writer) *cobra.Command {
	var apiURL string
	var a *app

	root := &cobra.Command{
		Use:           "deployctl",
		Short:         "Command line client for the deployment platform",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			a, err = newApp(cfg, apiURL)
			return err
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&apiURL, "api", "", "API base URL (default $DEPLOYCTL_API_URL)")

	current := func() *app { return a }
	root.AddCommand(
		newLoginCmd(current),
		newRegisterCmd(current),
		newLogoutCmd(current),
		newWhoamiCmd(current),
		newProjectCmd(current),
		newDeployCmd(current),
		newStatsCmd(current),
		&cobra.Command{
			Use:   "version",
			Short: "Print the client version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(buildVersion))
			},
		},
	)
	return root
}

func newLoginCmd(current func() *app) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and store tokens locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			secret, err := readSecret(password)
			if err != nil {
				return err
			}
			pair, err := a.client.Login(cmd.Context(), email, secret)
			if err != nil {
				return err
			}
			a.session.Email = strings.ToLower(strings.TrimSpace(email))
			a.session.AccessToken = pair.AccessToken
			a.session.RefreshToken = pair.RefreshToken
			if err := saveSession(a.cfg.TokenFile, a.session); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "login successful")
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password (supply to avoid prompt)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newRegisterCmd(current func() *app) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := readSecret(password)
			if err != nil {
				return err
			}
			user, err := current().client.Register(cmd.Context(), email, secret)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s (id %d)\n", user.Email, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password (supply to avoid prompt)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLogoutCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the refresh token and forget local credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			if a.session.AccessToken != "" {
				err := a.client.Logout(cmd.Context(), a.session.AccessToken, a.session.RefreshToken)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: server logout failed: %v\n", err)
				}
			}
			if err := clearSession(a.cfg.TokenFile); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func newWhoamiCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the authenticated user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			return a.authed(cmd.Context(), func(token string) error {
				user, err := a.client.Me(cmd.Context(), token)
				if err != nil {
					return err
				}
				role := "user"
				if user.IsAdmin {
					role = "admin"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", user.Email, user.ID, role)
				return nil
			})
		},
	}
}

func newStatsCmd(current func() *app) *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show deployment analytics for the authenticated user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			return a.authed(cmd.Context(), func(token string) error {
				raw, err := a.client.UserStats(cmd.Context(), token, start, end)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), raw)
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "end date (YYYY-MM-DD)")
	return cmd
}

func readSecret(flagValue string) (string, error) {
	if secret := strings.TrimSpace(flagValue); secret != "" {
		return secret, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("--password is required when stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	bytes, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(bytes), nil
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
