package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/splax/clouddeploy/internal/app/store"
	"github.com/splax/clouddeploy/internal/domain"
	"github.com/splax/clouddeploy/internal/repository"
	"github.com/splax/clouddeploy/internal/service/auth"
	"github.com/splax/clouddeploy/pkg/crypto"
)

const generatedPasswordLength = 20

var (
	adminEmail    string
	adminPassword string

	promoteAdminCmd = &cobra.Command{
		Use:   "promote-admin <email>",
		Short: "Grant admin privileges to an existing user",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(ctx context.Context, repo repository.Store, args []string) error {
			user, err := promoteAdmin(ctx, repo, args[0])
			if err != nil {
				return err
			}
			log.Info("user promoted to admin", "user_id", user.ID, "email", user.Email)
			return nil
		}),
	}

	createAdminCmd = &cobra.Command{
		Use:   "create-admin",
		Short: "Create a new admin account",
		RunE: withStore(func(ctx context.Context, repo repository.Store, args []string) error {
			password := adminPassword
			generated := false
			if password == "" {
				var err error
				password, generated, err = resolvePassword(os.Stdin, os.Stderr)
				if err != nil {
					return err
				}
			}
			user, err := createAdmin(ctx, repo, adminEmail, password, log)
			if err != nil {
				return err
			}
			log.Info("admin created", "user_id", user.ID, "email", user.Email)
			if generated {
				fmt.Printf("generated password for %s: %s\n", user.Email, password)
			}
			return nil
		}),
	}
)

func init() {
	createAdminCmd.Flags().StringVar(&adminEmail, "email", "", "admin email address")
	createAdminCmd.Flags().StringVar(&adminPassword, "password", "", "admin password (prompted or generated when empty)")
	_ = createAdminCmd.MarkFlagRequired("email")
}

func withStore(fn func(context.Context, repository.Store, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		repo, err := store.Open(ctx, cfg, log, false)
		if err != nil {
			return err
		}
		defer repo.Close()
		return fn(ctx, repo, args)
	}
}

func promoteAdmin(ctx context.Context, users repository.UserRepository, email string) (*domain.User, error) {
	normalized, err := auth.ValidateEmail(email)
	if err != nil {
		return nil, err
	}
	user, err := users.GetUserByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("no user registered as %s", normalized)
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user.IsAdmin {
		return user, nil
	}
	return users.SetUserAdmin(ctx, user.ID, true)
}

// createAdmin registers through the auth service so the usual email and
// password rules apply, then sets the admin flag.
func createAdmin(ctx context.Context, repo repository.Store, email, password string, logger *slog.Logger) (*domain.User, error) {
	svc := auth.New(repo, repo, logger, cfg)
	user, err := svc.Register(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return repo.SetUserAdmin(ctx, user.ID, true)
}

// resolvePassword prompts on an interactive terminal and otherwise
// generates a password.
func resolvePassword(in *os.File, out io.Writer) (string, bool, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		password, err := crypto.GenerateSecurePassword(generatedPasswordLength)
		return password, true, err
	}
	fmt.Fprint(out, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", false, fmt.Errorf("read password: %w", err)
	}
	fmt.Fprint(out, "Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", false, fmt.Errorf("read password: %w", err)
	}
	if string(first) != string(second) {
		return "", false, errors.New("passwords do not match")
	}
	password := strings.TrimRight(string(first), "\r\n")
	if password == "" {
		return "", false, errors.New("empty password")
	}
	return password, false, nil
}
