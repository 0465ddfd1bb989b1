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

	"mycloud/internal/apperrors"
	internalauth "mycloud/internal/auth"
	"mycloud/internal/config"
	"mycloud/internal/files"
	"mycloud/internal/models"
)

// Admin commands open the database directly and act as the built-in system
// superadmin, so they work without a running server.

var passwordInput io.Reader = os.Stdin

var errPasswordStdinRequired = errors.New("--password-stdin is required")

func newAdminCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative commands against the local database",
	}

	cmd.AddCommand(newAdminUserCmd(cfg, jsonOutput))
	cmd.AddCommand(newAdminSweepCmd(cfg, jsonOutput))
	return cmd
}

func withLocalStack(ctx context.Context, cfg *config.Config, fn func(*localStack) error) error {
	stack, err := openLocalStack(ctx, cfg, slog.Default().With("component", "admin"))
	if err != nil {
		return err
	}
	defer stack.Close()
	return fn(stack)
}

func newAdminUserCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}
	cmd.AddCommand(newAdminUserAddCmd(cfg, jsonOutput))
	cmd.AddCommand(newAdminUserListCmd(cfg, jsonOutput))
	cmd.AddCommand(newAdminUserSetRoleCmd(cfg, jsonOutput))
	cmd.AddCommand(newAdminUserSetActiveCmd(cfg, jsonOutput, "enable", "Enable one account", true))
	cmd.AddCommand(newAdminUserSetActiveCmd(cfg, jsonOutput, "disable", "Disable one account", false))
	cmd.AddCommand(newAdminUserDeleteCmd(cfg, jsonOutput))
	return cmd
}

func newAdminUserAddCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var (
		passwordStdin bool
		email         string
		role          string
	)

	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create one account",
		Args:  requireExactlyArgs(1, "username is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !passwordStdin {
				return errPasswordStdinRequired
			}
			parsedRole, err := models.ParseRole(role)
			if err != nil {
				return err
			}
			password, err := readPassword(passwordInput)
			if err != nil {
				return err
			}

			return withLocalStack(cmd.Context(), cfg, func(stack *localStack) error {
				created, err := stack.auth.CreateAccount(cmd.Context(), internalauth.RegisterInput{
					Username: args[0],
					Email:    email,
					Password: password,
				}, parsedRole)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(created)
				}
				return writePlain("created %s %s (%s)\n", created.Role, created.Username, created.ID)
			})
		},
	}

	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read password from stdin")
	cmd.Flags().StringVar(&email, "email", "", "optional email address")
	cmd.Flags().StringVar(&role, "role", string(models.RoleUser), "role: user, admin, or superadmin")
	return cmd
}

func newAdminUserListCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var (
		search string
		role   string
		order  string
		active string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts with their storage usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := models.AccountFilter{Search: strings.TrimSpace(search)}
			if role != "" {
				parsed, err := models.ParseRole(role)
				if err != nil {
					return err
				}
				filter.Role = parsed
			}
			switch strings.ToLower(strings.TrimSpace(active)) {
			case "":
			case "true", "yes":
				v := true
				filter.Active = &v
			case "false", "no":
				v := false
				filter.Active = &v
			default:
				return fmt.Errorf("invalid --active %q", active)
			}
			parsedOrder, err := models.ParseAccountOrder(order)
			if err != nil {
				return err
			}

			return withLocalStack(cmd.Context(), cfg, func(stack *localStack) error {
				users, err := stack.files.ListAccounts(cmd.Context(), models.SystemPrincipal, filter, parsedOrder)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(map[string]any{"count": len(users), "users": users})
				}
				return writeAccountTable(users)
			})
		},
	}

	cmd.Flags().StringVar(&search, "search", "", "substring match on username or email")
	cmd.Flags().StringVar(&role, "role", "", "only accounts with this role")
	cmd.Flags().StringVar(&active, "active", "", "only active (true) or disabled (false) accounts")
	cmd.Flags().StringVar(&order, "order", "", "sort field, prefix with - for descending (username, created_at, file_count, total_bytes)")
	return cmd
}

func newAdminUserSetRoleCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "set-role <username> <role>",
		Short: "Change one account's role",
		Args:  requireExactlyArgs(2, "username and role are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := models.ParseRole(args[1])
			if err != nil {
				return err
			}
			return updateAccount(cmd.Context(), cfg, *jsonOutput, args[0], files.AccountChange{Role: &role})
		},
	}
}

func newAdminUserSetActiveCmd(cfg *config.Config, jsonOutput *bool, name, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <username>",
		Short: short,
		Args:  requireExactlyArgs(1, "username is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateAccount(cmd.Context(), cfg, *jsonOutput, args[0], files.AccountChange{IsActive: &active})
		},
	}
}

func updateAccount(ctx context.Context, cfg *config.Config, jsonOutput bool, username string, change files.AccountChange) error {
	return withLocalStack(ctx, cfg, func(stack *localStack) error {
		account, err := lookupAccount(ctx, stack, username)
		if err != nil {
			return err
		}
		updated, fields, err := stack.files.UpdateAccount(ctx, models.SystemPrincipal, account.ID, change)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(map[string]any{"status": "updated", "updated_fields": fields, "account": updated})
		}
		return writePlain("updated %s: role=%s status=%s\n", updated.Username, updated.Role, accountStatus(updated.IsActive))
	})
}

func newAdminUserDeleteCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <username>",
		Aliases: []string{"rm"},
		Short:   "Delete one account and all of its files",
		Args:    requireExactlyArgs(1, "username is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocalStack(cmd.Context(), cfg, func(stack *localStack) error {
				account, err := lookupAccount(cmd.Context(), stack, args[0])
				if err != nil {
					return err
				}
				deleted, err := stack.files.DeleteAccount(cmd.Context(), models.SystemPrincipal, account.ID)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(map[string]any{"status": "deleted", "username": account.Username, "deleted_files": deleted})
				}
				return writePlain("deleted %s and %s\n", account.Username, pluralize(deleted, "file", "files"))
			})
		},
	}
}

func newAdminSweepCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove interrupted uploads and orphaned content",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocalStack(cmd.Context(), cfg, func(stack *localStack) error {
				report, err := stack.files.Maintenance(cmd.Context(), models.SystemPrincipal, dryRun)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(report)
				}
				mode := "applied"
				if dryRun {
					mode = "dry run"
				}
				return writePlain("%s: pending candidates=%d removed=%d failed=%d; orphans scanned=%d candidates=%d removed=%d failed=%d\n",
					mode,
					report.Pending.Candidates, report.Pending.Removed, report.Pending.Failed,
					report.Orphans.Scanned, report.Orphans.Candidates, report.Orphans.Removed, report.Orphans.Failed,
				)
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be removed without deleting")
	return cmd
}

func lookupAccount(ctx context.Context, stack *localStack, username string) (*models.Account, error) {
	normalized, err := internalauth.NormalizeUsername(username)
	if err != nil {
		return nil, err
	}
	account, err := stack.store.GetAccountByUsername(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, apperrors.NotFound(apperrors.CodeUserNotFound, fmt.Sprintf("user %q not found", normalized))
	}
	return account, nil
}

func readPassword(r io.Reader) (string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	password := strings.TrimRight(string(raw), "\r\n")
	if password == "" {
		return "", errors.New("password is empty")
	}
	return password, nil
}
