package adminctl

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/ticket-access-service/internal/database"
	"github.com/sandeepkv93/ticket-access-service/internal/di"
	"github.com/sandeepkv93/ticket-access-service/internal/domain"
	"github.com/sandeepkv93/ticket-access-service/internal/service"
	"github.com/sandeepkv93/ticket-access-service/internal/tools/common"
	"github.com/sandeepkv93/ticket-access-service/internal/tools/obscheck"
)

// ToolkitFactory opens the backing stores for one command invocation.
type ToolkitFactory func(ctx context.Context) (*di.AdminToolkit, error)

type rootOptions struct {
	ci      bool
	envFile string
}

// operator acts on behalf of whoever runs the CLI with database access.
var operator = service.Identity{Roles: []domain.Role{domain.RoleAdmin}}

func NewRootCommand(factory ToolkitFactory) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "ticketctl",
		Short:         "Operate a ticket access service deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return common.LoadEnvFile(opts.envFile)
		},
	}
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "optional env file applied before reading config")

	cmd.AddCommand(
		newMigrateCommand(opts, factory),
		newCreateAdminCommand(opts, factory),
		newSetRolesCommand(opts, factory),
		newForceLogoutCommand(opts, factory),
		newCleanupCommand(opts, factory),
		obscheck.NewCommand(),
	)
	return cmd
}

// withToolkit opens the toolkit, runs fn and reports the outcome.
func withToolkit(cmd *cobra.Command, opts *rootOptions, factory ToolkitFactory, title string, fn func(context.Context, *di.AdminToolkit) ([]string, error)) error {
	ctx := cmd.Context()
	tk, err := factory(ctx)
	if err != nil {
		return common.Report(cmd.OutOrStdout(), opts.ci, title, nil, fmt.Errorf("open stores: %w", err))
	}
	defer func() { _ = tk.Close() }()
	details, err := fn(ctx, tk)
	return common.Report(cmd.OutOrStdout(), opts.ci, title, details, err)
}

func newMigrateCommand(opts *rootOptions, factory ToolkitFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withToolkit(cmd, opts, factory, "migrate", func(ctx context.Context, tk *di.AdminToolkit) ([]string, error) {
				if err := database.Migrate(tk.DB.WithContext(ctx)); err != nil {
					return nil, err
				}
				return []string{fmt.Sprintf("%d models migrated", len(database.Models()))}, nil
			})
		},
	}
}

func newCreateAdminCommand(opts *rootOptions, factory ToolkitFactory) *cobra.Command {
	var email, password, firstName, lastName string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an account with the ADMIN role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withToolkit(cmd, opts, factory, "create-admin", func(ctx context.Context, tk *di.AdminToolkit) ([]string, error) {
				u, err := tk.Credentials.CreateUser(ctx, email, password,
					domain.Profile{FirstName: firstName, LastName: lastName}, []domain.Role{domain.RoleAdmin})
				if err != nil {
					return nil, err
				}
				return []string{fmt.Sprintf("user id=%d email=%s roles=%s", u.ID, u.Email, strings.Join(domain.RoleStrings(u.RoleSet()), ","))}, nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "admin email")
	cmd.Flags().StringVar(&password, "password", "", "admin password")
	cmd.Flags().StringVar(&firstName, "first-name", "", "optional first name")
	cmd.Flags().StringVar(&lastName, "last-name", "", "optional last name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newSetRolesCommand(opts *rootOptions, factory ToolkitFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "set-roles USER_ID ROLE [ROLE...]",
		Short: "Replace a user's roles and revoke their current access tokens",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return withToolkit(cmd, opts, factory, "set-roles", func(ctx context.Context, tk *di.AdminToolkit) ([]string, error) {
				u, err := tk.Auth.SetUserRoles(ctx, operator, userID, args[1:])
				if err != nil {
					return nil, err
				}
				return []string{fmt.Sprintf("user id=%d roles=%s", u.ID, strings.Join(domain.RoleStrings(u.RoleSet()), ","))}, nil
			})
		},
	}
}

func newForceLogoutCommand(opts *rootOptions, factory ToolkitFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "force-logout USER_ID",
		Short: "Revoke every session and access token of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return withToolkit(cmd, opts, factory, "force-logout", func(ctx context.Context, tk *di.AdminToolkit) ([]string, error) {
				if err := tk.Auth.ForceLogout(ctx, operator, userID); err != nil {
					return nil, err
				}
				return []string{fmt.Sprintf("user id=%d logged out everywhere", userID)}, nil
			})
		},
	}
}

func newCleanupCommand(opts *rootOptions, factory ToolkitFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired sessions and reset tokens once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withToolkit(cmd, opts, factory, "cleanup", func(ctx context.Context, tk *di.AdminToolkit) ([]string, error) {
				report, err := tk.Cleanup.RunOnce(ctx)
				if err != nil {
					return nil, err
				}
				return []string{
					fmt.Sprintf("sessions deleted=%d", report.Sessions),
					fmt.Sprintf("reset tokens deleted=%d", report.ResetTokens),
				}, nil
			})
		},
	}
}

func parseUserID(raw string) (uint, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid user id %q", raw)
	}
	return uint(v), nil
}
