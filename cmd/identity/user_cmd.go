package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Skotchmaster/identity/internal/domain"
	"github.com/Skotchmaster/identity/internal/events"
	"github.com/Skotchmaster/identity/internal/logging"
	"github.com/Skotchmaster/identity/internal/service/identity"
	"github.com/Skotchmaster/identity/internal/service/ledger"
)

func newUserCommand(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(
		newUserCreateCommand(logger),
		newUserAddRoleCommand(logger),
		newUserUnlockCommand(logger),
		newUserDeleteCommand(logger),
	)
	return cmd
}

func newUserCreateCommand(logger *slog.Logger) *cobra.Command {
	var in identity.NewUser
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logging.IntoContext(cmd.Context(), logger)
			r, closeFn, err := openRepo(ctx, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			u, err := identity.New(r, events.Nop{}, nil).CreateUser(ctx, in)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "created user %s (id %d)\n", u.UserName, u.ID)
			return err
		},
	}
	cmd.Flags().StringVar(&in.UserName, "username", "", "user name")
	cmd.Flags().StringVar(&in.Email, "email", "", "e-mail address")
	cmd.Flags().StringVar(&in.Password, "password", "", "initial password")
	cmd.Flags().StringVar(&in.DisplayName, "display-name", "", "display name")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newUserAddRoleCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "add-role <username> <role>",
		Short: "Add a user to a role, creating the role when needed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logging.IntoContext(cmd.Context(), logger)
			r, closeFn, err := openRepo(ctx, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			svc := identity.New(r, events.Nop{}, nil)
			u, err := svc.FindByNormalizedUsername(ctx, args[0])
			if err != nil {
				return err
			}
			if _, err := svc.CreateRole(ctx, args[1]); err != nil && !errors.Is(err, domain.ErrDuplicateRole) {
				return err
			}
			if err := svc.AddToRole(ctx, u, args[1]); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "added %s to %s\n", u.UserName, args[1])
			return err
		},
	}
}

func newUserUnlockCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <username>",
		Short: "Clear a lockout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logging.IntoContext(cmd.Context(), logger)
			r, closeFn, err := openRepo(ctx, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			svc := identity.New(r, events.Nop{}, nil)
			u, err := svc.FindByNormalizedUsername(ctx, args[0])
			if err != nil {
				return err
			}
			if err := svc.SetLockoutEnd(ctx, u, nil); err != nil {
				return err
			}
			if err := svc.ResetFailedAttempts(ctx, u); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "unlocked %s\n", u.UserName)
			return err
		},
	}
}

func newUserDeleteCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <username>",
		Short: "Revoke a user's grants and delete the user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logging.IntoContext(cmd.Context(), logger)
			r, closeFn, err := openRepo(ctx, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			svc := identity.New(r, events.Nop{}, nil)
			u, err := svc.FindByNormalizedUsername(ctx, args[0])
			if err != nil {
				return err
			}
			n, err := ledger.New(r, events.Nop{}).RevokeBySubject(ctx, u.UserName, time.Now().UTC())
			if err != nil {
				return err
			}
			if err := svc.DeleteUser(ctx, u); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted user %s (revoked %d authorization(s))\n", u.UserName, n)
			return err
		},
	}
}
