package main

import (
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Skotchmaster/identity/internal/domain"
	"github.com/Skotchmaster/identity/internal/events"
	"github.com/Skotchmaster/identity/internal/logging"
	"github.com/Skotchmaster/identity/internal/service/clients"
)

func newClientCommand(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage registered client applications",
	}
	cmd.AddCommand(
		newClientRegisterCommand(logger),
		newClientListCommand(logger),
		newClientDeleteCommand(logger),
	)
	return cmd
}

func newClientRegisterCommand(logger *slog.Logger) *cobra.Command {
	var reg clients.Registration
	var flows []string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a client; a secret makes it confidential",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logging.IntoContext(cmd.Context(), logger)
			r, closeFn, err := openRepo(ctx, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			for _, f := range flows {
				reg.Flows = append(reg.Flows, domain.Flow(f))
			}
			app, err := clients.New(r, events.Nop{}).Register(ctx, reg)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%s) flows=%s\n", app.ClientID, app.Type, app.Permissions)
			return err
		},
	}
	cmd.Flags().StringVar(&reg.ClientID, "id", "", "client id")
	cmd.Flags().StringVar(&reg.ClientSecret, "secret", "", "client secret (confidential clients only)")
	cmd.Flags().StringVar(&reg.DisplayName, "name", "", "display name")
	cmd.Flags().StringVar(&reg.RedirectURI, "redirect-uri", "", "exact redirect URI")
	cmd.Flags().StringVar(&reg.LogoutRedirectURI, "logout-uri", "", "exact post-logout redirect URI")
	cmd.Flags().StringSliceVar(&flows, "flow", nil, "allowed grant types (default depends on client type)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newClientListCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logging.IntoContext(cmd.Context(), logger)
			r, closeFn, err := openRepo(ctx, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			apps, err := clients.New(r, events.Nop{}).List(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CLIENT_ID\tTYPE\tREDIRECT_URI\tFLOWS")
			for _, a := range apps {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ClientID, a.Type, a.RedirectURI, a.Permissions)
			}
			return w.Flush()
		},
	}
}

func newClientDeleteCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <client-id>",
		Short: "Delete a client that has no authorizations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logging.IntoContext(cmd.Context(), logger)
			r, closeFn, err := openRepo(ctx, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := clients.New(r, events.Nop{}).Delete(ctx, args[0]); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return err
		},
	}
}
