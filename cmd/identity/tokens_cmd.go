package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Skotchmaster/identity/internal/events"
	"github.com/Skotchmaster/identity/internal/logging"
	"github.com/Skotchmaster/identity/internal/service/ledger"
)

func newTokensCommand(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Maintain stored token records",
	}
	cmd.AddCommand(newTokensPruneCommand(logger))
	return cmd
}

func newTokensPruneCommand(logger *slog.Logger) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete token records that expired more than --older-than ago",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan < 0 {
				return fmt.Errorf("--older-than must not be negative")
			}
			ctx := logging.IntoContext(cmd.Context(), logger)
			r, closeFn, err := openRepo(ctx, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			n, err := ledger.New(r, events.Nop{}).PruneTokens(ctx, time.Now().UTC().Add(-olderThan))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "pruned %d token(s)\n", n)
			return err
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "grace period after expiry")
	return cmd
}
