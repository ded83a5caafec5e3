package main

import (
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Skotchmaster/identity/internal/db"
	"github.com/Skotchmaster/identity/internal/migrations"
)

func newMigrateCommand(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or list schema migrations",
	}
	cmd.AddCommand(
		newMigrateUpCommand(logger),
		newMigrateDownCommand(logger),
		newMigrateStatusCommand(logger),
	)
	return cmd
}

func withRunner(cmd *cobra.Command, logger *slog.Logger, fn func(r *migrations.Runner) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	gdb, err := db.Open(cmd.Context(), cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(gdb) }()
	return fn(migrations.NewRunner(gdb, logger))
}

func newMigrateUpCommand(logger *slog.Logger) *cobra.Command {
	var target int
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, logger, func(r *migrations.Runner) error {
				ran, err := r.Up(cmd.Context(), target)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s) %v\n", len(ran), ran)
				return err
			})
		},
	}
	cmd.Flags().IntVar(&target, "to", 0, "stop at this version (0 = latest)")
	return cmd
}

func newMigrateDownCommand(logger *slog.Logger) *cobra.Command {
	var target int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, logger, func(r *migrations.Runner) error {
				to := target
				if !cmd.Flags().Changed("to") {
					cur, err := r.Current(cmd.Context())
					if err != nil {
						return err
					}
					to = max(cur-1, 0)
				}
				ran, err := r.Down(cmd.Context(), to)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s) %v\n", len(ran), ran)
				return err
			})
		},
	}
	cmd.Flags().IntVar(&target, "to", 0, "roll back every version above this one (default: only the latest)")
	return cmd
}

func newMigrateStatusCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, logger, func(r *migrations.Runner) error {
				st, err := r.Status(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
				for _, s := range st {
					applied := "-"
					if s.AppliedAt != nil {
						applied = s.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%d\t%s\t%s\n", s.Version, s.Name, applied)
				}
				return w.Flush()
			})
		},
	}
}
