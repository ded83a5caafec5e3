package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Skotchmaster/identity/internal/app"
	"github.com/Skotchmaster/identity/internal/config"
	"github.com/Skotchmaster/identity/internal/logging"
	"github.com/Skotchmaster/identity/internal/repo"
)

func newRootCommand(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "identity",
		Short:         "OpenID Connect and OAuth2 identity provider",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), logger)
		},
	}
	cmd.AddCommand(
		newServeCommand(logger),
		newMigrateCommand(logger),
		newClientCommand(logger),
		newUserCommand(logger),
		newTokensCommand(logger),
	)
	return cmd
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if cfg.DatabaseURL == "" {
		return config.Config{}, fmt.Errorf("missing required env DATABASE_URL")
	}
	return cfg, nil
}

// openRepo connects and migrates without building the HTTP server.
func openRepo(ctx context.Context, logger *slog.Logger) (*repo.GormRepo, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	gdb, err := app.Open(logging.IntoContext(ctx, logger), cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	r := repo.New(gdb)
	return r, func() {
		if err := r.Close(); err != nil {
			logger.Warn("db_close_error", "error", err)
		}
	}, nil
}
