package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Skotchmaster/identity/internal/app"
	"github.com/Skotchmaster/identity/internal/config"
	"github.com/Skotchmaster/identity/internal/logging"
)

func newServeCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the identity HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), logger)
		},
	}
}

func runServe(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger = logger.With("service", cfg.ServiceName)
	ctx = logging.IntoContext(ctx, logger)

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	a, err := app.Build(initCtx, cfg, logger, app.Options{})
	cancel()
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close_error", "error", err)
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	errc := make(chan error, 1)
	go func() {
		logger.Info("server_started", "addr", addr, "issuer", cfg.Issuer)
		if err := a.Echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("echo start: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := a.Echo.Shutdown(shutdownCtx); err != nil {
		logger.Error("echo_shutdown_error", "error", err)
		return err
	}
	logger.Info("server_stopped")
	return nil
}
