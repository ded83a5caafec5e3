// Package app builds the identity server from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/Skotchmaster/identity/internal/config"
	"github.com/Skotchmaster/identity/internal/db"
	"github.com/Skotchmaster/identity/internal/events"
	"github.com/Skotchmaster/identity/internal/httpserver"
	"github.com/Skotchmaster/identity/internal/logging"
	"github.com/Skotchmaster/identity/internal/metrics"
	"github.com/Skotchmaster/identity/internal/middleware/auth"
	"github.com/Skotchmaster/identity/internal/migrations"
	"github.com/Skotchmaster/identity/internal/repo"
	"github.com/Skotchmaster/identity/internal/service/clients"
	"github.com/Skotchmaster/identity/internal/service/grant"
	"github.com/Skotchmaster/identity/internal/service/identity"
	"github.com/Skotchmaster/identity/internal/service/ledger"
	"github.com/Skotchmaster/identity/internal/service/token"
)

type App struct {
	Config   config.Config
	Logger   *slog.Logger
	DB       *gorm.DB
	Repo     *repo.GormRepo
	Events   events.Publisher
	Metrics  *metrics.Metrics
	Users    *identity.Service
	Clients  *clients.Service
	Ledger   *ledger.Service
	Tokens   *token.Engine
	Grants   *grant.Service
	Sessions *auth.Sessions
	Echo     *echo.Echo
}

// Options override pieces of the build, mostly for tests.
type Options struct {
	Publisher events.Publisher
	Now       func() time.Time
}

// Open connects to the database and applies pending migrations.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*gorm.DB, error) {
	gdb, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db init: %w", err)
	}
	if _, err := migrations.NewRunner(gdb, logger).Up(ctx, 0); err != nil {
		_ = db.Close(gdb)
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return gdb, nil
}

// NewPublisher fans events out to Kafka and Elasticsearch when they are
// configured.
func NewPublisher(ctx context.Context, cfg config.Config, logger *slog.Logger) (events.Publisher, error) {
	var pubs events.Multi
	if len(cfg.KafkaBrokers) > 0 {
		pubs = append(pubs, events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic))
		logger.Info("kafka_publisher_enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	if cfg.ESURL != "" {
		client, err := events.NewElasticClient(cfg.ESURL, cfg.ESUser, cfg.ESPassword)
		if err != nil {
			return nil, fmt.Errorf("elasticsearch: %w", err)
		}
		ep := events.NewElasticPublisher(client, cfg.ESIndex)
		if err := ep.Ping(ctx); err != nil {
			logger.Warn("elasticsearch_unreachable", "url", cfg.ESURL, "error", err)
		}
		pubs = append(pubs, ep)
		logger.Info("elastic_publisher_enabled", "index", cfg.ESIndex)
	}
	if len(pubs) == 0 {
		return events.Nop{}, nil
	}
	return pubs, nil
}

// Build wires every component. The caller owns the returned App and must
// Close it.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.New(cfg.LogLevel)
	}

	gdb, err := Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	pub := opts.Publisher
	if pub == nil {
		pub, err = NewPublisher(ctx, cfg, logger)
		if err != nil {
			_ = db.Close(gdb)
			return nil, err
		}
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		DB:      gdb,
		Repo:    repo.New(gdb),
		Events:  pub,
		Metrics: metrics.New("identity"),
	}
	if err := a.wire(opts); err != nil {
		_ = a.Close()
		return nil, err
	}

	if err := a.Seed(logging.IntoContext(ctx, logger)); err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Echo = echo.New()
	a.Echo.HideBanner = true
	a.Echo.Server.ReadTimeout = 10 * time.Second
	a.Echo.Server.WriteTimeout = 15 * time.Second
	a.Echo.Server.ReadHeaderTimeout = 3 * time.Second
	httpserver.Register(a.Echo, &httpserver.Deps{
		Logger:   logger,
		Issuer:   cfg.Issuer,
		Grants:   a.Grants,
		Tokens:   a.Tokens,
		Users:    a.Users,
		Clients:  a.Clients,
		Ledger:   a.Ledger,
		Sessions: a.Sessions,
		Metrics:  a.Metrics,
		Ready:    a.Repo.Ping,
	})
	return a, nil
}

func (a *App) wire(opts Options) error {
	cfg := a.Config

	a.Users = identity.New(a.Repo, a.Events, a.Metrics)
	if cfg.LockoutMaxAttempts > 0 {
		a.Users.MaxFailedAttempts = cfg.LockoutMaxAttempts
	}
	if cfg.LockoutDuration > 0 {
		a.Users.LockoutDuration = cfg.LockoutDuration
	}
	a.Clients = clients.New(a.Repo, a.Events)
	a.Ledger = ledger.New(a.Repo, a.Events)

	var keyOpts []token.KeyringOption
	for kid, at := range cfg.KeyNotAfter {
		keyOpts = append(keyOpts, token.WithNotAfter(kid, at))
		a.Logger.Info("signing_key_retired", "kid", kid, "not_after", at)
	}
	keys, err := token.NewKeyring(cfg.SigningKeys, cfg.ActiveKeyID, keyOpts...)
	if err != nil {
		return err
	}
	a.Tokens, err = token.NewEngine(a.Repo, keys, a.Users, token.Options{
		Issuer:           cfg.Issuer,
		AuthCodeLifetime: cfg.AuthCodeTTL,
		AccessLifetime:   cfg.AccessTokenTTL,
		RefreshLifetime:  cfg.RefreshTokenTTL,
		Customizer:       RoleClaims(a.Users),
		Metrics:          a.Metrics,
		Now:              opts.Now,
	})
	if err != nil {
		return err
	}
	a.Grants = grant.New(a.Users, a.Clients, a.Ledger, a.Tokens, a.Events, a.Metrics)
	a.Sessions = auth.NewSessions(keys, a.Users, auth.DefaultSessionTTL, opts.Now)
	return nil
}

// Seed registers the default scopes and, unless disabled, the default
// clients. It is safe to run on every start.
func (a *App) Seed(ctx context.Context) error {
	if err := a.Ledger.EnsureScopes(ctx, ledger.DefaultScopes()); err != nil {
		return fmt.Errorf("seed scopes: %w", err)
	}
	if !a.Config.SeedClients {
		return nil
	}
	if _, err := a.Clients.Seed(ctx, clients.Defaults(a.Config.MVCClientSecret)); err != nil {
		return fmt.Errorf("seed clients: %w", err)
	}
	return nil
}

func (a *App) Close() error {
	var errs []error
	if a.Events != nil {
		errs = append(errs, a.Events.Close())
	}
	if a.DB != nil {
		errs = append(errs, db.Close(a.DB))
	}
	return errors.Join(errs...)
}
