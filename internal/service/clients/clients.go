package clients

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Skotchmaster/identity/internal/domain"
	"github.com/Skotchmaster/identity/internal/events"
	"github.com/Skotchmaster/identity/internal/hash"
	"github.com/Skotchmaster/identity/internal/logging"
	"github.com/Skotchmaster/identity/internal/models"
)

type Repository interface {
	CreateApplication(ctx context.Context, app *models.Application) error
	FindApplicationByClientID(ctx context.Context, clientID string) (*models.Application, error)
	FindApplicationByID(ctx context.Context, id uint) (*models.Application, error)
	ListApplications(ctx context.Context) ([]models.Application, error)
	DeleteApplication(ctx context.Context, id uint) error
	UserNameTaken(ctx context.Context, normalized string) (bool, error)
}

type Service struct {
	Repo   Repository
	Events events.Publisher
}

func New(repo Repository, pub events.Publisher) *Service {
	return &Service{Repo: repo, Events: pub}
}

type Registration struct {
	ClientID          string
	ClientSecret      string
	DisplayName       string
	RedirectURI       string
	LogoutRedirectURI string
	Flows             []domain.Flow
}

var (
	publicFlows       = []domain.Flow{domain.FlowAuthorizationCode, domain.FlowPassword, domain.FlowRefreshToken}
	confidentialFlows = []domain.Flow{domain.FlowAuthorizationCode, domain.FlowPassword, domain.FlowRefreshToken, domain.FlowClientCredentials}
)

// Register stores a new client. A client with a secret is confidential,
// one without is public.
func (s *Service) Register(ctx context.Context, reg Registration) (*models.Application, error) {
	l := logging.FromContext(ctx).With("svc", "clients.register", "client_id", reg.ClientID)

	clientID := strings.TrimSpace(reg.ClientID)
	if clientID == "" {
		return nil, fmt.Errorf("%w: client_id is required", domain.ErrInvalidRequest)
	}

	typ := domain.ClientPublic
	if reg.ClientSecret != "" {
		typ = domain.ClientConfidential
	}

	flows := reg.Flows
	if len(flows) == 0 {
		flows = publicFlows
		if typ == domain.ClientConfidential {
			flows = confidentialFlows
		}
	}
	perms := make([]string, 0, len(flows))
	for _, f := range flows {
		if f == domain.FlowClientCredentials && typ == domain.ClientPublic {
			return nil, fmt.Errorf("%w: public clients cannot use client_credentials", domain.ErrInvalidRequest)
		}
		perms = append(perms, string(f))
	}

	app := &models.Application{
		ClientID:          clientID,
		DisplayName:       reg.DisplayName,
		RedirectURI:       reg.RedirectURI,
		LogoutRedirectURI: reg.LogoutRedirectURI,
		Type:              string(typ),
		Permissions:       domain.JoinScope(domain.ParseScope(strings.Join(perms, " "))),
	}
	taken, err := s.Repo.UserNameTaken(ctx, domain.Normalize(clientID))
	if err != nil {
		l.Error("register_client_error", "status", 500, "error", err)
		return nil, err
	}
	if taken {
		l.Warn("register_client_error", "status", 409, "reason", "client id is a user name")
		return nil, fmt.Errorf("%w: client id is taken by a user", domain.ErrDuplicateClientID)
	}

	if typ == domain.ClientConfidential {
		secretHash, err := hash.HashPassword(reg.ClientSecret)
		if err != nil {
			l.Error("register_client_error", "status", 500, "reason", "cannot hash the secret", "error", err)
			return nil, err
		}
		app.ClientSecret = secretHash
	}

	if err := s.Repo.CreateApplication(ctx, app); err != nil {
		if errors.Is(err, domain.ErrDuplicateClientID) {
			l.Warn("register_client_error", "status", 409, "reason", "client id already registered")
		} else {
			l.Error("register_client_error", "status", 500, "error", err)
		}
		return nil, err
	}

	l.Info("client_registered", "type", app.Type)
	events.Emit(ctx, s.Events, events.Event{Type: events.TypeClientRegistered, ClientID: app.ClientID, Data: map[string]any{"type": app.Type}})
	return app, nil
}

// FindByClientID returns ErrNotFound for unknown ids.
func (s *Service) FindByClientID(ctx context.Context, clientID string) (*models.Application, error) {
	return s.Repo.FindApplicationByClientID(ctx, clientID)
}

func (s *Service) FindByID(ctx context.Context, id uint) (*models.Application, error) {
	return s.Repo.FindApplicationByID(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]models.Application, error) {
	return s.Repo.ListApplications(ctx)
}

func (s *Service) Delete(ctx context.Context, clientID string) error {
	app, err := s.Repo.FindApplicationByClientID(ctx, clientID)
	if err != nil {
		return err
	}
	return s.Repo.DeleteApplication(ctx, app.ID)
}

// Authenticate resolves and authenticates the client of a token request.
// Every failure is reported as ErrInvalidClient.
func (s *Service) Authenticate(ctx context.Context, clientID, secret string) (*models.Application, error) {
	if clientID == "" {
		return nil, fmt.Errorf("%w: client_id is missing", domain.ErrInvalidClient)
	}
	app, err := s.Repo.FindApplicationByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown client", domain.ErrInvalidClient)
		}
		return nil, err
	}
	if IsPublic(app) {
		if secret != "" {
			return nil, fmt.Errorf("%w: public clients must not send a secret", domain.ErrInvalidClient)
		}
		return app, nil
	}
	if !VerifyClientSecret(app, secret) {
		return nil, fmt.Errorf("%w: bad client credentials", domain.ErrInvalidClient)
	}
	return app, nil
}

func IsPublic(app *models.Application) bool {
	return app.Type == string(domain.ClientPublic)
}

// IsRedirectURIAllowed is an exact string comparison. No normalization of
// case, trailing slashes or query strings.
func IsRedirectURIAllowed(app *models.Application, uri string) bool {
	return uri != "" && app.RedirectURI == uri
}

func IsLogoutRedirectURIAllowed(app *models.Application, uri string) bool {
	return uri != "" && app.LogoutRedirectURI == uri
}

// VerifyClientSecret is false for public clients.
func VerifyClientSecret(app *models.Application, presented string) bool {
	if app.Type != string(domain.ClientConfidential) || presented == "" {
		return false
	}
	return hash.CheckPassword(app.ClientSecret, presented)
}

func Flows(app *models.Application) []domain.Flow {
	parts := domain.ParseScope(app.Permissions)
	out := make([]domain.Flow, 0, len(parts))
	for _, p := range parts {
		out = append(out, domain.Flow(p))
	}
	return out
}

func IsFlowAllowed(app *models.Application, flow domain.Flow) bool {
	for _, f := range Flows(app) {
		if f == flow {
			return true
		}
	}
	return false
}
