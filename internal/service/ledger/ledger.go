package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Skotchmaster/identity/internal/domain"
	"github.com/Skotchmaster/identity/internal/events"
	"github.com/Skotchmaster/identity/internal/logging"
	"github.com/Skotchmaster/identity/internal/models"
)

type Repository interface {
	CreateAuthorization(ctx context.Context, a *models.Authorization) error
	FindAuthorization(ctx context.Context, id uint) (*models.Authorization, error)
	ListAuthorizationsByApplication(ctx context.Context, appID uint) ([]models.Authorization, error)
	ListAuthorizationsBySubject(ctx context.Context, subject string) ([]models.Authorization, error)
	RevokeAuthorizationTokens(ctx context.Context, authorizationID uint) (int64, error)
	RevokeAuthorization(ctx context.Context, id uint, at time.Time) (bool, error)
	DeleteExpiredTokens(ctx context.Context, cutoff time.Time) (int64, error)

	EnsureScope(ctx context.Context, s *models.Scope) error
	FindScopesByNames(ctx context.Context, names []string) ([]models.Scope, error)
	ListScopes(ctx context.Context) ([]models.Scope, error)
}

type Service struct {
	Repo   Repository
	Events events.Publisher
}

func New(repo Repository, pub events.Publisher) *Service {
	return &Service{Repo: repo, Events: pub}
}

// Create records a grant of scopes by subject to app. app may be nil for
// grants that are not bound to a client.
func (s *Service) Create(ctx context.Context, subject string, app *models.Application, scopes []string) (*models.Authorization, error) {
	if strings.TrimSpace(subject) == "" {
		return nil, fmt.Errorf("%w: subject is required", domain.ErrInvalidRequest)
	}
	return s.create(ctx, subject, domain.SubjectUser, app, scopes)
}

// CreateForClient records a grant to app itself, with the client id as
// subject.
func (s *Service) CreateForClient(ctx context.Context, app *models.Application, scopes []string) (*models.Authorization, error) {
	if app == nil {
		return nil, fmt.Errorf("%w: client is required", domain.ErrInvalidRequest)
	}
	return s.create(ctx, app.ClientID, domain.SubjectClient, app, scopes)
}

func (s *Service) create(ctx context.Context, subject string, typ domain.SubjectType, app *models.Application, scopes []string) (*models.Authorization, error) {
	a := &models.Authorization{
		Subject:     subject,
		SubjectType: string(typ),
		Scope:       domain.JoinScope(scopes),
		Status:      string(domain.AuthorizationStatusValid),
	}
	if app != nil {
		id := app.ID
		a.ApplicationID = &id
	}
	if err := s.Repo.CreateAuthorization(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Find returns revoked authorizations too; records are never deleted.
func (s *Service) Find(ctx context.Context, id uint) (*models.Authorization, error) {
	return s.Repo.FindAuthorization(ctx, id)
}

func (s *Service) ListByApplication(ctx context.Context, appID uint) ([]models.Authorization, error) {
	return s.Repo.ListAuthorizationsByApplication(ctx, appID)
}

func (s *Service) ListBySubject(ctx context.Context, subject string) ([]models.Authorization, error) {
	return s.Repo.ListAuthorizationsBySubject(ctx, subject)
}

func IsValid(a *models.Authorization) bool {
	return a != nil && a.Status == string(domain.AuthorizationStatusValid)
}

// Revoke marks every live token of the authorization revoked and then the
// authorization itself. Both steps are conditional, so a retry after a
// partial failure completes the cascade.
func (s *Service) Revoke(ctx context.Context, id uint, now time.Time) error {
	l := logging.FromContext(ctx).With("svc", "ledger.revoke", "authorization_id", id)

	a, err := s.Repo.FindAuthorization(ctx, id)
	if err != nil {
		return err
	}

	n, err := s.Repo.RevokeAuthorizationTokens(ctx, id)
	if err != nil {
		l.Error("revoke_tokens_failed", "error", err)
		return err
	}
	changed, err := s.Repo.RevokeAuthorization(ctx, id, now)
	if err != nil {
		l.Error("revoke_authorization_failed", "tokens_revoked", n, "error", err)
		return err
	}
	if !changed {
		return nil
	}

	l.Info("authorization_revoked", "tokens_revoked", n)
	events.Emit(ctx, s.Events, events.Event{
		Type:            events.TypeAuthorizationRevoked,
		Subject:         a.Subject,
		AuthorizationID: a.ID,
		Data:            map[string]any{"tokens_revoked": n},
	})
	return nil
}

// RevokeBySubject revokes every authorization granted to the user subject
// and returns how many were live. Client grants are left alone.
func (s *Service) RevokeBySubject(ctx context.Context, subject string, now time.Time) (int, error) {
	list, err := s.Repo.ListAuthorizationsBySubject(ctx, subject)
	if err != nil {
		return 0, err
	}
	revoked := 0
	for i := range list {
		if !IsValid(&list[i]) || list[i].SubjectType == string(domain.SubjectClient) {
			continue
		}
		if err := s.Revoke(ctx, list[i].ID, now); err != nil {
			return revoked, err
		}
		revoked++
	}
	return revoked, nil
}

// PruneTokens deletes token records that expired before cutoff.
// Authorizations are kept.
func (s *Service) PruneTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	l := logging.FromContext(ctx).With("svc", "ledger.prune")

	n, err := s.Repo.DeleteExpiredTokens(ctx, cutoff)
	if err != nil {
		l.Error("prune_tokens_failed", "error", err)
		return 0, err
	}
	l.Info("tokens_pruned", "deleted", n, "cutoff", cutoff)
	return n, nil
}
