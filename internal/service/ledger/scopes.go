package ledger

import (
	"context"
	"fmt"

	"github.com/Skotchmaster/identity/internal/domain"
	"github.com/Skotchmaster/identity/internal/models"
)

const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopeRoles         = "roles"
	ScopeOfflineAccess = "offline_access"
)

func DefaultScopes() []models.Scope {
	return []models.Scope{
		{Name: ScopeOpenID, Description: "Sign in"},
		{Name: ScopeProfile, Description: "User profile"},
		{Name: ScopeEmail, Description: "E-mail address"},
		{Name: ScopeRoles, Description: "Role membership"},
		{Name: ScopeOfflineAccess, Description: "Refresh tokens"},
	}
}

func (s *Service) EnsureScopes(ctx context.Context, scopes []models.Scope) error {
	for i := range scopes {
		if err := s.Repo.EnsureScope(ctx, &scopes[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Scopes(ctx context.Context) ([]models.Scope, error) {
	return s.Repo.ListScopes(ctx)
}

// ValidateScopes fails with ErrInvalidScope unless every requested scope is
// registered.
func (s *Service) ValidateScopes(ctx context.Context, requested []string) error {
	if len(requested) == 0 {
		return nil
	}
	found, err := s.Repo.FindScopesByNames(ctx, requested)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(found))
	for _, sc := range found {
		known[sc.Name] = struct{}{}
	}
	for _, name := range requested {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("%w: %q", domain.ErrInvalidScope, name)
		}
	}
	return nil
}
