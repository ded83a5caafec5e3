package app

import (
	"context"
	"errors"
	"slices"

	"github.com/Skotchmaster/identity/internal/domain"
	"github.com/Skotchmaster/identity/internal/models"
	"github.com/Skotchmaster/identity/internal/service/identity"
	"github.com/Skotchmaster/identity/internal/service/ledger"
	"github.com/Skotchmaster/identity/internal/service/token"
)

type roleSource interface {
	FindByNormalizedUsername(ctx context.Context, name string) (*models.User, error)
	Roles(ctx context.Context, u *models.User) ([]string, error)
}

// RoleClaims adds the user's roles to access tokens that were granted the
// roles scope. Client tokens and unknown subjects get nothing extra.
func RoleClaims(users roleSource) token.ClaimsCustomizer {
	return func(ctx context.Context, cc token.ClaimsContext) (map[string]any, error) {
		if cc.SubjectType == domain.SubjectClient || !slices.Contains(cc.Scopes, ledger.ScopeRoles) {
			return nil, nil
		}
		u, err := users.FindByNormalizedUsername(ctx, cc.Subject)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		roles, err := users.Roles(ctx, u)
		if err != nil {
			return nil, err
		}
		if len(roles) == 0 {
			return nil, nil
		}
		return map[string]any{identity.ClaimRole: roles}, nil
	}
}
