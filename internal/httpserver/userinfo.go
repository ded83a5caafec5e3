package httpserver

import (
	"errors"
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/identity/internal/domain"
	"github.com/Skotchmaster/identity/internal/middleware/auth"
	"github.com/Skotchmaster/identity/internal/service/identity"
	"github.com/Skotchmaster/identity/internal/service/ledger"
)

// UserInfo returns the subject and the claims its scopes allow. Tokens
// issued to a client rather than a user only get "sub".
func (s *Server) UserInfo(c echo.Context) error {
	ctx := c.Request().Context()

	claims := auth.ClaimsFrom(c)
	if claims == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
	}
	out := echo.Map{"sub": claims.Subject}
	if claims.IsClient() {
		return c.JSON(http.StatusOK, out)
	}

	u, err := s.d.Users.FindByNormalizedUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusOK, out)
		}
		return writeOAuthError(c, "userinfo", err)
	}

	scopes := domain.ParseScope(claims.Scope)
	if slices.Contains(scopes, ledger.ScopeProfile) {
		out["name"] = u.UserName
		out["preferred_username"] = u.UserName
		if u.DisplayName != nil {
			out["display_name"] = *u.DisplayName
		}
	}
	if slices.Contains(scopes, ledger.ScopeEmail) && u.Email != "" {
		out["email"] = u.Email
		out["email_verified"] = u.EmailConfirmed
	}

	all, err := s.d.Users.Claims(ctx, u)
	if err != nil {
		return writeOAuthError(c, "userinfo", err)
	}
	var roles []string
	for _, cl := range all {
		if cl.Type == identity.ClaimRole {
			roles = append(roles, cl.Value)
			continue
		}
		if _, taken := out[cl.Type]; !taken {
			out[cl.Type] = cl.Value
		}
	}
	if len(roles) > 0 && slices.Contains(scopes, ledger.ScopeRoles) {
		out["role"] = roles
	}
	return c.JSON(http.StatusOK, out)
}
