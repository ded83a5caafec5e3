package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/identity/internal/logging"
	"github.com/Skotchmaster/identity/internal/service/token"
)

// ContextClaims holds the *token.AccessClaims of a bearer request.
const ContextClaims = "access_claims"

type Validator interface {
	ValidateAccessToken(ctx context.Context, tokenStr string) (token.Validation, error)
}

// RequireBearer rejects requests without a valid access token in the
// Authorization header.
func RequireBearer(v Validator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			l := logging.FromContext(ctx).With("mw", "require_bearer")

			raw, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer`)
				return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
			}

			res, err := v.ValidateAccessToken(ctx, raw)
			if err != nil {
				l.Error("validate_access_token_error", "status", 503, "error", err)
				return echo.NewHTTPError(http.StatusServiceUnavailable, "token validation unavailable")
			}
			if !res.Valid() {
				l.Warn("access_token_rejected", "status", 401, "reason", string(res.Status))
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer error="invalid_token", error_description="the access token is `+string(res.Status)+`"`)
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}

			c.Set(ContextClaims, res.Claims)
			c.Set(ContextSubject, res.Claims.Subject)
			return next(c)
		}
	}
}

func ClaimsFrom(c echo.Context) *token.AccessClaims {
	claims, _ := c.Get(ContextClaims).(*token.AccessClaims)
	return claims
}

func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	raw := strings.TrimSpace(header[len(prefix):])
	return raw, raw != ""
}
