package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/identity/internal/domain"
	"github.com/Skotchmaster/identity/internal/logging"
)

type oauthError struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// writeOAuthError answers with the RFC 6749 error body for err. The
// underlying error is logged, never sent.
func writeOAuthError(c echo.Context, handler string, err error) error {
	status := domain.HTTPStatus(err)
	code := domain.OAuthCode(err)
	l := logging.FromContext(c.Request().Context()).With("handler", handler)
	if status >= http.StatusInternalServerError {
		l.Error(handler+"_error", "status", status, "reason", code, "error", err)
	} else {
		l.Warn(handler+"_error", "status", status, "reason", code, "error", err)
	}
	if status == http.StatusUnauthorized {
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Basic realm="identity"`)
	}
	return c.JSON(status, oauthError{Error: code, Description: domain.Description(err)})
}
