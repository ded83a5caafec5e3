package httpserver

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/identity/internal/domain"
	"github.com/Skotchmaster/identity/internal/logging"
	"github.com/Skotchmaster/identity/internal/middleware/auth"
	"github.com/Skotchmaster/identity/internal/models"
	"github.com/Skotchmaster/identity/internal/service/clients"
	"github.com/Skotchmaster/identity/internal/service/grant"
)

// clientCredentials prefers HTTP Basic over the client_id and
// client_secret form fields.
func clientCredentials(c echo.Context) (string, string) {
	if id, secret, ok := c.Request().BasicAuth(); ok {
		if uid, err := url.QueryUnescape(id); err == nil {
			id = uid
		}
		if usecret, err := url.QueryUnescape(secret); err == nil {
			secret = usecret
		}
		return id, secret
	}
	return c.FormValue("client_id"), c.FormValue("client_secret")
}

func (s *Server) Token(c echo.Context) error {
	ctx := c.Request().Context()

	clientID, secret := clientCredentials(c)
	resp, err := s.d.Grants.Token(ctx, grant.Request{
		GrantType:    c.FormValue("grant_type"),
		ClientID:     clientID,
		ClientSecret: secret,
		Code:         c.FormValue("code"),
		RedirectURI:  c.FormValue("redirect_uri"),
		Username:     c.FormValue("username"),
		Password:     c.FormValue("password"),
		RefreshToken: c.FormValue("refresh_token"),
		Scope:        c.FormValue("scope"),
	})
	if err != nil {
		return writeOAuthError(c, "token", err)
	}
	return c.JSON(http.StatusOK, resp)
}

// Authorize handles the authorization code request. Problems with the
// client or the redirect target are answered directly; everything else is
// reported to the client through the redirect.
func (s *Server) Authorize(c echo.Context) error {
	ctx := c.Request().Context()

	req := grant.AuthorizeRequest{
		ResponseType: c.FormValue("response_type"),
		ClientID:     c.FormValue("client_id"),
		RedirectURI:  c.FormValue("redirect_uri"),
		Scope:        c.FormValue("scope"),
		State:        c.FormValue("state"),
	}
	if _, err := s.d.Grants.ValidateAuthorize(ctx, req); err != nil {
		return writeOAuthError(c, "authorize", err)
	}

	res, err := s.d.Grants.Authorize(ctx, req, auth.SubjectFrom(c))
	if err != nil {
		logging.FromContext(ctx).With("handler", "authorize").
			Warn("authorize_error", "status", http.StatusFound, "reason", domain.OAuthCode(err), "error", err)
		return redirectWith(c, req.RedirectURI, map[string]string{
			"error":             domain.OAuthCode(err),
			"error_description": domain.Description(err),
			"state":             req.State,
		})
	}
	return redirectWith(c, res.RedirectURI, map[string]string{
		"code":  res.Code,
		"state": res.State,
	})
}

func redirectWith(c echo.Context, target string, params map[string]string) error {
	u, err := url.Parse(target)
	if err != nil {
		return writeOAuthError(c, "authorize", domain.ErrInvalidRedirectURI)
	}
	q := u.Query()
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return c.Redirect(http.StatusFound, u.String())
}

// Logout ends the browser session. It only redirects to a URI registered
// as some client's logout target.
func (s *Server) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "logout")

	c.SetCookie(auth.DeleteCookie(auth.SessionCookie, "/"))

	target := c.FormValue("post_logout_redirect_uri")
	if target == "" {
		l.Info("logout_successful")
		return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
	}

	var candidates []models.Application
	if clientID := c.FormValue("client_id"); clientID != "" {
		app, err := s.d.Clients.FindByClientID(ctx, clientID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return writeOAuthError(c, "logout", err)
		}
		if app != nil {
			candidates = append(candidates, *app)
		}
	} else {
		all, err := s.d.Clients.List(ctx)
		if err != nil {
			return writeOAuthError(c, "logout", err)
		}
		candidates = all
	}
	for i := range candidates {
		if clients.IsLogoutRedirectURIAllowed(&candidates[i], target) {
			l.Info("logout_successful", "redirect", target)
			if state := c.FormValue("state"); state != "" {
				return redirectWith(c, target, map[string]string{"state": state})
			}
			return c.Redirect(http.StatusFound, target)
		}
	}

	l.Warn("logout_redirect_rejected", "status", 200, "redirect", target)
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

// Revoke implements RFC 7009. Unknown tokens and tokens of other clients
// are answered with 200 and left alone.
func (s *Server) Revoke(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "revoke")

	clientID, secret := clientCredentials(c)
	app, err := s.d.Clients.Authenticate(ctx, clientID, secret)
	if err != nil {
		return writeOAuthError(c, "revoke", err)
	}
	value := c.FormValue("token")
	if value == "" {
		return writeOAuthError(c, "revoke", domain.ErrInvalidRequest)
	}

	rec, err := s.d.Tokens.Lookup(ctx, value)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.NoContent(http.StatusOK)
		}
		return writeOAuthError(c, "revoke", err)
	}
	if rec.ApplicationID == nil || *rec.ApplicationID != app.ID {
		l.Warn("revoke_foreign_token", "client_id", app.ClientID, "token_id", rec.ID)
		return c.NoContent(http.StatusOK)
	}
	if err := s.d.Tokens.RevokeRecord(ctx, rec, s.d.Tokens.Now()); err != nil {
		return writeOAuthError(c, "revoke", err)
	}
	l.Info("token_revoked", "token_id", rec.ID, "type", rec.Type)
	return c.NoContent(http.StatusOK)
}

type introspectionResponse struct {
	Active          bool   `json:"active"`
	TokenType       string `json:"token_type,omitempty"`
	ClientID        string `json:"client_id,omitempty"`
	Subject         string `json:"sub,omitempty"`
	SubjectType     string `json:"sub_type,omitempty"`
	Scope           string `json:"scope,omitempty"`
	Issuer          string `json:"iss,omitempty"`
	ExpiresAt       int64  `json:"exp,omitempty"`
	IssuedAt        int64  `json:"iat,omitempty"`
	JTI             string `json:"jti,omitempty"`
	AuthorizationID uint   `json:"aid,omitempty"`
}

// Introspect implements RFC 7662 for authenticated clients.
func (s *Server) Introspect(c echo.Context) error {
	ctx := c.Request().Context()

	clientID, secret := clientCredentials(c)
	if _, err := s.d.Clients.Authenticate(ctx, clientID, secret); err != nil {
		return writeOAuthError(c, "introspect", err)
	}
	value := c.FormValue("token")
	if value == "" {
		return writeOAuthError(c, "introspect", domain.ErrInvalidRequest)
	}

	in, err := s.d.Tokens.Introspect(ctx, value)
	if err != nil {
		return writeOAuthError(c, "introspect", err)
	}
	if !in.Active {
		return c.JSON(http.StatusOK, introspectionResponse{})
	}

	out := introspectionResponse{
		Active:          true,
		TokenType:       string(in.TokenType),
		Issuer:          s.d.Tokens.Issuer(),
		AuthorizationID: in.AuthorizationID,
	}
	switch {
	case in.Claims != nil:
		out.ClientID = in.Claims.ClientID
		out.Subject = in.Claims.Subject
		out.SubjectType = in.Claims.SubjectType
		out.Scope = in.Claims.Scope
		out.JTI = in.Claims.ID
		if in.Claims.ExpiresAt != nil {
			out.ExpiresAt = in.Claims.ExpiresAt.Unix()
		}
		if in.Claims.IssuedAt != nil {
			out.IssuedAt = in.Claims.IssuedAt.Unix()
		}
	case in.Record != nil:
		out.Subject = in.Record.Subject
		out.Scope = in.Record.Scope
		out.ExpiresAt = in.Record.ExpiresAt.Unix()
		out.IssuedAt = in.Record.CreatedAt.Unix()
		if in.Record.ApplicationID != nil {
			if app, err := s.d.Clients.FindByID(ctx, *in.Record.ApplicationID); err == nil {
				out.ClientID = app.ClientID
			}
		}
	}
	return c.JSON(http.StatusOK, out)
}
