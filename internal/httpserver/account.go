package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/identity/internal/domain"
	"github.com/Skotchmaster/identity/internal/logging"
	"github.com/Skotchmaster/identity/internal/middleware/auth"
	"github.com/Skotchmaster/identity/internal/service/identity"
)

type registerRequest struct {
	Username    string `json:"username"     form:"username"`
	Email       string `json:"email"        form:"email"`
	Password    string `json:"password"     form:"password"`
	DisplayName string `json:"display_name" form:"display_name"`
}

func (s *Server) Register(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "account_register")

	var req registerRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("register_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	u, err := s.d.Users.CreateUser(ctx, identity.NewUser{
		UserName:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrDuplicateUser):
			return echo.NewHTTPError(http.StatusConflict, "user already exists")
		case errors.Is(err, domain.ErrInvalidRequest):
			return echo.NewHTTPError(http.StatusBadRequest, "username and password are required")
		default:
			return echo.NewHTTPError(domain.HTTPStatus(err), "register failed")
		}
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"id":        u.ID,
		"user_name": u.UserName,
	})
}

type loginRequest struct {
	Username  string `json:"username"   form:"username"`
	Password  string `json:"password"   form:"password"`
	ReturnURL string `json:"return_url" form:"return_url"`
}

// Login signs the user in and sets the session cookie. A local return_url
// turns the answer into a redirect, which is how the authorization
// endpoint resumes after sign-in.
func (s *Server) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "account_login")

	var req loginRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("login_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	u, err := s.d.Users.SignIn(ctx, req.Username, req.Password, s.d.Tokens.Now())
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAccountLocked):
			l.Warn("login_failed", "status", 423, "reason", "locked out")
			return echo.NewHTTPError(http.StatusLocked, "account is locked out")
		case errors.Is(err, domain.ErrInvalidGrant), errors.Is(err, domain.ErrInvalidRequest):
			l.Warn("login_failed", "status", 401, "error", err)
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid username or password")
		default:
			l.Error("login_failed", "status", 500, "error", err)
			return echo.NewHTTPError(domain.HTTPStatus(err), "login failed")
		}
	}

	session, exp, err := s.d.Sessions.Issue(u.UserName, u.SecurityStamp)
	if err != nil {
		l.Error("login_failed", "status", 500, "reason", "cannot sign session", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError)
	}
	c.SetCookie(auth.CreateCookie(auth.SessionCookie, session, "/", exp))
	l.Info("login_successful", "user_id", u.ID)

	if isLocalURL(req.ReturnURL) {
		return c.Redirect(http.StatusFound, req.ReturnURL)
	}
	return c.JSON(http.StatusOK, echo.Map{"user_name": u.UserName})
}

func isLocalURL(u string) bool {
	return strings.HasPrefix(u, "/") && !strings.HasPrefix(u, "//") && !strings.HasPrefix(u, "/\\")
}
