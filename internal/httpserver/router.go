package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Skotchmaster/identity/internal/metrics"
	"github.com/Skotchmaster/identity/internal/middleware/auth"
	loggingmw "github.com/Skotchmaster/identity/internal/middleware/logging"
	"github.com/Skotchmaster/identity/internal/service/clients"
	"github.com/Skotchmaster/identity/internal/service/grant"
	"github.com/Skotchmaster/identity/internal/service/identity"
	"github.com/Skotchmaster/identity/internal/service/ledger"
	"github.com/Skotchmaster/identity/internal/service/token"
)

type Deps struct {
	Logger   *slog.Logger
	Issuer   string
	Grants   *grant.Service
	Tokens   *token.Engine
	Users    *identity.Service
	Clients  *clients.Service
	Ledger   *ledger.Service
	Sessions *auth.Sessions
	Metrics  *metrics.Metrics

	// Ready reports whether the storage backend answers.
	Ready func(ctx context.Context) error
}

type Server struct {
	d *Deps
}

func Register(e *echo.Echo, d *Deps) {
	s := &Server{d: d}

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.RequestID())
	e.Use(loggingmw.RequestLogger(d.Logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType},
	}))

	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", s.ready)
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics.Handler()))
	}
	e.GET("/.well-known/openid-configuration", s.Discovery)

	connect := e.Group("/connect", noStore)
	connect.POST("/token", s.Token)
	connect.GET("/authorize", s.Authorize, d.Sessions.Load)
	connect.POST("/authorize", s.Authorize, d.Sessions.Load)
	connect.GET("/logout", s.Logout)
	connect.POST("/revoke", s.Revoke)
	connect.POST("/introspect", s.Introspect)

	account := e.Group("/account")
	account.POST("/register", s.Register)
	account.POST("/login", s.Login)

	api := e.Group("/api", auth.RequireBearer(d.Tokens))
	api.GET("/userinfo", s.UserInfo)
}

func (s *Server) ready(c echo.Context) error {
	if s.d.Ready == nil {
		return c.NoContent(http.StatusOK)
	}
	if err := s.d.Ready(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unavailable"})
	}
	return c.NoContent(http.StatusOK)
}

func noStore(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Response().Header()
		h.Set(echo.HeaderCacheControl, "no-store")
		h.Set("Pragma", "no-cache")
		return next(c)
	}
}
