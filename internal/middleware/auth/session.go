package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/identity/internal/domain"
	"github.com/Skotchmaster/identity/internal/logging"
	"github.com/Skotchmaster/identity/internal/service/token"
)

const (
	SessionCookie     = "identity.session"
	DefaultSessionTTL = 8 * time.Hour

	// ContextSubject holds the signed-in user name, if any.
	ContextSubject = "subject"

	sessionType = "session"
)

var errInvalidSession = errors.New("invalid session")

type sessionClaims struct {
	Type  string `json:"typ"`
	Stamp string `json:"stamp"`
	jwt.RegisteredClaims
}

// Sessions issues and checks the browser sign-in cookie used by the
// authorization endpoint. The cookie is a JWT signed with the token
// keyring and bound to the user's security stamp.
type Sessions struct {
	Keys   *token.Keyring
	Stamps token.StampSource
	TTL    time.Duration
	Now    func() time.Time
}

func NewSessions(keys *token.Keyring, stamps token.StampSource, ttl time.Duration, now func() time.Time) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Sessions{Keys: keys, Stamps: stamps, TTL: ttl, Now: now}
}

func (s *Sessions) Issue(subject, stamp string) (string, time.Time, error) {
	now := s.Now().UTC()
	exp := now.Add(s.TTL)
	signed, err := s.Keys.Sign(sessionClaims{
		Type:  sessionType,
		Stamp: stamp,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        token.NewJTI(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("session: sign: %w", err)
	}
	return signed, exp, nil
}

// Subject returns the user the session belongs to. A session whose
// security stamp is no longer current is invalid.
func (s *Sessions) Subject(ctx context.Context, raw string) (string, error) {
	var claims sessionClaims
	err := s.Keys.Parse(s.Now(), raw, &claims, jwt.WithExpirationRequired())
	if err != nil || claims.Type != sessionType || claims.Subject == "" {
		return "", errInvalidSession
	}
	if s.Stamps != nil {
		current, err := s.Stamps.CurrentStamp(ctx, claims.Subject)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return "", errInvalidSession
			}
			return "", err
		}
		if current != claims.Stamp {
			return "", errInvalidSession
		}
	}
	return claims.Subject, nil
}

// Load sets ContextSubject when the request carries a valid session and
// drops the cookie when it does not. It never rejects a request.
func (s *Sessions) Load(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		cookie, err := c.Cookie(SessionCookie)
		if err != nil || cookie.Value == "" {
			return next(c)
		}
		ctx := c.Request().Context()
		subject, err := s.Subject(ctx, cookie.Value)
		switch {
		case errors.Is(err, errInvalidSession):
			c.SetCookie(DeleteCookie(SessionCookie, "/"))
		case err != nil:
			logging.FromContext(ctx).Error("session_check_error", "error", err)
		default:
			c.Set(ContextSubject, subject)
		}
		return next(c)
	}
}

func SubjectFrom(c echo.Context) string {
	s, _ := c.Get(ContextSubject).(string)
	return s
}
