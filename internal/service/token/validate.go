package token

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Skotchmaster/identity/internal/domain"
	"github.com/Skotchmaster/identity/internal/models"
)

type Status string

const (
	StatusValid     Status = "valid"
	StatusExpired   Status = "expired"
	StatusRevoked   Status = "revoked"
	StatusMalformed Status = "malformed"
)

// Validation is the outcome of ValidateAccessToken. Claims is set only when
// Status is StatusValid.
type Validation struct {
	Status Status
	Claims *AccessClaims
}

func (v Validation) Valid() bool { return v.Status == StatusValid }

// ValidateAccessToken checks the signature, expiry, stored token status,
// authorization status and security stamp, in that order, against a single
// clock reading. It has no side effects. The error is reserved for storage
// failures.
func (e *Engine) ValidateAccessToken(ctx context.Context, tokenStr string) (Validation, error) {
	now := e.Now()
	v, err := e.validateAccess(ctx, tokenStr, now)
	if err == nil {
		e.opts.Metrics.Validated(string(v.Status))
	}
	return v, err
}

func (e *Engine) validateAccess(ctx context.Context, tokenStr string, now time.Time) (Validation, error) {
	var claims AccessClaims
	err := e.keys.Parse(now, tokenStr, &claims, jwt.WithExpirationRequired())
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Validation{Status: StatusExpired}, nil
	case err != nil:
		return Validation{Status: StatusMalformed}, nil
	case claims.ID == "" || claims.Subject == "":
		return Validation{Status: StatusMalformed}, nil
	}
	if e.opts.Issuer != "" && claims.Issuer != e.opts.Issuer {
		return Validation{Status: StatusMalformed}, nil
	}

	rec, err := e.repo.FindTokenByID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Validation{Status: StatusRevoked}, nil
		}
		return Validation{}, err
	}
	if rec.Type != string(domain.TokenTypeAccess) {
		return Validation{Status: StatusMalformed}, nil
	}
	if rec.Status != string(domain.TokenStatusValid) {
		return Validation{Status: StatusRevoked}, nil
	}

	live, err := e.authorizationLive(ctx, rec)
	if err != nil {
		return Validation{}, err
	}
	if !live {
		return Validation{Status: StatusRevoked}, nil
	}

	current, err := e.stampCurrent(ctx, claims.Subject, claims.Stamp)
	if err != nil {
		return Validation{}, err
	}
	if !current {
		return Validation{Status: StatusRevoked}, nil
	}

	return Validation{Status: StatusValid, Claims: &claims}, nil
}

// Introspection is the RFC 7662 view of any token.
type Introspection struct {
	Active          bool
	TokenType       domain.TokenType
	Record          *models.OAuthToken
	Claims          *AccessClaims
	AuthorizationID uint
}

// Introspect reports whether value is currently usable. Access tokens go
// through ValidateAccessToken; refresh tokens and codes are checked
// against their record.
func (e *Engine) Introspect(ctx context.Context, value string) (Introspection, error) {
	if IsJWT(value) {
		v, err := e.ValidateAccessToken(ctx, value)
		if err != nil {
			return Introspection{}, err
		}
		if !v.Valid() {
			return Introspection{}, nil
		}
		return Introspection{
			Active:          true,
			TokenType:       domain.TokenTypeAccess,
			Claims:          v.Claims,
			AuthorizationID: v.Claims.AuthorizationID,
		}, nil
	}

	rec, err := e.repo.FindTokenByHash(ctx, Sha256Hex(value))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Introspection{}, nil
		}
		return Introspection{}, err
	}
	now := e.Now()
	if rec.Status != string(domain.TokenStatusValid) || !now.Before(rec.ExpiresAt) {
		return Introspection{}, nil
	}
	live, err := e.authorizationLive(ctx, rec)
	if err != nil || !live {
		return Introspection{}, err
	}
	current, err := e.stampCurrent(ctx, rec.Subject, rec.SecurityStamp)
	if err != nil || !current {
		return Introspection{}, err
	}
	out := Introspection{Active: true, TokenType: domain.TokenType(rec.Type), Record: rec}
	if rec.AuthorizationID != nil {
		out.AuthorizationID = *rec.AuthorizationID
	}
	return out, nil
}
