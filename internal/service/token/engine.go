package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Skotchmaster/identity/internal/domain"
	"github.com/Skotchmaster/identity/internal/logging"
	"github.com/Skotchmaster/identity/internal/metrics"
	"github.com/Skotchmaster/identity/internal/models"
)

const (
	DefaultAuthCodeLifetime = 5 * time.Minute
	DefaultAccessLifetime   = time.Hour
	DefaultRefreshLifetime  = 14 * 24 * time.Hour
)

type Repository interface {
	CreateToken(ctx context.Context, t *models.OAuthToken) error
	FindTokenByID(ctx context.Context, id string) (*models.OAuthToken, error)
	FindTokenByHash(ctx context.Context, hash string) (*models.OAuthToken, error)
	TransitionTokenStatus(ctx context.Context, id string, from, to domain.TokenStatus, at time.Time) (bool, error)
	FindAuthorization(ctx context.Context, id uint) (*models.Authorization, error)
}

// StampSource reports the current security stamp of a subject.
type StampSource interface {
	CurrentStamp(ctx context.Context, subject string) (string, error)
}

// ClaimsContext describes the access token being minted.
type ClaimsContext struct {
	Subject         string
	SubjectType     domain.SubjectType
	ClientID        string
	Scopes          []string
	AuthorizationID uint
}

// ClaimsCustomizer adds claims to access tokens. Reserved claim names are
// always set by the engine and cannot be overridden.
type ClaimsCustomizer func(ctx context.Context, cc ClaimsContext) (map[string]any, error)

var reservedClaims = map[string]struct{}{
	"sub": {}, "client_id": {}, "scope": {}, "aid": {}, "jti": {},
	"iss": {}, "iat": {}, "exp": {}, "nbf": {}, "aud": {}, "stamp": {},
	"sub_type": {},
}

type Options struct {
	Issuer           string
	AuthCodeLifetime time.Duration
	AccessLifetime   time.Duration
	RefreshLifetime  time.Duration
	Customizer       ClaimsCustomizer
	Metrics          *metrics.Metrics
	Now              func() time.Time
}

type Engine struct {
	repo   Repository
	keys   *Keyring
	stamps StampSource
	opts   Options
}

// NewEngine builds the engine. stamps may be nil, in which case security
// stamps are not checked.
func NewEngine(repo Repository, keys *Keyring, stamps StampSource, opts Options) (*Engine, error) {
	if opts.AuthCodeLifetime <= 0 {
		opts.AuthCodeLifetime = DefaultAuthCodeLifetime
	}
	if opts.AccessLifetime <= 0 {
		opts.AccessLifetime = DefaultAccessLifetime
	}
	if opts.RefreshLifetime <= 0 {
		opts.RefreshLifetime = DefaultRefreshLifetime
	}
	if opts.RefreshLifetime <= opts.AccessLifetime {
		return nil, errors.New("token: refresh lifetime must exceed access lifetime")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if keys == nil {
		return nil, errors.New("token: keyring is required")
	}
	return &Engine{repo: repo, keys: keys, stamps: stamps, opts: opts}, nil
}

func (e *Engine) Keys() *Keyring { return e.keys }

func (e *Engine) Issuer() string { return e.opts.Issuer }

func (e *Engine) AccessLifetime() time.Duration { return e.opts.AccessLifetime }

func (e *Engine) Now() time.Time { return e.opts.Now().UTC() }

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	ClientID        string `json:"client_id,omitempty"`
	SubjectType     string `json:"sub_type,omitempty"`
	Scope           string `json:"scope,omitempty"`
	AuthorizationID uint   `json:"aid,omitempty"`
	Stamp           string `json:"stamp,omitempty"`
	jwt.RegisteredClaims
}

// IsClient reports whether the token was issued to a client acting on its
// own behalf. Its subject is a client id, not a user name.
func (c *AccessClaims) IsClient() bool {
	return c.SubjectType == string(domain.SubjectClient)
}

func subjectType(a *models.Authorization) domain.SubjectType {
	if a.SubjectType == string(domain.SubjectClient) {
		return domain.SubjectClient
	}
	return domain.SubjectUser
}

// Issued is a freshly minted token. Value is shown to the client once.
type Issued struct {
	Value     string
	Record    *models.OAuthToken
	ExpiresAt time.Time
}

func tokenRecord(authz *models.Authorization, typ domain.TokenType, now, exp time.Time) *models.OAuthToken {
	authID := authz.ID
	return &models.OAuthToken{
		ID:              NewJTI(),
		ApplicationID:   authz.ApplicationID,
		AuthorizationID: &authID,
		Subject:         authz.Subject,
		Type:            string(typ),
		Status:          string(domain.TokenStatusValid),
		Scope:           authz.Scope,
		ExpiresAt:       exp,
		CreatedAt:       now,
	}
}

func (e *Engine) issueOpaque(ctx context.Context, rec *models.OAuthToken) (*Issued, error) {
	value, err := newOpaque()
	if err != nil {
		return nil, fmt.Errorf("token: random: %w", err)
	}
	h := Sha256Hex(value)
	rec.Hash = &h
	if err := e.repo.CreateToken(ctx, rec); err != nil {
		return nil, err
	}
	return &Issued{Value: value, Record: rec, ExpiresAt: rec.ExpiresAt}, nil
}

// IssueAuthorizationCode mints a single-use code bound to redirectURI.
func (e *Engine) IssueAuthorizationCode(ctx context.Context, authz *models.Authorization, redirectURI string, now time.Time) (*Issued, error) {
	rec := tokenRecord(authz, domain.TokenTypeAuthorizationCode, now, now.Add(e.opts.AuthCodeLifetime))
	rec.RedirectURI = redirectURI
	return e.issueOpaque(ctx, rec)
}

func (e *Engine) IssueRefreshToken(ctx context.Context, authz *models.Authorization, stamp string, now time.Time) (*Issued, error) {
	rec := tokenRecord(authz, domain.TokenTypeRefresh, now, now.Add(e.opts.RefreshLifetime))
	rec.SecurityStamp = stamp
	return e.issueOpaque(ctx, rec)
}

// IssueAccessToken signs a JWT whose jti is the id of the stored record.
func (e *Engine) IssueAccessToken(ctx context.Context, authz *models.Authorization, clientID, stamp string, now time.Time) (*Issued, error) {
	rec := tokenRecord(authz, domain.TokenTypeAccess, now, now.Add(e.opts.AccessLifetime))
	rec.SecurityStamp = stamp

	claims := jwt.MapClaims{}
	if e.opts.Customizer != nil {
		extra, err := e.opts.Customizer(ctx, ClaimsContext{
			Subject:         authz.Subject,
			SubjectType:     subjectType(authz),
			ClientID:        clientID,
			Scopes:          domain.ParseScope(authz.Scope),
			AuthorizationID: authz.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("token: customize claims: %w", err)
		}
		for k, v := range extra {
			if _, reserved := reservedClaims[k]; reserved {
				continue
			}
			claims[k] = v
		}
	}

	claims["sub"] = authz.Subject
	claims["sub_type"] = string(subjectType(authz))
	claims["jti"] = rec.ID
	claims["iat"] = now.Unix()
	claims["exp"] = rec.ExpiresAt.Unix()
	claims["aid"] = authz.ID
	if e.opts.Issuer != "" {
		claims["iss"] = e.opts.Issuer
	}
	if clientID != "" {
		claims["client_id"] = clientID
	}
	if authz.Scope != "" {
		claims["scope"] = authz.Scope
	}
	if stamp != "" {
		claims["stamp"] = stamp
	}

	signed, err := e.keys.Sign(claims)
	if err != nil {
		return nil, fmt.Errorf("token: sign: %w", err)
	}
	if err := e.repo.CreateToken(ctx, rec); err != nil {
		return nil, err
	}
	return &Issued{Value: signed, Record: rec, ExpiresAt: rec.ExpiresAt}, nil
}

// Check is a caller-supplied precondition evaluated before a redemption
// commits. A failing check leaves the token untouched.
type Check func(rec *models.OAuthToken) error

func (e *Engine) lookupOpaque(ctx context.Context, value string, typ domain.TokenType) (*models.OAuthToken, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: %s is missing", domain.ErrInvalidGrant, typ)
	}
	rec, err := e.repo.FindTokenByHash(ctx, Sha256Hex(value))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown %s", domain.ErrInvalidGrant, typ)
		}
		return nil, err
	}
	if rec.Type != string(typ) {
		return nil, fmt.Errorf("%w: unknown %s", domain.ErrInvalidGrant, typ)
	}
	return rec, nil
}

// RedeemAuthorizationCode moves the code from valid to redeemed. Of any
// number of concurrent calls exactly one succeeds; the others get
// ErrCodeAlreadyRedeemed.
func (e *Engine) RedeemAuthorizationCode(ctx context.Context, code string, now time.Time, checks ...Check) (*models.OAuthToken, error) {
	rec, err := e.lookupOpaque(ctx, code, domain.TokenTypeAuthorizationCode)
	if err != nil {
		return nil, err
	}
	switch domain.TokenStatus(rec.Status) {
	case domain.TokenStatusRedeemed:
		return nil, domain.ErrCodeAlreadyRedeemed
	case domain.TokenStatusRevoked:
		return nil, fmt.Errorf("%w: authorization code revoked", domain.ErrInvalidGrant)
	}
	if !now.Before(rec.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization code expired", domain.ErrInvalidGrant)
	}
	for _, check := range checks {
		if err := check(rec); err != nil {
			return nil, err
		}
	}

	ok, err := e.repo.TransitionTokenStatus(ctx, rec.ID, domain.TokenStatusValid, domain.TokenStatusRedeemed, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		logging.FromContext(ctx).Warn("code_redeem_race_lost", "token_id", rec.ID)
		return nil, domain.ErrCodeAlreadyRedeemed
	}
	rec.Status = string(domain.TokenStatusRedeemed)
	rec.RedeemedAt = &now
	return rec, nil
}

// RedeemRefreshToken retires the refresh token so it can be rotated. A
// replayed token gets ErrInvalidGrant.
func (e *Engine) RedeemRefreshToken(ctx context.Context, value string, now time.Time, checks ...Check) (*models.OAuthToken, error) {
	rec, err := e.lookupOpaque(ctx, value, domain.TokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	if rec.Status != string(domain.TokenStatusValid) {
		return nil, fmt.Errorf("%w: refresh token is no longer valid", domain.ErrInvalidGrant)
	}
	if !now.Before(rec.ExpiresAt) {
		return nil, fmt.Errorf("%w: refresh token expired", domain.ErrInvalidGrant)
	}
	if live, err := e.authorizationLive(ctx, rec); err != nil {
		return nil, err
	} else if !live {
		return nil, fmt.Errorf("%w: authorization revoked", domain.ErrInvalidGrant)
	}
	if current, err := e.stampCurrent(ctx, rec.Subject, rec.SecurityStamp); err != nil {
		return nil, err
	} else if !current {
		return nil, fmt.Errorf("%w: security stamp changed", domain.ErrInvalidGrant)
	}
	for _, check := range checks {
		if err := check(rec); err != nil {
			return nil, err
		}
	}

	ok, err := e.repo.TransitionTokenStatus(ctx, rec.ID, domain.TokenStatusValid, domain.TokenStatusRevoked, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: refresh token already used", domain.ErrInvalidGrant)
	}
	rec.Status = string(domain.TokenStatusRevoked)
	return rec, nil
}

func (e *Engine) authorizationLive(ctx context.Context, rec *models.OAuthToken) (bool, error) {
	if rec.AuthorizationID == nil {
		return true, nil
	}
	a, err := e.repo.FindAuthorization(ctx, *rec.AuthorizationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return a.Status == string(domain.AuthorizationStatusValid), nil
}

func (e *Engine) stampCurrent(ctx context.Context, subject, stamp string) (bool, error) {
	if stamp == "" || e.stamps == nil {
		return true, nil
	}
	current, err := e.stamps.CurrentStamp(ctx, subject)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return current == stamp, nil
}

// Lookup finds the stored record of an access JWT or an opaque value
// without changing it.
func (e *Engine) Lookup(ctx context.Context, value string) (*models.OAuthToken, error) {
	if IsJWT(value) {
		var claims AccessClaims
		if err := e.keys.Parse(e.Now(), value, &claims, jwt.WithoutClaimsValidation()); err != nil || claims.ID == "" {
			return nil, domain.ErrNotFound
		}
		return e.repo.FindTokenByID(ctx, claims.ID)
	}
	return e.repo.FindTokenByHash(ctx, Sha256Hex(value))
}

// Revoke invalidates any token. Unknown and already terminal tokens are
// not an error.
func (e *Engine) Revoke(ctx context.Context, value string, now time.Time) error {
	rec, err := e.Lookup(ctx, value)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	_, err = e.repo.TransitionTokenStatus(ctx, rec.ID, domain.TokenStatusValid, domain.TokenStatusRevoked, now)
	return err
}

// RevokeRecord revokes a token the caller already holds.
func (e *Engine) RevokeRecord(ctx context.Context, rec *models.OAuthToken, now time.Time) error {
	_, err := e.repo.TransitionTokenStatus(ctx, rec.ID, domain.TokenStatusValid, domain.TokenStatusRevoked, now)
	return err
}
