package grant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Skotchmaster/identity/internal/domain"
	"github.com/Skotchmaster/identity/internal/events"
	"github.com/Skotchmaster/identity/internal/logging"
	"github.com/Skotchmaster/identity/internal/metrics"
	"github.com/Skotchmaster/identity/internal/models"
	"github.com/Skotchmaster/identity/internal/service/clients"
	"github.com/Skotchmaster/identity/internal/service/token"
)

const TokenTypeBearer = "bearer"

type Users interface {
	SignIn(ctx context.Context, userName, password string, now time.Time) (*models.User, error)
	CurrentStamp(ctx context.Context, subject string) (string, error)
}

type Clients interface {
	Authenticate(ctx context.Context, clientID, secret string) (*models.Application, error)
	FindByClientID(ctx context.Context, clientID string) (*models.Application, error)
}

type Ledger interface {
	Create(ctx context.Context, subject string, app *models.Application, scopes []string) (*models.Authorization, error)
	CreateForClient(ctx context.Context, app *models.Application, scopes []string) (*models.Authorization, error)
	Find(ctx context.Context, id uint) (*models.Authorization, error)
	ValidateScopes(ctx context.Context, requested []string) error
}

type Tokens interface {
	Now() time.Time
	AccessLifetime() time.Duration
	IssueAuthorizationCode(ctx context.Context, authz *models.Authorization, redirectURI string, now time.Time) (*token.Issued, error)
	IssueAccessToken(ctx context.Context, authz *models.Authorization, clientID, stamp string, now time.Time) (*token.Issued, error)
	IssueRefreshToken(ctx context.Context, authz *models.Authorization, stamp string, now time.Time) (*token.Issued, error)
	RedeemAuthorizationCode(ctx context.Context, code string, now time.Time, checks ...token.Check) (*models.OAuthToken, error)
	RedeemRefreshToken(ctx context.Context, value string, now time.Time, checks ...token.Check) (*models.OAuthToken, error)
	RevokeRecord(ctx context.Context, rec *models.OAuthToken, now time.Time) error
}

// Request carries the form fields of a token request.
type Request struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
	Username     string
	Password     string
	RefreshToken string
	Scope        string
}

type Response struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

type handlerFunc func(ctx context.Context, req Request, now time.Time) (*Response, error)

type Service struct {
	Users   Users
	Clients Clients
	Ledger  Ledger
	Tokens  Tokens
	Events  events.Publisher
	Metrics *metrics.Metrics

	handlers map[domain.Flow]handlerFunc
}

func New(users Users, clients Clients, ledger Ledger, tokens Tokens, pub events.Publisher, m *metrics.Metrics) *Service {
	s := &Service{
		Users:   users,
		Clients: clients,
		Ledger:  ledger,
		Tokens:  tokens,
		Events:  pub,
		Metrics: m,
	}
	s.handlers = map[domain.Flow]handlerFunc{
		domain.FlowAuthorizationCode: s.authorizationCode,
		domain.FlowPassword:          s.password,
		domain.FlowRefreshToken:      s.refreshToken,
		domain.FlowClientCredentials: s.clientCredentials,
	}
	return s
}

// Token answers a token endpoint request. The clock is read once.
func (s *Service) Token(ctx context.Context, req Request) (*Response, error) {
	l := logging.FromContext(ctx).With("svc", "grant.token", "grant_type", req.GrantType, "client_id", req.ClientID)

	if req.GrantType == "" {
		return nil, fmt.Errorf("%w: grant_type is missing", domain.ErrInvalidRequest)
	}
	h, ok := s.handlers[domain.Flow(req.GrantType)]
	if !ok {
		s.Metrics.GrantFailed(req.GrantType, domain.OAuthCode(domain.ErrUnsupportedGrantType))
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedGrantType, req.GrantType)
	}

	now := s.Tokens.Now()
	resp, err := h(ctx, req, now)
	if err != nil {
		code := domain.OAuthCode(err)
		s.Metrics.GrantFailed(req.GrantType, code)
		if code == "server_error" || code == "temporarily_unavailable" {
			l.Error("token_request_failed", "status", domain.HTTPStatus(err), "reason", code, "error", err)
		} else {
			l.Warn("token_request_rejected", "status", domain.HTTPStatus(err), "reason", code, "error", err)
		}
		return nil, err
	}
	l.Info("token_issued")
	return resp, nil
}

// readRetry retries an idempotent read once when storage is unavailable.
func readRetry[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	v, err := fn()
	if errors.Is(err, domain.ErrStorageUnavailable) {
		logging.FromContext(ctx).Warn("storage_retry", "op", op, "error", err)
		v, err = fn()
	}
	return v, err
}

func (s *Service) authenticate(ctx context.Context, req Request, flow domain.Flow) (*models.Application, error) {
	app, err := readRetry(ctx, "authenticate_client", func() (*models.Application, error) {
		return s.Clients.Authenticate(ctx, req.ClientID, req.ClientSecret)
	})
	if err != nil {
		return nil, err
	}
	if !clients.IsFlowAllowed(app, flow) {
		return nil, fmt.Errorf("%w: %s is not allowed for this client", domain.ErrUnauthorizedClient, flow)
	}
	return app, nil
}

func sameApplication(rec *models.OAuthToken, app *models.Application) bool {
	return rec.ApplicationID != nil && *rec.ApplicationID == app.ID
}

func (s *Service) authorizationCode(ctx context.Context, req Request, now time.Time) (*Response, error) {
	app, err := s.authenticate(ctx, req, domain.FlowAuthorizationCode)
	if err != nil {
		return nil, err
	}

	rec, err := s.Tokens.RedeemAuthorizationCode(ctx, req.Code, now, func(rec *models.OAuthToken) error {
		if !sameApplication(rec, app) {
			return fmt.Errorf("%w: code was issued to another client", domain.ErrInvalidGrant)
		}
		if rec.RedirectURI != req.RedirectURI {
			return fmt.Errorf("%w: redirect_uri does not match the authorization request", domain.ErrInvalidGrant)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	authz, err := s.liveAuthorization(ctx, rec)
	if err != nil {
		return nil, err
	}
	stamp, err := readRetry(ctx, "current_stamp", func() (string, error) {
		return s.Users.CurrentStamp(ctx, authz.Subject)
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: user no longer exists", domain.ErrInvalidGrant)
		}
		return nil, err
	}
	return s.issuePair(ctx, domain.FlowAuthorizationCode, authz, app, stamp, now)
}

func (s *Service) password(ctx context.Context, req Request, now time.Time) (*Response, error) {
	app, err := s.authenticate(ctx, req, domain.FlowPassword)
	if err != nil {
		return nil, err
	}
	scopes := domain.ParseScope(req.Scope)
	if err := s.Ledger.ValidateScopes(ctx, scopes); err != nil {
		return nil, err
	}

	user, err := s.Users.SignIn(ctx, req.Username, req.Password, now)
	if err != nil {
		return nil, err
	}

	authz, err := s.Ledger.Create(ctx, user.UserName, app, scopes)
	if err != nil {
		return nil, err
	}
	return s.issuePair(ctx, domain.FlowPassword, authz, app, user.SecurityStamp, now)
}

func (s *Service) refreshToken(ctx context.Context, req Request, now time.Time) (*Response, error) {
	app, err := s.authenticate(ctx, req, domain.FlowRefreshToken)
	if err != nil {
		return nil, err
	}
	requested := domain.ParseScope(req.Scope)

	rec, err := s.Tokens.RedeemRefreshToken(ctx, req.RefreshToken, now, func(rec *models.OAuthToken) error {
		if !sameApplication(rec, app) {
			return fmt.Errorf("%w: refresh token was issued to another client", domain.ErrInvalidGrant)
		}
		if !subset(requested, domain.ParseScope(rec.Scope)) {
			return fmt.Errorf("%w: scope exceeds the original grant", domain.ErrInvalidScope)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	authz, err := s.liveAuthorization(ctx, rec)
	if err != nil {
		return nil, err
	}
	if len(requested) > 0 {
		narrowed := *authz
		narrowed.Scope = domain.JoinScope(requested)
		authz = &narrowed
	}
	return s.issuePair(ctx, domain.FlowRefreshToken, authz, app, rec.SecurityStamp, now)
}

func (s *Service) clientCredentials(ctx context.Context, req Request, now time.Time) (*Response, error) {
	if req.ClientSecret == "" {
		return nil, fmt.Errorf("%w: client_credentials requires a client secret", domain.ErrInvalidClient)
	}
	app, err := s.authenticate(ctx, req, domain.FlowClientCredentials)
	if err != nil {
		return nil, err
	}
	if app.Type != string(domain.ClientConfidential) {
		return nil, fmt.Errorf("%w: public clients cannot use client_credentials", domain.ErrUnauthorizedClient)
	}
	scopes := domain.ParseScope(req.Scope)
	if err := s.Ledger.ValidateScopes(ctx, scopes); err != nil {
		return nil, err
	}

	authz, err := s.Ledger.CreateForClient(ctx, app, scopes)
	if err != nil {
		return nil, err
	}
	at, err := s.Tokens.IssueAccessToken(ctx, authz, app.ClientID, "", now)
	if err != nil {
		return nil, err
	}
	s.issued(ctx, domain.FlowClientCredentials, authz, app, domain.TokenTypeAccess)
	return &Response{
		AccessToken: at.Value,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int64(s.Tokens.AccessLifetime().Seconds()),
		Scope:       authz.Scope,
	}, nil
}

func (s *Service) liveAuthorization(ctx context.Context, rec *models.OAuthToken) (*models.Authorization, error) {
	if rec.AuthorizationID == nil {
		return nil, fmt.Errorf("%w: token has no authorization", domain.ErrInvalidGrant)
	}
	authz, err := readRetry(ctx, "find_authorization", func() (*models.Authorization, error) {
		return s.Ledger.Find(ctx, *rec.AuthorizationID)
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: authorization not found", domain.ErrInvalidGrant)
		}
		return nil, err
	}
	if authz.Status != string(domain.AuthorizationStatusValid) {
		return nil, fmt.Errorf("%w: authorization revoked", domain.ErrInvalidGrant)
	}
	return authz, nil
}

// issuePair mints an access and a refresh token. If the refresh token
// cannot be stored the access token is revoked again, so callers never
// hold half a pair.
func (s *Service) issuePair(ctx context.Context, flow domain.Flow, authz *models.Authorization, app *models.Application, stamp string, now time.Time) (*Response, error) {
	at, err := s.Tokens.IssueAccessToken(ctx, authz, app.ClientID, stamp, now)
	if err != nil {
		return nil, err
	}
	rt, err := s.Tokens.IssueRefreshToken(ctx, authz, stamp, now)
	if err != nil {
		if rerr := s.Tokens.RevokeRecord(ctx, at.Record, now); rerr != nil {
			logging.FromContext(ctx).Error("revoke_orphan_access_token_failed", "token_id", at.Record.ID, "error", rerr)
		}
		return nil, err
	}

	s.issued(ctx, flow, authz, app, domain.TokenTypeAccess, domain.TokenTypeRefresh)
	return &Response{
		AccessToken:  at.Value,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    int64(at.ExpiresAt.Sub(now).Seconds()),
		RefreshToken: rt.Value,
		Scope:        authz.Scope,
	}, nil
}

func (s *Service) issued(ctx context.Context, flow domain.Flow, authz *models.Authorization, app *models.Application, types ...domain.TokenType) {
	names := make([]string, 0, len(types))
	for _, t := range types {
		s.Metrics.TokenIssued(string(flow), string(t))
		names = append(names, string(t))
	}
	events.Emit(ctx, s.Events, events.Event{
		Type:            events.TypeTokenIssued,
		Subject:         authz.Subject,
		ClientID:        app.ClientID,
		AuthorizationID: authz.ID,
		Data:            map[string]any{"grant_type": string(flow), "token_types": names},
	})
}

func subset(requested, granted []string) bool {
	have := make(map[string]struct{}, len(granted))
	for _, g := range granted {
		have[g] = struct{}{}
	}
	for _, r := range requested {
		if _, ok := have[r]; !ok {
			return false
		}
	}
	return true
}
