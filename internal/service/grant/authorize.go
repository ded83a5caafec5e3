package grant

import (
	"context"
	"errors"
	"fmt"

	"github.com/Skotchmaster/identity/internal/domain"
	"github.com/Skotchmaster/identity/internal/logging"
	"github.com/Skotchmaster/identity/internal/models"
	"github.com/Skotchmaster/identity/internal/service/clients"
)

const ResponseTypeCode = "code"

type AuthorizeRequest struct {
	ResponseType string
	ClientID     string
	RedirectURI  string
	Scope        string
	State        string
}

type AuthorizeResult struct {
	Code        string
	RedirectURI string
	State       string
	Scope       string
}

// ValidateAuthorize resolves the client and checks the redirect target of
// an authorization request. Errors from here must not be sent to the
// redirect URI.
func (s *Service) ValidateAuthorize(ctx context.Context, req AuthorizeRequest) (*models.Application, error) {
	if req.ClientID == "" {
		return nil, fmt.Errorf("%w: client_id is missing", domain.ErrInvalidRequest)
	}
	app, err := readRetry(ctx, "find_client", func() (*models.Application, error) {
		return s.Clients.FindByClientID(ctx, req.ClientID)
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown client", domain.ErrInvalidClient)
		}
		return nil, err
	}
	if !clients.IsRedirectURIAllowed(app, req.RedirectURI) {
		return nil, domain.ErrInvalidRedirectURI
	}
	return app, nil
}

// Authorize issues an authorization code for subject, who has already
// signed in.
func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest, subject string) (*AuthorizeResult, error) {
	l := logging.FromContext(ctx).With("svc", "grant.authorize", "client_id", req.ClientID)

	app, err := s.ValidateAuthorize(ctx, req)
	if err != nil {
		l.Warn("authorize_rejected", "reason", domain.OAuthCode(err), "error", err)
		return nil, err
	}
	if req.ResponseType != ResponseTypeCode {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedResponseType, req.ResponseType)
	}
	if !clients.IsFlowAllowed(app, domain.FlowAuthorizationCode) {
		return nil, fmt.Errorf("%w: authorization_code is not allowed for this client", domain.ErrUnauthorizedClient)
	}
	if subject == "" {
		return nil, domain.ErrLoginRequired
	}
	scopes := domain.ParseScope(req.Scope)
	if err := s.Ledger.ValidateScopes(ctx, scopes); err != nil {
		return nil, err
	}

	now := s.Tokens.Now()
	authz, err := s.Ledger.Create(ctx, subject, app, scopes)
	if err != nil {
		return nil, err
	}
	code, err := s.Tokens.IssueAuthorizationCode(ctx, authz, req.RedirectURI, now)
	if err != nil {
		return nil, err
	}
	s.Metrics.TokenIssued(string(domain.FlowAuthorizationCode), string(domain.TokenTypeAuthorizationCode))
	l.Info("authorization_code_issued", "subject", subject, "authorization_id", authz.ID)
	return &AuthorizeResult{
		Code:        code.Value,
		RedirectURI: req.RedirectURI,
		State:       req.State,
		Scope:       authz.Scope,
	}, nil
}
