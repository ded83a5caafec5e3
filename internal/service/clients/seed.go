package clients

import (
	"context"
	"errors"

	"github.com/Skotchmaster/identity/internal/domain"
	"github.com/Skotchmaster/identity/internal/logging"
)

// Defaults are the clients a fresh installation starts with. The mvc
// secret is filled in by Seed.
func Defaults(mvcSecret string) []Registration {
	return []Registration{
		{
			ClientID:          "mvc",
			ClientSecret:      mvcSecret,
			DisplayName:       "MVC client application",
			RedirectURI:       "http://localhost:52191/signin-oidc",
			LogoutRedirectURI: "http://localhost:52191/",
		},
		{
			ClientID:    "postman",
			DisplayName: "Postman",
			RedirectURI: "https://www.getpostman.com/oauth2/callback",
		},
		{
			ClientID:          "angular2",
			DisplayName:       "Angular2",
			RedirectURI:       "http://localhost:52323",
			LogoutRedirectURI: "http://localhost:52323",
		},
	}
}

// Seed registers every default client that does not exist yet and returns
// the ids it created.
func (s *Service) Seed(ctx context.Context, regs []Registration) ([]string, error) {
	l := logging.FromContext(ctx).With("svc", "clients.seed")

	var created []string
	for _, reg := range regs {
		_, err := s.Repo.FindApplicationByClientID(ctx, reg.ClientID)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return created, err
		}
		if _, err := s.Register(ctx, reg); err != nil {
			if errors.Is(err, domain.ErrDuplicateClientID) {
				continue
			}
			return created, err
		}
		created = append(created, reg.ClientID)
	}
	if len(created) > 0 {
		l.Info("clients_seeded", "client_ids", created)
	}
	return created, nil
}
