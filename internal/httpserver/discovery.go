package httpserver

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/identity/internal/domain"
)

type discoveryDocument struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	EndSessionEndpoint                string   `json:"end_session_endpoint"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	SigningAlgValuesSupported         []string `json:"id_token_signing_alg_values_supported"`
}

func (s *Server) Discovery(c echo.Context) error {
	base := strings.TrimRight(s.d.Issuer, "/")
	if base == "" {
		base = c.Scheme() + "://" + c.Request().Host
	}

	scopes, err := s.d.Ledger.Scopes(c.Request().Context())
	if err != nil {
		return writeOAuthError(c, "discovery", err)
	}
	names := make([]string, 0, len(scopes))
	for _, sc := range scopes {
		names = append(names, sc.Name)
	}

	return c.JSON(http.StatusOK, discoveryDocument{
		Issuer:                base,
		AuthorizationEndpoint: base + "/connect/authorize",
		TokenEndpoint:         base + "/connect/token",
		UserinfoEndpoint:      base + "/api/userinfo",
		RevocationEndpoint:    base + "/connect/revoke",
		IntrospectionEndpoint: base + "/connect/introspect",
		EndSessionEndpoint:    base + "/connect/logout",
		GrantTypesSupported: []string{
			string(domain.FlowAuthorizationCode),
			string(domain.FlowPassword),
			string(domain.FlowRefreshToken),
			string(domain.FlowClientCredentials),
		},
		ResponseTypesSupported:            []string{"code"},
		ScopesSupported:                   names,
		SubjectTypesSupported:             []string{"public"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "none"},
		SigningAlgValuesSupported:         []string{"HS256"},
	})
}
