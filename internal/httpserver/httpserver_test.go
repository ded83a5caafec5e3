package httpserver_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/identity/internal/app"
	"github.com/Skotchmaster/identity/internal/config"
	"github.com/Skotchmaster/identity/internal/events"
	"github.com/Skotchmaster/identity/internal/middleware/auth"
	"github.com/Skotchmaster/identity/internal/models"
	"github.com/Skotchmaster/identity/internal/service/identity"
)

const (
	mvcSecret   = "test-mvc-secret"
	mvcRedirect = "http://localhost:52191/signin-oidc"
)

func newTestApp(t *testing.T) *app.App {
	t.Helper()

	cfg := config.Config{
		ServiceName:        "identity",
		DatabaseURL:        "sqlite::memory:",
		Issuer:             "http://id.test",
		SigningKeys:        map[string][]byte{"k1": []byte("http-test-secret")},
		ActiveKeyID:        "k1",
		AccessTokenTTL:     time.Hour,
		RefreshTokenTTL:    24 * time.Hour,
		AuthCodeTTL:        5 * time.Minute,
		LockoutMaxAttempts: 5,
		LockoutDuration:    5 * time.Minute,
		MVCClientSecret:    mvcSecret,
		SeedClients:        true,
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	a, err := app.Build(context.Background(), cfg, logger, app.Options{Publisher: events.NewRecorder()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, err = a.Users.CreateUser(context.Background(), identity.NewUser{UserName: "alice", Email: "alice@example.com", Password: "correct-pw"})
	require.NoError(t, err)
	return a
}

func do(t *testing.T, e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func postForm(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func passwordForm(user, pw string) url.Values {
	return url.Values{
		"grant_type":    {"password"},
		"client_id":     {"mvc"},
		"client_secret": {mvcSecret},
		"username":      {user},
		"password":      {pw},
		"scope":         {"openid profile email offline_access"},
	}
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)

	for _, path := range []string{"/health/live", "/health/ready"} {
		rec := do(t, a.Echo, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := do(t, a.Echo, postForm("/connect/token", passwordForm("alice", "correct-pw")))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, a.Echo, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "identity_tokens_issued_total")
}

func TestDiscovery(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	rec := do(t, a.Echo, httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	doc := decode(t, rec)
	assert.Equal(t, "http://id.test", doc["issuer"])
	assert.Equal(t, "http://id.test/connect/token", doc["token_endpoint"])
	assert.Contains(t, doc["scopes_supported"], "openid")
	assert.Contains(t, doc["grant_types_supported"], "refresh_token")
}

func TestTokenEndpoint_PasswordAndUserInfo(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)

	rec := do(t, a.Echo, postForm("/connect/token", passwordForm("alice", "correct-pw")))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get(echo.HeaderCacheControl))

	body := decode(t, rec)
	assert.Equal(t, "bearer", body["token_type"])
	assert.EqualValues(t, 3600, body["expires_in"])
	assert.NotEmpty(t, body["refresh_token"])
	access := body["access_token"].(string)

	req := httptest.NewRequest(http.MethodGet, "/api/userinfo", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+access)
	rec = do(t, a.Echo, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	info := decode(t, rec)
	assert.Equal(t, "alice", info["sub"])
	assert.Equal(t, "alice@example.com", info["email"])
	assert.Equal(t, "alice", info["preferred_username"])

	rec = do(t, a.Echo, httptest.NewRequest(http.MethodGet, "/api/userinfo", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUserInfo_ClientTokenNamedLikeAUser(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodPost, "/account/register", strings.NewReader(`{"username":"mvc","email":"mvc@example.com","password":"Pass123$"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := do(t, a.Echo, req)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	// A row that predates the name check.
	require.NoError(t, a.Repo.CreateUser(ctx, &models.User{
		UserName:           "mvc",
		NormalizedUserName: "MVC",
		Email:              "mvc@example.com",
		SecurityStamp:      "s",
		ConcurrencyStamp:   "c",
	}))

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"mvc"},
		"client_secret": {mvcSecret},
		"scope":         {"profile email"},
	}
	rec = do(t, a.Echo, postForm("/connect/token", form))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	access := decode(t, rec)["access_token"].(string)

	req = httptest.NewRequest(http.MethodGet, "/api/userinfo", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+access)
	rec = do(t, a.Echo, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]any{"sub": "mvc"}, decode(t, rec))
}

func TestTokenEndpoint_Errors(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)

	wrongSecret := passwordForm("alice", "correct-pw")
	wrongSecret.Set("client_secret", "nope")

	unsupported := passwordForm("alice", "correct-pw")
	unsupported.Set("grant_type", "implicit")

	tests := []struct {
		name       string
		form       url.Values
		wantStatus int
		wantError  string
	}{
		{name: "wrong password", form: passwordForm("alice", "wrong-pw"), wantStatus: http.StatusBadRequest, wantError: "invalid_grant"},
		{name: "wrong client secret", form: wrongSecret, wantStatus: http.StatusUnauthorized, wantError: "invalid_client"},
		{name: "unsupported grant type", form: unsupported, wantStatus: http.StatusBadRequest, wantError: "unsupported_grant_type"},
		{name: "no grant type", form: url.Values{"client_id": {"mvc"}}, wantStatus: http.StatusBadRequest, wantError: "invalid_request"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, a.Echo, postForm("/connect/token", tt.form))
			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, tt.wantError, body["error"])
			assert.NotEmpty(t, body["error_description"])
		})
	}
}

func TestTokenEndpoint_BasicClientAuth(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)

	form := url.Values{"grant_type": {"client_credentials"}, "scope": {"profile"}}
	req := postForm("/connect/token", form)
	req.SetBasicAuth("mvc", mvcSecret)
	rec := do(t, a.Echo, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.NotContains(t, body, "refresh_token")

	req = postForm("/connect/token", form)
	req.SetBasicAuth("mvc", "wrong")
	rec = do(t, a.Echo, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderWWWAuthenticate))
}

func authorizeURL(redirect, state string) string {
	q := url.Values{
		"response_type": {"code"},
		"client_id":     {"mvc"},
		"redirect_uri":  {redirect},
		"scope":         {"openid offline_access"},
		"state":         {state},
	}
	return "/connect/authorize?" + q.Encode()
}

func login(t *testing.T, a *app.App) *http.Cookie {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/account/login", strings.NewReader(`{"username":"alice","password":"correct-pw"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := do(t, a.Echo, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie")
	return nil
}

func TestAuthorizeCodeFlow(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)

	rec := do(t, a.Echo, httptest.NewRequest(http.MethodGet, authorizeURL(mvcRedirect, "s1"), nil))
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get(echo.HeaderLocation))
	require.NoError(t, err)
	assert.Equal(t, "login_required", loc.Query().Get("error"))
	assert.Equal(t, "s1", loc.Query().Get("state"))

	rec = do(t, a.Echo, httptest.NewRequest(http.MethodGet, authorizeURL(mvcRedirect+"/", "s1"), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decode(t, rec)["error"])
	assert.Empty(t, rec.Header().Get(echo.HeaderLocation))

	session := login(t, a)
	req := httptest.NewRequest(http.MethodGet, authorizeURL(mvcRedirect, "s2"), nil)
	req.AddCookie(session)
	rec = do(t, a.Echo, req)
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err = url.Parse(rec.Header().Get(echo.HeaderLocation))
	require.NoError(t, err)
	assert.Equal(t, "localhost:52191", loc.Host)
	assert.Equal(t, "s2", loc.Query().Get("state"))
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	exchange := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {"mvc"},
		"client_secret": {mvcSecret},
		"code":          {code},
		"redirect_uri":  {mvcRedirect},
	}
	rec = do(t, a.Echo, postForm("/connect/token", exchange))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode(t, rec)["refresh_token"])

	rec = do(t, a.Echo, postForm("/connect/token", exchange))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", decode(t, rec)["error"])
}

func TestRevokeAndIntrospect(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)

	rec := do(t, a.Echo, postForm("/connect/token", passwordForm("alice", "correct-pw")))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	access := body["access_token"].(string)
	refresh := body["refresh_token"].(string)

	creds := func(v url.Values) url.Values {
		v.Set("client_id", "mvc")
		v.Set("client_secret", mvcSecret)
		return v
	}

	rec = do(t, a.Echo, postForm("/connect/introspect", creds(url.Values{"token": {access}})))
	require.Equal(t, http.StatusOK, rec.Code)
	in := decode(t, rec)
	assert.Equal(t, true, in["active"])
	assert.Equal(t, "alice", in["sub"])
	assert.Equal(t, "mvc", in["client_id"])

	rec = do(t, a.Echo, postForm("/connect/introspect", creds(url.Values{"token": {refresh}})))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "refresh_token", decode(t, rec)["token_type"])

	rec = do(t, a.Echo, postForm("/connect/revoke", url.Values{"client_id": {"postman"}, "token": {access}}))
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, a.Echo, postForm("/connect/introspect", creds(url.Values{"token": {access}})))
	assert.Equal(t, true, decode(t, rec)["active"])

	rec = do(t, a.Echo, postForm("/connect/revoke", creds(url.Values{"token": {access}})))
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, a.Echo, postForm("/connect/revoke", creds(url.Values{"token": {"unknown-token"}})))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, a.Echo, postForm("/connect/introspect", creds(url.Values{"token": {access}})))
	assert.Equal(t, false, decode(t, rec)["active"])

	req := httptest.NewRequest(http.MethodGet, "/api/userinfo", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+access)
	rec = do(t, a.Echo, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, a.Echo, postForm("/connect/introspect", url.Values{"token": {access}}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAccountRegisterAndLogin(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)

	register := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/account/register", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		return do(t, a.Echo, req)
	}

	rec := register(`{"username":"carol","email":"carol@example.com","password":"Pass123$"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "carol", decode(t, rec)["user_name"])

	rec = register(`{"username":"CAROL","password":"x"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = register(`{"username":"dave"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/account/login", strings.NewReader(`{"username":"carol","password":"bad"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = do(t, a.Echo, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	form := url.Values{"username": {"carol"}, "password": {"Pass123$"}, "return_url": {"/connect/authorize?client_id=mvc"}}
	rec = do(t, a.Echo, postForm("/account/login", form))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/connect/authorize?client_id=mvc", rec.Header().Get(echo.HeaderLocation))

	form.Set("return_url", "https://evil.example")
	rec = do(t, a.Echo, postForm("/account/login", form))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogout(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)

	tests := []struct {
		name       string
		query      string
		wantStatus int
	}{
		{name: "registered uri", query: "post_logout_redirect_uri=" + url.QueryEscape("http://localhost:52191/"), wantStatus: http.StatusFound},
		{name: "registered uri with client", query: "client_id=angular2&post_logout_redirect_uri=" + url.QueryEscape("http://localhost:52323"), wantStatus: http.StatusFound},
		{name: "uri of another client", query: "client_id=mvc&post_logout_redirect_uri=" + url.QueryEscape("http://localhost:52323"), wantStatus: http.StatusOK},
		{name: "unregistered uri", query: "post_logout_redirect_uri=" + url.QueryEscape("https://evil.example/"), wantStatus: http.StatusOK},
		{name: "no redirect", wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, a.Echo, httptest.NewRequest(http.MethodGet, "/connect/logout?"+tt.query, nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Header().Get("Set-Cookie"), auth.SessionCookie+"=;")
		})
	}
}
