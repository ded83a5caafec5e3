package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/identity/internal/domain"
	"github.com/Skotchmaster/identity/internal/service/token"
)

type stamps map[string]string

func (s stamps) CurrentStamp(_ context.Context, subject string) (string, error) {
	v, ok := s[subject]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

type fakeValidator struct {
	results map[string]token.Validation
}

func (f fakeValidator) ValidateAccessToken(_ context.Context, raw string) (token.Validation, error) {
	if v, ok := f.results[raw]; ok {
		return v, nil
	}
	return token.Validation{Status: token.StatusMalformed}, nil
}

func testKeys(t *testing.T) *token.Keyring {
	t.Helper()
	k, err := token.NewKeyring(map[string][]byte{"k1": []byte("session-secret")}, "k1")
	require.NoError(t, err)
	return k
}

func TestSessions_IssueAndSubject(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	st := stamps{"alice": "s1"}
	s := NewSessions(testKeys(t), st, time.Hour, func() time.Time { return now })
	ctx := context.Background()

	raw, exp, err := s.Issue("alice", "s1")
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), exp)

	sub, err := s.Subject(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)

	st["alice"] = "s2"
	_, err = s.Subject(ctx, raw)
	assert.ErrorIs(t, err, errInvalidSession)

	st["alice"] = "s1"
	now = now.Add(2 * time.Hour)
	_, err = s.Subject(ctx, raw)
	assert.ErrorIs(t, err, errInvalidSession)

	_, err = s.Subject(ctx, "garbage")
	assert.ErrorIs(t, err, errInvalidSession)
}

func TestSessions_Load(t *testing.T) {
	t.Parallel()

	s := NewSessions(testKeys(t), stamps{"alice": "s1"}, 0, nil)
	raw, _, err := s.Issue("alice", "s1")
	require.NoError(t, err)

	e := echo.New()
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, SubjectFrom(c))
	}, s.Load)

	tests := []struct {
		name       string
		cookie     string
		wantBody   string
		wantDelete bool
	}{
		{name: "no cookie"},
		{name: "valid", cookie: raw, wantBody: "alice"},
		{name: "tampered", cookie: raw + "x", wantDelete: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: SessionCookie, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.wantBody, rec.Body.String())
			if tt.wantDelete {
				assert.Contains(t, rec.Header().Get("Set-Cookie"), SessionCookie+"=;")
			} else {
				assert.Empty(t, rec.Header().Get("Set-Cookie"))
			}
		})
	}
}

func TestRequireBearer(t *testing.T) {
	t.Parallel()

	claims := &token.AccessClaims{ClientID: "mvc"}
	claims.Subject = "alice"
	v := fakeValidator{results: map[string]token.Validation{
		"good":    {Status: token.StatusValid, Claims: claims},
		"revoked": {Status: token.StatusRevoked},
	}}

	e := echo.New()
	e.GET("/me", func(c echo.Context) error {
		return c.String(http.StatusOK, SubjectFrom(c)+"/"+ClaimsFrom(c).ClientID)
	}, RequireBearer(v))

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantBody string
	}{
		{name: "missing", wantCode: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", wantCode: http.StatusUnauthorized},
		{name: "revoked", header: "Bearer revoked", wantCode: http.StatusUnauthorized},
		{name: "valid", header: "Bearer good", wantCode: http.StatusOK, wantBody: "alice/mvc"},
		{name: "lower case scheme", header: "bearer good", wantCode: http.StatusOK, wantBody: "alice/mvc"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
			if tt.wantCode == http.StatusUnauthorized {
				assert.Contains(t, rec.Header().Get(echo.HeaderWWWAuthenticate), "Bearer")
			}
		})
	}
}
