package clients

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/identity/internal/domain"
	"github.com/Skotchmaster/identity/internal/events"
	"github.com/Skotchmaster/identity/internal/models"
	"github.com/Skotchmaster/identity/internal/repo/repotest"
)

const mvcSecret = "901564A5-E7FE-42CB-B10D-61EF6A8F3654"

func TestService_Seed_CreatesDefaultsOnce(t *testing.T) {
	t.Parallel()

	rec := events.NewRecorder()
	svc := New(repotest.New(t), rec)
	ctx := context.Background()

	created, err := svc.Seed(ctx, Defaults(mvcSecret))
	require.NoError(t, err)
	assert.Equal(t, []string{"mvc", "postman", "angular2"}, created)

	created, err = svc.Seed(ctx, Defaults(mvcSecret))
	require.NoError(t, err)
	assert.Empty(t, created)

	mvc, err := svc.FindByClientID(ctx, "mvc")
	require.NoError(t, err)
	assert.Equal(t, string(domain.ClientConfidential), mvc.Type)
	assert.NotEqual(t, mvcSecret, mvc.ClientSecret)
	assert.True(t, IsFlowAllowed(mvc, domain.FlowClientCredentials))

	postman, err := svc.FindByClientID(ctx, "postman")
	require.NoError(t, err)
	assert.True(t, IsPublic(postman))
	assert.Empty(t, postman.ClientSecret)
	assert.False(t, IsFlowAllowed(postman, domain.FlowClientCredentials))
	assert.True(t, IsFlowAllowed(postman, domain.FlowPassword))

	all, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Len(t, rec.Events(), 3)
}

func TestService_Register_Duplicate(t *testing.T) {
	t.Parallel()

	svc := New(repotest.New(t), nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, Registration{ClientID: "spa"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, Registration{ClientID: "spa", ClientSecret: "x"})
	assert.ErrorIs(t, err, domain.ErrDuplicateClientID)

	_, err = svc.Register(ctx, Registration{ClientID: " "})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = svc.Register(ctx, Registration{ClientID: "bad", Flows: []domain.Flow{domain.FlowClientCredentials}})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = svc.FindByClientID(ctx, "unknown")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_Register_RejectsUserName(t *testing.T) {
	t.Parallel()

	r := repotest.New(t)
	svc := New(r, nil)
	ctx := context.Background()

	require.NoError(t, r.CreateUser(ctx, &models.User{UserName: "svc", NormalizedUserName: "SVC", SecurityStamp: "s", ConcurrencyStamp: "c"}))

	_, err := svc.Register(ctx, Registration{ClientID: "Svc", ClientSecret: "secret", Flows: []domain.Flow{domain.FlowClientCredentials}})
	assert.ErrorIs(t, err, domain.ErrDuplicateClientID)
	_, err = svc.FindByClientID(ctx, "Svc")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	created, err := svc.Seed(ctx, []Registration{{ClientID: "svc"}, {ClientID: "batch"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"batch"}, created)
}

func TestService_Authenticate(t *testing.T) {
	t.Parallel()

	svc := New(repotest.New(t), nil)
	ctx := context.Background()
	_, err := svc.Seed(ctx, Defaults(mvcSecret))
	require.NoError(t, err)

	tests := []struct {
		name     string
		clientID string
		secret   string
		wantErr  bool
	}{
		{name: "confidential with secret", clientID: "mvc", secret: mvcSecret},
		{name: "confidential wrong secret", clientID: "mvc", secret: "nope", wantErr: true},
		{name: "confidential without secret", clientID: "mvc", wantErr: true},
		{name: "public without secret", clientID: "postman"},
		{name: "public presenting secret", clientID: "postman", secret: "x", wantErr: true},
		{name: "unknown client", clientID: "ghost", wantErr: true},
		{name: "missing client", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			app, err := svc.Authenticate(ctx, tt.clientID, tt.secret)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidClient)
				assert.Nil(t, app)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.clientID, app.ClientID)
		})
	}
}

func TestIsRedirectURIAllowed_ExactMatch(t *testing.T) {
	t.Parallel()

	app := &models.Application{
		RedirectURI:       "http://localhost:52191/signin-oidc",
		LogoutRedirectURI: "http://localhost:52191/",
	}

	tests := []struct {
		uri  string
		want bool
	}{
		{uri: "http://localhost:52191/signin-oidc", want: true},
		{uri: "http://localhost:52191/signin-oidc/", want: false},
		{uri: "http://localhost:52191/signin-oidc?x=1", want: false},
		{uri: "HTTP://localhost:52191/signin-oidc", want: false},
		{uri: "", want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRedirectURIAllowed(app, tt.uri), tt.uri)
	}

	assert.True(t, IsLogoutRedirectURIAllowed(app, "http://localhost:52191/"))
	assert.False(t, IsLogoutRedirectURIAllowed(app, "http://localhost:52191"))
}

func TestVerifyClientSecret_PublicAlwaysFalse(t *testing.T) {
	t.Parallel()

	svc := New(repotest.New(t), nil)
	ctx := context.Background()
	app, err := svc.Register(ctx, Registration{ClientID: "svc", ClientSecret: "s3cret"})
	require.NoError(t, err)
	assert.True(t, VerifyClientSecret(app, "s3cret"))
	assert.False(t, VerifyClientSecret(app, "other"))

	pub, err := svc.Register(ctx, Registration{ClientID: "spa"})
	require.NoError(t, err)
	assert.False(t, VerifyClientSecret(pub, ""))
}

func TestService_Delete(t *testing.T) {
	t.Parallel()

	svc := New(repotest.New(t), nil)
	ctx := context.Background()
	_, err := svc.Register(ctx, Registration{ClientID: "temp"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "temp"))
	assert.ErrorIs(t, svc.Delete(ctx, "temp"), domain.ErrNotFound)
}
