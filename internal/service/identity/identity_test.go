package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/identity/internal/domain"
	"github.com/Skotchmaster/identity/internal/events"
	"github.com/Skotchmaster/identity/internal/models"
	"github.com/Skotchmaster/identity/internal/repo/repotest"
)

func newTestService(t *testing.T) (*Service, *events.Recorder) {
	t.Helper()
	rec := events.NewRecorder()
	return New(repotest.New(t), rec, nil), rec
}

func TestService_CreateUser_NormalizesAndFinds(t *testing.T) {
	t.Parallel()

	svc, rec := newTestService(t)
	ctx := context.Background()

	u, err := svc.CreateUser(ctx, NewUser{UserName: " alice ", Email: "Alice@Example.com", Password: "Pass123$", DisplayName: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice", u.UserName)
	assert.Equal(t, "ALICE", u.NormalizedUserName)
	assert.NotEmpty(t, u.SecurityStamp)
	assert.True(t, u.LockoutEnabled)
	require.NotNil(t, u.DisplayName)

	byName, err := svc.FindByNormalizedUsername(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)

	byEmail, err := svc.FindByNormalizedEmail(ctx, "alice@example.COM")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	_, err = svc.FindByNormalizedUsername(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.CreateUser(ctx, NewUser{UserName: "ALICE", Password: "x"})
	assert.ErrorIs(t, err, domain.ErrDuplicateUser)

	assert.Equal(t, []string{events.TypeUserRegistered}, rec.Types())
}

func TestService_CreateUser_Validation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	tests := []struct {
		name string
		in   NewUser
	}{
		{name: "empty username", in: NewUser{UserName: " ", Password: "secret"}},
		{name: "empty password", in: NewUser{UserName: "user"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateUser(context.Background(), tt.in)
			assert.ErrorIs(t, err, domain.ErrInvalidRequest)
		})
	}
}

func TestService_CreateUser_RejectsClientID(t *testing.T) {
	t.Parallel()

	r := repotest.New(t)
	svc := New(r, nil, nil)
	ctx := context.Background()

	require.NoError(t, r.CreateApplication(ctx, &models.Application{ClientID: "mvc", Type: string(domain.ClientConfidential)}))

	for _, name := range []string{"mvc", " MVC "} {
		_, err := svc.CreateUser(ctx, NewUser{UserName: name, Password: "Pass123$"})
		assert.ErrorIs(t, err, domain.ErrDuplicateUser, name)
	}
	_, err := svc.FindByNormalizedUsername(ctx, "mvc")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.CreateUser(ctx, NewUser{UserName: "mvc-user", Password: "Pass123$"})
	assert.NoError(t, err)
}

func TestService_VerifyCredential(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	u, err := svc.CreateUser(context.Background(), NewUser{UserName: "alice", Password: "Pass123$"})
	require.NoError(t, err)

	assert.True(t, svc.VerifyCredential(u, "Pass123$"))
	assert.False(t, svc.VerifyCredential(u, "wrong"))
	assert.False(t, svc.VerifyCredential(nil, "Pass123$"))
}

func TestService_UpdateUser_OptimisticConcurrency(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	u, err := svc.CreateUser(ctx, NewUser{UserName: "alice", Password: "Pass123$"})
	require.NoError(t, err)

	stale, err := svc.FindByID(ctx, u.ID)
	require.NoError(t, err)

	u.Email = "alice@example.com"
	require.NoError(t, svc.UpdateUser(ctx, u))

	stale.PhoneNumber = "555"
	assert.ErrorIs(t, svc.UpdateUser(ctx, stale), domain.ErrConcurrencyConflict)

	got, err := svc.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "ALICE@EXAMPLE.COM", got.NormalizedEmail)
	assert.Empty(t, got.PhoneNumber)
}

func TestService_Lockout_AfterMaxFailures(t *testing.T) {
	t.Parallel()

	svc, rec := newTestService(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	bob, err := svc.CreateUser(ctx, NewUser{UserName: "bob", Password: "Pass123$"})
	require.NoError(t, err)
	stamp := bob.SecurityStamp

	for i := 1; i < DefaultMaxFailedAttempts; i++ {
		locked, err := svc.RecordFailedAttempt(ctx, bob, now)
		require.NoError(t, err)
		assert.False(t, locked)
		assert.Equal(t, i, bob.AccessFailedCount)
	}

	locked, err := svc.RecordFailedAttempt(ctx, bob, now)
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Zero(t, bob.AccessFailedCount)
	assert.True(t, svc.IsLockedOut(bob, now))
	assert.True(t, svc.IsLockedOut(bob, now.Add(DefaultLockoutDuration-time.Second)))
	assert.False(t, svc.IsLockedOut(bob, now.Add(DefaultLockoutDuration)))
	assert.Equal(t, stamp, bob.SecurityStamp)

	stored, err := svc.FindByID(ctx, bob.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LockoutEnd)
	assert.Equal(t, stamp, stored.SecurityStamp)
	assert.True(t, svc.IsLockedOut(stored, now))
	assert.Contains(t, rec.Types(), events.TypeUserLockedOut)
}

func TestService_RecordFailedAttempt_RetriesStaleCopy(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	u, err := svc.CreateUser(ctx, NewUser{UserName: "bob", Password: "Pass123$"})
	require.NoError(t, err)

	stale, err := svc.FindByID(ctx, u.ID)
	require.NoError(t, err)

	_, err = svc.RecordFailedAttempt(ctx, u, time.Now())
	require.NoError(t, err)
	_, err = svc.RecordFailedAttempt(ctx, stale, time.Now())
	require.NoError(t, err)

	got, err := svc.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AccessFailedCount)

	require.NoError(t, svc.ResetFailedAttempts(ctx, got))
	again, err := svc.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, again.AccessFailedCount)
}

func TestService_SecurityStampRotation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	u, err := svc.CreateUser(ctx, NewUser{UserName: "alice", Password: "Pass123$"})
	require.NoError(t, err)

	steps := []struct {
		name string
		run  func() error
	}{
		{name: "password", run: func() error { return svc.SetPassword(ctx, u, "NewPass1!") }},
		{name: "two factor", run: func() error { return svc.SetTwoFactorEnabled(ctx, u, true) }},
		{name: "add login", run: func() error { return svc.AddLogin(ctx, u, "Google", "g-123", "Google") }},
		{name: "remove login", run: func() error { return svc.RemoveLogin(ctx, u, "Google", "g-123") }},
	}
	for _, st := range steps {
		before, err := svc.CurrentStamp(ctx, "alice")
		require.NoError(t, err)
		require.NoError(t, st.run(), st.name)
		after, err := svc.CurrentStamp(ctx, "alice")
		require.NoError(t, err)
		assert.NotEqual(t, before, after, st.name)
	}

	assert.True(t, svc.VerifyCredential(u, "NewPass1!"))
}

func TestService_ClaimsRolesAndLogins(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	u, err := svc.CreateUser(ctx, NewUser{UserName: "carol", Password: "Pass123$"})
	require.NoError(t, err)

	require.NoError(t, svc.AddClaim(ctx, u, Claim{Type: "given_name", Value: "Carol"}))
	_, err = svc.CreateRole(ctx, "admin", Claim{Type: "permission", Value: "clients:write"})
	require.NoError(t, err)

	stamp := u.SecurityStamp
	require.NoError(t, svc.AddToRole(ctx, u, "Admin"))
	assert.NotEqual(t, stamp, u.SecurityStamp)

	roles, err := svc.Roles(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin"}, roles)

	claims, err := svc.Claims(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, []Claim{
		{Type: "given_name", Value: "Carol"},
		{Type: ClaimRole, Value: "admin"},
		{Type: "permission", Value: "clients:write"},
	}, claims)

	require.NoError(t, svc.RemoveClaim(ctx, u, Claim{Type: "given_name", Value: "Carol"}))
	assert.ErrorIs(t, svc.RemoveClaim(ctx, u, Claim{Type: "given_name", Value: "Carol"}), domain.ErrNotFound)

	require.NoError(t, svc.RemoveFromRole(ctx, u, "admin"))
	assert.ErrorIs(t, svc.RemoveFromRole(ctx, u, "admin"), domain.ErrNotFound)

	require.NoError(t, svc.AddLogin(ctx, u, "GitHub", "gh-42", "GitHub"))
	found, err := svc.FindByLogin(ctx, "GitHub", "gh-42")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)
}

func TestService_TokensAndDelete(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	u, err := svc.CreateUser(ctx, NewUser{UserName: "dave", Password: "Pass123$"})
	require.NoError(t, err)

	require.NoError(t, svc.SetToken(ctx, u, "[AspNetUserStore]", "AuthenticatorKey", "k1"))
	require.NoError(t, svc.SetToken(ctx, u, "[AspNetUserStore]", "AuthenticatorKey", "k2"))
	v, err := svc.Token(ctx, u, "[AspNetUserStore]", "AuthenticatorKey")
	require.NoError(t, err)
	assert.Equal(t, "k2", v)

	require.NoError(t, svc.AddClaim(ctx, u, Claim{Type: "x", Value: "y"}))
	require.NoError(t, svc.DeleteUser(ctx, u))

	_, err = svc.FindByID(ctx, u.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.Token(ctx, u, "[AspNetUserStore]", "AuthenticatorKey")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
