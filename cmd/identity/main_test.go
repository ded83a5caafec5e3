package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/identity/internal/db"
	"github.com/Skotchmaster/identity/internal/domain"
	"github.com/Skotchmaster/identity/internal/models"
	"github.com/Skotchmaster/identity/internal/repo"
)

func executeRootCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(slog.New(slog.NewJSONHandler(io.Discard, nil)))
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func useTempDatabase(t *testing.T) string {
	t.Helper()
	dsn := "sqlite:" + filepath.Join(t.TempDir(), "identity.db")
	t.Setenv("DATABASE_URL", dsn)
	return dsn
}

func TestMigrateCommands(t *testing.T) {
	useTempDatabase(t)

	out, err := executeRootCommand(t, "migrate", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "initial_schema")
	assert.Contains(t, out, "user_display_name")
	assert.Contains(t, out, "authorization_subject_type")

	out, err = executeRootCommand(t, "migrate", "up")
	require.NoError(t, err)
	assert.Contains(t, out, "applied 3 migration(s)")

	out, err = executeRootCommand(t, "migrate", "down")
	require.NoError(t, err)
	assert.Contains(t, out, "rolled back 1 migration(s) [3]")

	out, err = executeRootCommand(t, "migrate", "up")
	require.NoError(t, err)
	assert.Contains(t, out, "applied 1 migration(s) [3]")
}

func TestClientCommands(t *testing.T) {
	useTempDatabase(t)

	out, err := executeRootCommand(t, "client", "register", "--id", "svc", "--secret", "s3cret", "--redirect-uri", "https://svc.example/cb")
	require.NoError(t, err)
	assert.Contains(t, out, "registered svc (confidential)")
	assert.Contains(t, out, "client_credentials")

	_, err = executeRootCommand(t, "client", "register", "--id", "svc")
	assert.Error(t, err)

	_, err = executeRootCommand(t, "client", "register", "--id", "spa", "--flow", "client_credentials")
	assert.Error(t, err)

	out, err = executeRootCommand(t, "client", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "https://svc.example/cb")

	out, err = executeRootCommand(t, "client", "delete", "svc")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted svc")

	_, err = executeRootCommand(t, "client", "delete", "svc")
	assert.Error(t, err)
}

func TestUserCommands(t *testing.T) {
	useTempDatabase(t)

	out, err := executeRootCommand(t, "user", "create", "--username", "alice", "--password", "correct-pw")
	require.NoError(t, err)
	assert.Contains(t, out, "created user alice")

	out, err = executeRootCommand(t, "user", "add-role", "alice", "admin")
	require.NoError(t, err)
	assert.Contains(t, out, "added alice to admin")

	_, err = executeRootCommand(t, "user", "add-role", "alice", "admin")
	require.NoError(t, err)

	out, err = executeRootCommand(t, "user", "unlock", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "unlocked alice")

	_, err = executeRootCommand(t, "user", "create", "--username", "bob")
	assert.Error(t, err)
}

func TestUserDeleteAndTokensPrune(t *testing.T) {
	dsn := useTempDatabase(t)

	_, err := executeRootCommand(t, "user", "create", "--username", "alice", "--password", "correct-pw")
	require.NoError(t, err)

	ctx := context.Background()
	gdb, err := db.Open(ctx, dsn)
	require.NoError(t, err)
	r := repo.New(gdb)
	a := &models.Authorization{Subject: "alice", Status: string(domain.AuthorizationStatusValid)}
	require.NoError(t, r.CreateAuthorization(ctx, a))
	for _, exp := range []time.Time{time.Now().Add(-72 * time.Hour), time.Now().Add(time.Hour)} {
		require.NoError(t, r.CreateToken(ctx, &models.OAuthToken{
			ID:              uuid.NewString(),
			AuthorizationID: &a.ID,
			Subject:         "alice",
			Type:            string(domain.TokenTypeAccess),
			Status:          string(domain.TokenStatusValid),
			ExpiresAt:       exp,
		}))
	}
	require.NoError(t, db.Close(gdb))

	out, err := executeRootCommand(t, "user", "delete", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted user alice (revoked 1 authorization(s))")

	_, err = executeRootCommand(t, "user", "delete", "alice")
	assert.Error(t, err)

	out, err = executeRootCommand(t, "tokens", "prune")
	require.NoError(t, err)
	assert.Contains(t, out, "pruned 1 token(s)")

	out, err = executeRootCommand(t, "tokens", "prune", "--older-than", "0s")
	require.NoError(t, err)
	assert.Contains(t, out, "pruned 0 token(s)")

	_, err = executeRootCommand(t, "tokens", "prune", "--older-than", "-1h")
	assert.Error(t, err)
}

func TestMissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := executeRootCommand(t, "client", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}
