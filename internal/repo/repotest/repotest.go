// Package repotest opens a migrated in-memory SQLite database for tests.
package repotest

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/identity/internal/db"
	"github.com/Skotchmaster/identity/internal/migrations"
	"github.com/Skotchmaster/identity/internal/repo"
)

func New(t testing.TB) *repo.GormRepo {
	t.Helper()

	ctx := context.Background()
	gdb, err := db.Open(ctx, "sqlite::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })

	runner := migrations.NewRunner(gdb, Logger())
	_, err = runner.Up(ctx, 0)
	require.NoError(t, err)

	return repo.New(gdb)
}

// Logger discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
