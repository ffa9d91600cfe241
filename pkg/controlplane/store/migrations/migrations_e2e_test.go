//go:build e2e

package migrations

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// startPostgres brings up a disposable Postgres container for migrating
// against a real database.
func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("nexuscore_e2e"),
		postgres.WithUsername("nexuscore_e2e"),
		postgres.WithPassword("nexuscore_e2e"),
		testcontainers.WithWaitStrategyAndDeadline(2*time.Minute,
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestRun_AppliesMigrationsAgainstRealPostgres(t *testing.T) {
	dsn := startPostgres(t)

	require.NoError(t, Run(dsn))

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"pools", "replicas", "nexuses", "nexus_children"} {
		var exists bool
		err := db.QueryRow(`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.Truef(t, exists, "expected table %s to exist after migration", table)
	}
}

func TestRun_IsIdempotent(t *testing.T) {
	dsn := startPostgres(t)

	require.NoError(t, Run(dsn))
	assert.NoError(t, Run(dsn), "a second Run against an up-to-date schema must be a no-op, not an error")
}
