//go:build integration

package rbac

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// setupPostgres starts a throwaway PostgreSQL with migrations applied
func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	provider.Close()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("gatehouse_test"),
		postgres.WithUsername("gatehouse"),
		postgres.WithPassword("gatehouse_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Ping())

	logger := observability.NewLogger(observability.ErrorLevel, nil)
	require.NoError(t, RunMigrations(ctx, db, logger))
	return db
}

func TestIntegration_PostgresResolver(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	SeedUser(t, db, "u-role", "role@example.com", UserTypeEmployee)
	SeedRole(t, db, "u-role", RoleAdmin, true, nil)
	SeedUser(t, db, "u-expired", "expired@example.com", UserTypeEmployee)
	SeedRole(t, db, "u-expired", RoleAdmin, true, &past)
	SeedUser(t, db, "u-legacy", "legacy@example.com", UserTypeAdmin)

	store := NewSQLStore(db, 5*time.Second, nil)
	resolver := NewResolver(nil, DefaultStrategies(store, nil)...)

	tests := []struct {
		userID  string
		granted bool
	}{
		{"u-role", true},
		{"u-expired", false},
		{"u-legacy", true},
	}

	for _, tt := range tests {
		t.Run(tt.userID, func(t *testing.T) {
			profile, err := store.Profile(ctx, tt.userID)
			require.NoError(t, err)
			require.NotNil(t, profile)

			res, err := resolver.Resolve(ctx, Subject{UserID: tt.userID, Email: profile.Email, UserType: profile.UserType})
			require.NoError(t, err)
			assert.Equal(t, tt.granted, res.Granted)
		})
	}

	require.NoError(t, RunMigrations(ctx, db, observability.NewLogger(observability.ErrorLevel, nil)))
}
