package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// OpenTestDB returns an in-memory SQLite database with every migration
// applied. It is closed when the test ends.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// Every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	if err := RunMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

// SeedUser inserts a users row
func SeedUser(t *testing.T, db *sql.DB, id, email, userType string) {
	t.Helper()
	if _, err := db.Exec(
		"INSERT INTO users (id, email, user_type) VALUES ($1, $2, $3)",
		id, email, userType,
	); err != nil {
		t.Fatalf("Failed to seed user %s: %v", id, err)
	}
}

// SeedRole assigns a role. A nil expiresAt never expires.
func SeedRole(t *testing.T, db *sql.DB, userID, role string, active bool, expiresAt *time.Time) {
	t.Helper()
	if _, err := db.Exec(
		"INSERT INTO roles (name, description) SELECT $1, '' WHERE NOT EXISTS (SELECT 1 FROM roles WHERE name = $1)",
		role,
	); err != nil {
		t.Fatalf("Failed to seed role %s: %v", role, err)
	}

	var expires interface{}
	if expiresAt != nil {
		expires = expiresAt.UTC()
	}
	if _, err := db.Exec(
		"INSERT INTO user_roles (user_id, role_name, is_active, expires_at) VALUES ($1, $2, $3, $4)",
		userID, role, active, expires,
	); err != nil {
		t.Fatalf("Failed to assign role %s to %s: %v", role, userID, err)
	}
}

// SeedPortalAccess inserts a portal_access row
func SeedPortalAccess(t *testing.T, db *sql.DB, userID, portalType string, active bool, modules []string) {
	t.Helper()
	if modules == nil {
		modules = []string{}
	}
	encoded, err := json.Marshal(modules)
	if err != nil {
		t.Fatalf("Failed to encode modules: %v", err)
	}
	if _, err := db.Exec(
		"INSERT INTO portal_access (user_id, portal_type, is_active, allowed_modules) VALUES ($1, $2, $3, $4)",
		userID, portalType, active, string(encoded),
	); err != nil {
		t.Fatalf("Failed to seed portal access for %s: %v", userID, err)
	}
}
