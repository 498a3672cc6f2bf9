package rbac

import (
	"context"
	"slices"
)

// Role names that grant the admin subtree
const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// Common legacy user_type values
const (
	UserTypeEmployee   = "employee"
	UserTypeAdmin      = "admin"
	UserTypeSuperAdmin = "super_admin"
)

var adminNames = []string{RoleAdmin, RoleSuperAdmin}

// IsAdminRole reports whether a role name or user_type grants admin access
func IsAdminRole(name string) bool {
	return slices.Contains(adminNames, name)
}

// Profile is a user's row in the users table
type Profile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	// UserType is the legacy single-value classification, maintained
	// independently of role assignments.
	UserType string `json:"user_type"`
}

// Store reads user profiles and role assignments
type Store interface {
	// ActiveRoles returns the names of the user's active, unexpired roles
	ActiveRoles(ctx context.Context, userID string) ([]string, error)
	// Profile returns the user's profile, or nil when no row exists
	Profile(ctx context.Context, userID string) (*Profile, error)
}
