package portal

import (
	"context"
	"slices"
)

// Type identifies one external-facing portal
type Type string

const (
	TypeCustomer Type = "customer"
	TypeDesigner Type = "designer"
	TypeFactory  Type = "factory"
	TypeQC       Type = "qc"
)

// Types lists every known portal type
var Types = []Type{TypeCustomer, TypeDesigner, TypeFactory, TypeQC}

// ParseType returns the portal type named by s
func ParseType(s string) (Type, bool) {
	t := Type(s)
	if slices.Contains(Types, t) {
		return t, true
	}
	return "", false
}

// Legacy user_type values that mark portal-only identities
const (
	UserTypeCustomer     = "customer"
	UserTypeDesigner     = "designer"
	UserTypeManufacturer = "manufacturer"
	UserTypeContractor   = "contractor"
)

// ForUserType returns the single portal a portal-only user type may use.
// ok is false for internal users.
func ForUserType(userType string) (Type, bool) {
	switch userType {
	case UserTypeCustomer:
		return TypeCustomer, true
	case UserTypeDesigner:
		return TypeDesigner, true
	case UserTypeManufacturer, UserTypeContractor:
		return TypeFactory, true
	default:
		return "", false
	}
}

// Grant is one active (user, portal type) access row
type Grant struct {
	UserID         string
	PortalType     Type
	AllowedModules []string
	CustomerID     *string
	PartnerID      *string
}

// Allows reports whether the grant permits module
func (g Grant) Allows(module string) bool {
	return slices.Contains(g.AllowedModules, module)
}

// Grants is a user's active grant set
type Grants []Grant

// For returns the grant for portal type t
func (gs Grants) For(t Type) (Grant, bool) {
	for _, g := range gs {
		if g.PortalType == t {
			return g, true
		}
	}
	return Grant{}, false
}

// Store looks up portal access grants
type Store interface {
	ActiveGrants(ctx context.Context, userID string) (Grants, error)
}
