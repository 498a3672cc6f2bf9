package rbac

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Verdict is one strategy's answer to "is this caller an admin?"
type Verdict int

const (
	Undecided Verdict = iota
	Granted
	Denied
)

func (v Verdict) String() string {
	switch v {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "undecided"
	}
}

// Subject is the caller whose admin access is being resolved
type Subject struct {
	UserID string
	// Email is the profile email, or the session email when the profile
	// has none.
	Email string
	// UserType is empty when the user has no profile row
	UserType string
}

// Strategy is one tier of admin resolution. Granted ends resolution.
// Denied records that the tier had data for the caller and refused; later
// tiers still run unless they are fallback-only.
type Strategy interface {
	Name() string
	Decide(ctx context.Context, subject Subject) (Verdict, error)
}

// FallbackOnly is implemented by tiers that are consulted only while
// every earlier tier is Undecided.
type FallbackOnly interface {
	FallbackOnly() bool
}

// RoleTableStrategy decides from active role assignments. A user with
// rows but no admin role is Denied, which skips the legacy user_type
// tier; only a user with no rows is left undecided.
type RoleTableStrategy struct {
	store Store
}

// NewRoleTableStrategy creates the role-table tier
func NewRoleTableStrategy(store Store) *RoleTableStrategy {
	return &RoleTableStrategy{store: store}
}

func (s *RoleTableStrategy) Name() string { return "role_table" }

func (s *RoleTableStrategy) Decide(ctx context.Context, subject Subject) (Verdict, error) {
	roles, err := s.store.ActiveRoles(ctx, subject.UserID)
	if err != nil {
		return Undecided, err
	}
	if len(roles) == 0 {
		return Undecided, nil
	}
	for _, role := range roles {
		if IsAdminRole(role) {
			return Granted, nil
		}
	}
	return Denied, nil
}

// LegacyUserTypeStrategy grants from the legacy user_type field. It only
// applies to users the role table knows nothing about.
type LegacyUserTypeStrategy struct{}

func (LegacyUserTypeStrategy) Name() string { return "user_type" }

func (LegacyUserTypeStrategy) FallbackOnly() bool { return true }

func (LegacyUserTypeStrategy) Decide(_ context.Context, subject Subject) (Verdict, error) {
	if IsAdminRole(subject.UserType) {
		return Granted, nil
	}
	return Undecided, nil
}

// AllowlistStrategy grants a fixed set of operational accounts by email.
// It is a migration escape hatch: after the sunset time it grants nothing.
type AllowlistStrategy struct {
	emails map[string]struct{}
	sunset time.Time
	now    func() time.Time
	grants atomic.Int64
}

// NewAllowlistStrategy creates the allowlist tier. A zero sunset never
// expires.
func NewAllowlistStrategy(emails []string, sunset time.Time) *AllowlistStrategy {
	set := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			set[e] = struct{}{}
		}
	}
	return &AllowlistStrategy{emails: set, sunset: sunset, now: time.Now}
}

func (s *AllowlistStrategy) Name() string { return "allowlist" }

func (s *AllowlistStrategy) Decide(_ context.Context, subject Subject) (Verdict, error) {
	if s.Expired() {
		return Undecided, nil
	}
	if _, ok := s.emails[strings.ToLower(strings.TrimSpace(subject.Email))]; !ok {
		return Undecided, nil
	}
	s.grants.Add(1)
	return Granted, nil
}

// Len returns the number of allowlisted emails
func (s *AllowlistStrategy) Len() int {
	return len(s.emails)
}

// Sunset returns the time after which the allowlist stops granting
func (s *AllowlistStrategy) Sunset() time.Time {
	return s.sunset
}

// Expired reports whether the sunset has passed
func (s *AllowlistStrategy) Expired() bool {
	return !s.sunset.IsZero() && !s.now().Before(s.sunset)
}

// TakeGrants returns the grants issued since the last call and resets the
// count.
func (s *AllowlistStrategy) TakeGrants() int64 {
	return s.grants.Swap(0)
}

// Resolution is the outcome of admin resolution
type Resolution struct {
	Granted bool
	// Tier names the strategy that granted, or the first that denied.
	// Empty when every tier was undecided.
	Tier string
}

// Resolver tries strategies in order; the first grant wins and a run
// without one is a denial.
type Resolver struct {
	strategies []Strategy
	metrics    *observability.Metrics
}

// NewResolver creates a resolver over the given strategies
func NewResolver(metrics *observability.Metrics, strategies ...Strategy) *Resolver {
	return &Resolver{strategies: strategies, metrics: metrics}
}

// DefaultStrategies returns role table, then user_type, then the
// allowlist. A nil allowlist drops the last tier.
func DefaultStrategies(store Store, allowlist *AllowlistStrategy) []Strategy {
	strategies := []Strategy{NewRoleTableStrategy(store), LegacyUserTypeStrategy{}}
	if allowlist != nil && allowlist.Len() > 0 {
		strategies = append(strategies, allowlist)
	}
	return strategies
}

// Resolve decides admin access. An error from any tier aborts resolution;
// callers must treat it as a denial.
func (r *Resolver) Resolve(ctx context.Context, subject Subject) (Resolution, error) {
	deniedBy := ""
	for _, s := range r.strategies {
		if deniedBy != "" && isFallbackOnly(s) {
			continue
		}
		verdict, err := s.Decide(ctx, subject)
		if err != nil {
			return Resolution{Tier: s.Name()}, err
		}
		switch verdict {
		case Granted:
			r.metrics.ObserveAdminGrant(s.Name())
			return Resolution{Granted: true, Tier: s.Name()}, nil
		case Denied:
			if deniedBy == "" {
				deniedBy = s.Name()
			}
		}
	}
	return Resolution{Tier: deniedBy}, nil
}

func isFallbackOnly(s Strategy) bool {
	f, ok := s.(FallbackOnly)
	return ok && f.FallbackOnly()
}
