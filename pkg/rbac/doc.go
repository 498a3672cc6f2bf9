// Package rbac resolves whether a caller may enter the admin area.
//
// # Overview
//
// User classification lives in two places that can disagree: the legacy
// users.user_type column and role assignments in user_roles. Admin access
// is resolved by an ordered list of strategies, each answering Granted,
// Denied or Undecided:
//
//  1. RoleTableStrategy: admin or super_admin among the active role rows
//     grants. Rows without an admin role deny, which skips tier 2.
//  2. LegacyUserTypeStrategy: consulted only for users with no role rows.
//     A user_type of admin or super_admin grants.
//  3. AllowlistStrategy: a configurable list of operational account
//     emails, consulted whenever nothing earlier granted. It stops
//     granting after its sunset date.
//
// The first grant wins. If no strategy grants the caller is denied.
//
// # Usage
//
//	store := rbac.NewCachedStore(rbac.NewSQLStore(db, 3*time.Second, metrics), 10000, 30*time.Second, metrics)
//	allowlist := rbac.NewAllowlistStrategy(cfg.Admin.Allowlist, cfg.Admin.AllowlistSunset)
//	resolver := rbac.NewResolver(metrics, rbac.DefaultStrategies(store, allowlist)...)
//
//	res, err := resolver.Resolve(ctx, rbac.Subject{UserID: id, Email: email, UserType: profile.UserType})
//	if err != nil {
//		// deny: the lookup failed
//	}
//
// # Allowlist Audit
//
// AllowlistAuditor runs on a cron schedule and logs how many grants the
// allowlist tier issued since the last report. Once the sunset has passed
// it logs at error level until the allowlist is removed from configuration.
//
// # Schema
//
// RunMigrations creates users, roles, user_roles and portal_access. The
// gate only reads these tables.
package rbac
