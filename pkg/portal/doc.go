// Package portal models the four external-facing portals (customer,
// designer, factory, qc) and the per-user grants that admit a user to a
// portal and to individual modules inside it.
//
// A user may hold several grants. Each grant's AllowedModules gates the
// first path segment below that portal's root:
//
//	grants, err := store.ActiveGrants(ctx, userID)
//	g, ok := grants.For(portal.TypeCustomer)
//	if ok && g.Allows("orders") {
//		// /portal/customer/orders is permitted
//	}
package portal
