/*
Package gate decides, for every inbound request, whether it reaches the
application, is redirected, or is rejected.

# Pipeline

Evaluate first refuses request paths that are not canonical (dot
segments, repeated slashes, backslashes, encoded slashes) with 400, so
the path it classifies is the path the application receives. It then
runs a fixed sequence and stops at the first decisive step:

 1. a fresh CSP nonce is drawn
 2. webhook and public-unsubscribe calls are rate limited per caller
 3. the scheduled-job prefix requires the shared bearer secret
 4. public paths are admitted without reading the session
 5. the session cookie is decoded
 6. "/" redirects to the home page or the login page
 7. callers without a session are sent to the matching login page with
    the requested path in ?redirect=
 8. portal-only identities are confined to their own portal
 9. admin paths require an admin grant from the rbac resolver
 10. portal paths require an active grant and, for module pages, the module

Authorization denials are redirects with an error marker in the query
string, never error statuses. Rejections are reserved for malformed paths
(400), rate limiting (429) and the scheduled-job secret (401, or 500 when
it is not set).

# Usage

	g, err := gate.New(gate.Deps{
		Sessions: adapter,
		Profiles: profiles,
		Admin:    rbac.NewResolver(metrics, rbac.DefaultStrategies(roles, allowlist)...),
		Portals:  grants,
		Policy:   csp.Policy{ReportURI: "/api/csp-report"},
	})
	handler := g.Middleware(app)

Admitted requests carry the nonce in the x-nonce request header and in the
context (contextkeys.GetNonce). Admitted and redirected responses carry
the Content-Security-Policy header built from the same nonce; rejections
do not.
*/
package gate
