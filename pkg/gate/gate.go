package gate

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/csp"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/portal"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/route"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

// Deps are the collaborators the gate is built from. Sessions, Profiles,
// Admin and Portals are required.
type Deps struct {
	Classifier *route.Classifier
	// Limiter may be nil, which disables rate limiting
	Limiter  *middleware.ClassLimiter
	Sessions session.Adapter
	Profiles rbac.Store
	Admin    *rbac.Resolver
	Portals  portal.Store

	// CronSecret guards the scheduled-job prefix. Empty answers 500 there.
	CronSecret string
	Policy     csp.Policy
	// Nonce defaults to csp.NewNonce
	Nonce csp.NonceFunc

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Gate evaluates the authorization pipeline for each request
type Gate struct {
	classifier *route.Classifier
	limiter    *middleware.ClassLimiter
	sessions   session.Adapter
	profiles   rbac.Store
	admin      *rbac.Resolver
	portals    portal.Store
	cronSecret string
	policy     csp.Policy
	nonce      csp.NonceFunc
	logger     *observability.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// New creates a gate
func New(deps Deps) (*Gate, error) {
	var missing []error
	if deps.Sessions == nil {
		missing = append(missing, errors.New("session adapter"))
	}
	if deps.Profiles == nil {
		missing = append(missing, errors.New("profile store"))
	}
	if deps.Admin == nil {
		missing = append(missing, errors.New("admin resolver"))
	}
	if deps.Portals == nil {
		missing = append(missing, errors.New("portal store"))
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("gate is missing required dependencies: %w", errors.Join(missing...))
	}

	if deps.Classifier == nil {
		deps.Classifier = route.NewClassifier(nil)
	}
	if deps.Nonce == nil {
		deps.Nonce = csp.NewNonce
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger(observability.InfoLevel, io.Discard)
	}

	return &Gate{
		classifier: deps.Classifier,
		limiter:    deps.Limiter,
		sessions:   deps.Sessions,
		profiles:   deps.Profiles,
		admin:      deps.Admin,
		portals:    deps.Portals,
		cronSecret: deps.CronSecret,
		policy:     deps.Policy,
		nonce:      deps.Nonce,
		logger:     deps.Logger.WithField("component", "gate"),
		metrics:    deps.Metrics,
		now:        time.Now,
	}, nil
}

// Evaluate runs the pipeline for r and returns the first decisive
// outcome. Steps run in a fixed order: nonce, rate limit, cron secret,
// public paths, session, root redirect, unauthenticated redirect, portal
// segregation, admin, portal modules. Allow and Redirect decisions carry
// the CSP header; rejections do not.
func (g *Gate) Evaluate(r *http.Request) Decision {
	ctx, span := observability.Tracer().Start(r.Context(), "gate.Evaluate")
	defer span.End()

	d := g.evaluate(r.WithContext(ctx))

	span.SetAttributes(
		attribute.String("gate.route_kind", d.Route.Kind.String()),
		attribute.String("gate.outcome", d.Outcome.String()),
		attribute.String("gate.reason", d.Reason),
	)

	log := observability.UpdateLoggerWithTraceContext(ctx, g.logger).WithFields(map[string]interface{}{
		"path":     d.Route.Path,
		"kind":     d.Route.Kind.String(),
		"outcome":  d.Outcome.String(),
		"reason":   d.Reason,
		"location": d.Location,
	})
	if requestID := contextkeys.GetRequestID(r.Context()); requestID != "" {
		log = log.WithField("request_id", requestID)
	}
	if d.UserID != "" {
		log = log.WithField("user_id", d.UserID)
	}
	if d.Outcome == Allow {
		log.Debug("Request admitted")
	} else {
		log.Info("Request denied")
	}
	g.metrics.ObserveDecision(d.Outcome.String(), d.Reason)

	return d
}

func (g *Gate) evaluate(r *http.Request) Decision {
	ctx := r.Context()

	// Classify only paths the upstream cannot resolve elsewhere
	path, err := route.CanonicalPath(r.URL)
	if err != nil {
		d := reject(http.StatusBadRequest, ReasonBadPath, "invalid request path")
		d.Route = route.Route{Path: r.URL.Path}
		return d
	}
	table := g.classifier.Table()
	rt := table.Classify(path)

	nonce, err := g.nonce()
	if err != nil {
		g.logger.WithError(err).Error("Nonce generation failed")
		d := reject(http.StatusInternalServerError, ReasonNonceFailure, "nonce generation failed")
		d.Route = rt
		return d
	}

	headers := http.Header{}
	finish := func(d Decision) Decision {
		d.Route = rt
		d.Nonce = nonce
		d.Headers = headers
		if d.Outcome != Reject {
			headers.Set(g.policy.HeaderName(), g.policy.Build(nonce))
		}
		return d
	}

	// Rate limit
	if class := rt.RateLimitClass(); class != "" {
		if rl, applied := g.limiter.Check(ctx, class, middleware.CallerID(r)); applied {
			middleware.SetHeaders(headers, rl)
			if !rl.Allowed {
				d := reject(http.StatusTooManyRequests, ReasonRateLimited, "rate limit exceeded")
				d.RetryAfter = rl.RetryAfter(g.now())
				return finish(d)
			}
		}
	}

	// Scheduled jobs authenticate with the shared secret and skip
	// everything else.
	if rt.Kind == route.KindCron {
		switch middleware.CheckBearerSecret(r, g.cronSecret) {
		case middleware.SecretUnconfigured:
			g.logger.Error("Scheduled-job secret is not configured")
			return finish(reject(http.StatusInternalServerError, ReasonCronUnconfigured, "server misconfigured: scheduled-job secret not set"))
		case middleware.SecretMismatch:
			return finish(reject(http.StatusUnauthorized, ReasonCronUnauthorized, "Unauthorized"))
		default:
			return finish(Decision{Outcome: Allow, Reason: ReasonCron})
		}
	}

	if rt.Public {
		return finish(Decision{Outcome: Allow, Reason: ReasonPublic})
	}

	sess, err := g.sessions.Read(r)
	if err != nil {
		sess = nil
	}

	if rt.Kind == route.KindRoot {
		if sess != nil {
			return finish(redirectTo(table.Home, ReasonRoot))
		}
		return finish(redirectTo(table.Login, ReasonRoot))
	}

	loginPath := table.Login
	if rt.IsPortalTree() {
		loginPath = table.PortalLogin
	}
	if sess == nil {
		return finish(redirectTo(withQuery(loginPath, "redirect", path), ReasonUnauthenticated))
	}

	d := g.authorize(r, rt, table, sess, loginPath)
	d.UserID = sess.UserID
	return finish(d)
}

// authorize runs the identity-dependent gates for an authenticated caller
func (g *Gate) authorize(r *http.Request, rt route.Route, table *route.Table, sess *session.Session, loginPath string) Decision {
	ctx := r.Context()
	log := g.logger.WithField("user_id", sess.UserID)

	profile, err := g.profiles.Profile(ctx, sess.UserID)
	if err != nil {
		log.WithError(err).Error("Profile lookup failed")
		return redirectTo(withQuery(loginPath, "error", ErrAccessCheckFailed), ReasonProfileCheckFailed)
	}
	// A user with no profile row is treated as internal
	if profile == nil {
		profile = &rbac.Profile{ID: sess.UserID}
	}

	// Portal-only identities never leave their own portal
	if own, ok := portal.ForUserType(profile.UserType); ok {
		if d, denied := g.segregate(rt, table, own); denied {
			return d
		}
	}

	switch rt.Kind {
	case route.KindAdmin:
		return g.authorizeAdmin(r, table, sess, profile, log)
	case route.KindPortal, route.KindPortalGeneric:
		return g.authorizePortal(r, rt, table, sess, log)
	}

	return Decision{Outcome: Allow, Reason: ReasonAuthorized}
}

// segregate confines a portal-only user to the portal of their type plus
// the shared portal pages.
func (g *Gate) segregate(rt route.Route, table *route.Table, own portal.Type) (Decision, bool) {
	ownRoot := table.PortalRoot(own)

	if !rt.IsPortalTree() {
		if route.Under(rt.Path, table.OAuthCallback) {
			return Decision{}, false
		}
		return redirectTo(withQuery(ownRoot, "error", ErrUnauthorizedAccess), ErrUnauthorizedAccess), true
	}

	switch {
	case rt.Kind == route.KindPortalLogin:
		return Decision{}, false
	case table.IsPortalShared(rt.Path):
		return Decision{}, false
	case rt.Kind == route.KindPortal && rt.Portal == own:
		return Decision{}, false
	}
	return redirectTo(withQuery(ownRoot, "error", ErrWrongPortal), ErrWrongPortal), true
}

func (g *Gate) authorizeAdmin(r *http.Request, table *route.Table, sess *session.Session, profile *rbac.Profile, log *observability.Logger) Decision {
	email := profile.Email
	if email == "" {
		email = sess.Email
	}

	res, err := g.admin.Resolve(r.Context(), rbac.Subject{
		UserID:   sess.UserID,
		Email:    email,
		UserType: profile.UserType,
	})
	if err != nil {
		log.WithError(err).WithField("tier", res.Tier).Error("Admin access check failed")
		return redirectTo(withQuery(table.Home, "error", ErrAccessCheckFailed), ReasonAdminCheckFailed)
	}
	if !res.Granted {
		return redirectTo(table.Home, ReasonAdminDenied)
	}

	log.WithField("tier", res.Tier).Debug("Admin access granted")
	return Decision{Outcome: Allow, Reason: ReasonAuthorized}
}

func (g *Gate) authorizePortal(r *http.Request, rt route.Route, table *route.Table, sess *session.Session, log *observability.Logger) Decision {
	grants, err := g.portals.ActiveGrants(r.Context(), sess.UserID)
	if err != nil {
		log.WithError(err).Error("Portal access check failed")
		return redirectTo(withQuery(table.PortalLogin, "error", ErrAccessCheckFailed), ReasonPortalCheckFailed)
	}

	if rt.Kind == route.KindPortalGeneric {
		if len(grants) == 0 {
			return redirectTo(withQuery(table.PortalLogin, "error", ErrNoPortalAccess), ErrNoPortalAccess)
		}
		return Decision{Outcome: Allow, Reason: ReasonAuthorized}
	}

	grant, ok := grants.For(rt.Portal)
	if !ok {
		return redirectTo(withQuery(table.PortalLogin, "error", ErrUnauthorizedPortal), ErrUnauthorizedPortal)
	}
	if rt.Module != "" && !grant.Allows(rt.Module) {
		return redirectTo(
			withQuery(table.PortalRoot(rt.Portal), "error", ErrUnauthorizedModule, "module", rt.Module),
			ErrUnauthorizedModule,
		)
	}
	return Decision{Outcome: Allow, Reason: ReasonAuthorized}
}
