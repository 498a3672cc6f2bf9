package route

import (
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/portal"
)

// Kind is the category a request path falls into
type Kind int

const (
	KindInternal Kind = iota
	KindRoot
	KindCron
	KindWebhook
	KindUnsubscribeAPI
	KindPublic
	KindAdmin
	KindPortalLogin
	KindPortalGeneric
	KindPortal
)

var kindNames = map[Kind]string{
	KindInternal:       "internal",
	KindRoot:           "root",
	KindCron:           "cron",
	KindWebhook:        "webhook",
	KindUnsubscribeAPI: "unsubscribe_api",
	KindPublic:         "public",
	KindAdmin:          "admin",
	KindPortalLogin:    "portal_login",
	KindPortalGeneric:  "portal_generic",
	KindPortal:         "portal",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the kind by name
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Route is the classification of one request path
type Route struct {
	Path string `json:"path"`
	Kind Kind   `json:"kind"`
	// Public is set when the path is on the public allowlist, independent
	// of Kind.
	Public bool `json:"public"`
	// Portal and Module are set for KindPortal only
	Portal portal.Type `json:"portal,omitempty"`
	Module string      `json:"module,omitempty"`
}

// RateLimitClass returns the rate limit class for the route, or "" when
// the route is not rate limited.
func (r Route) RateLimitClass() string {
	switch r.Kind {
	case KindWebhook:
		return middleware.ClassWebhook
	case KindUnsubscribeAPI:
		return middleware.ClassUnsubscribe
	default:
		return ""
	}
}

// IsPortalTree reports whether the route lies under the portal prefix
func (r Route) IsPortalTree() bool {
	return r.Kind == KindPortal || r.Kind == KindPortalGeneric || r.Kind == KindPortalLogin
}

// Classify places path into exactly one Kind
func (t *Table) Classify(path string) Route {
	r := Route{Path: path, Public: t.IsPublic(path)}

	switch {
	case path == "/":
		r.Kind = KindRoot
	case strings.HasPrefix(path, t.CronPrefix):
		r.Kind = KindCron
	case strings.HasPrefix(path, t.WebhookPrefix):
		r.Kind = KindWebhook
	case strings.HasPrefix(path, t.UnsubscribePrefix):
		r.Kind = KindUnsubscribeAPI
	// Raw prefix: look-alikes such as /admin-tools are gated as admin too
	case strings.HasPrefix(path, strings.TrimSuffix(t.AdminPrefix, "/")):
		r.Kind = KindAdmin
	case Under(path, t.PortalLogin):
		r.Kind = KindPortalLogin
	case Under(path, t.PortalPrefix):
		t.classifyPortal(&r)
	default:
		if r.Public {
			r.Kind = KindPublic
		} else {
			r.Kind = KindInternal
		}
	}
	return r
}

// classifyPortal splits /portal/<type>[/<module>[/...]]. Anything else
// under the portal prefix is generic.
func (t *Table) classifyPortal(r *Route) {
	rest := strings.TrimPrefix(r.Path, strings.TrimSuffix(t.PortalPrefix, "/"))
	rest = strings.TrimPrefix(rest, "/")

	typeSeg, moduleRest, _ := strings.Cut(rest, "/")
	pt, ok := portal.ParseType(typeSeg)
	if !ok {
		r.Kind = KindPortalGeneric
		return
	}

	r.Kind = KindPortal
	r.Portal = pt
	module, _, _ := strings.Cut(moduleRest, "/")
	r.Module = module
}

var defaultTable = DefaultTable()

// Classify classifies path against the built-in table
func Classify(path string) Route {
	return defaultTable.Classify(path)
}
