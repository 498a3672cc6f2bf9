package route

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/gatehouse/pkg/portal"
)

// ErrInvalidTable is returned when a route table fails validation
var ErrInvalidTable = errors.New("invalid route table")

// Table holds the path families the gate branches on. Every field can be
// overridden from a YAML file; omitted fields keep their defaults.
type Table struct {
	PublicExact    []string `yaml:"public_exact"`
	PublicPrefixes []string `yaml:"public_prefixes"`

	CronPrefix        string `yaml:"cron_prefix"`
	WebhookPrefix     string `yaml:"webhook_prefix"`
	UnsubscribePrefix string `yaml:"unsubscribe_prefix"`

	AdminPrefix  string   `yaml:"admin_prefix"`
	PortalPrefix string   `yaml:"portal_prefix"`
	PortalLogin  string   `yaml:"portal_login"`
	PortalShared []string `yaml:"portal_shared"`

	Login         string `yaml:"login"`
	Home          string `yaml:"home"`
	OAuthCallback string `yaml:"oauth_callback"`

	exact map[string]struct{}
}

// DefaultTable returns the built-in route table
func DefaultTable() *Table {
	t := &Table{
		PublicExact: []string{
			"/login",
			"/portal/login",
			"/privacy-policy",
			"/terms-of-service",
			"/offline",
		},
		PublicPrefixes: []string{
			"/_next/",
			"/static/",
			"/images/",
			"/fonts/",
			"/favicon",
			"/auth/callback",
			"/api/auth/",
			"/api/webhooks/",
			"/api/cron/",
			"/api/public/",
			"/share/",
			"/unsubscribe",
			"/sw.js",
			"/workbox-",
			"/manifest",
			"/robots.txt",
		},
		CronPrefix:        "/api/cron/",
		WebhookPrefix:     "/api/webhooks/",
		UnsubscribePrefix: "/api/public/unsubscribe",
		AdminPrefix:       "/admin",
		PortalPrefix:      "/portal",
		PortalLogin:       "/portal/login",
		PortalShared:      []string{"/portal/profile", "/portal/documents"},
		Login:             "/login",
		Home:              "/dashboard",
		OAuthCallback:     "/auth/callback",
	}
	t.compile()
	return t
}

// ParseTable decodes a YAML route table on top of the defaults
func ParseTable(data []byte) (*Table, error) {
	t := DefaultTable()
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("failed to parse route table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	t.compile()
	return t, nil
}

// LoadTable reads a YAML route table from path
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route table: %w", err)
	}
	return ParseTable(data)
}

// Validate checks that every path family is an absolute path
func (t *Table) Validate() error {
	required := map[string]string{
		"cron_prefix":        t.CronPrefix,
		"webhook_prefix":     t.WebhookPrefix,
		"unsubscribe_prefix": t.UnsubscribePrefix,
		"admin_prefix":       t.AdminPrefix,
		"portal_prefix":      t.PortalPrefix,
		"portal_login":       t.PortalLogin,
		"login":              t.Login,
		"home":               t.Home,
		"oauth_callback":     t.OAuthCallback,
	}
	for name, value := range required {
		if !strings.HasPrefix(value, "/") {
			return fmt.Errorf("%w: %s must be an absolute path, got %q", ErrInvalidTable, name, value)
		}
	}
	if t.AdminPrefix == "/" || t.PortalPrefix == "/" {
		return fmt.Errorf("%w: admin and portal prefixes cannot be the root path", ErrInvalidTable)
	}
	if !Under(t.PortalLogin, t.PortalPrefix) {
		return fmt.Errorf("%w: portal_login %q is outside portal_prefix %q", ErrInvalidTable, t.PortalLogin, t.PortalPrefix)
	}
	for _, p := range append(append([]string{}, t.PublicExact...), t.PublicPrefixes...) {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%w: public path %q must be absolute", ErrInvalidTable, p)
		}
	}
	return nil
}

func (t *Table) compile() {
	t.exact = make(map[string]struct{}, len(t.PublicExact))
	for _, p := range t.PublicExact {
		t.exact[p] = struct{}{}
	}
}

// IsPublic reports whether path skips authentication: an exact match, or a
// raw string prefix match against the public prefixes.
func (t *Table) IsPublic(path string) bool {
	if _, ok := t.exact[path]; ok {
		return true
	}
	for _, prefix := range t.PublicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// IsPortalShared reports whether path is a portal page every portal type
// may open.
func (t *Table) IsPortalShared(path string) bool {
	for _, shared := range t.PortalShared {
		if Under(path, shared) {
			return true
		}
	}
	return false
}

// PortalRoot returns the root path of portal type pt
func (t *Table) PortalRoot(pt portal.Type) string {
	return strings.TrimSuffix(t.PortalPrefix, "/") + "/" + string(pt)
}

// Under reports whether path is prefix itself or lies in its subtree.
// "/portal/customerx" is not under "/portal/customer". A prefix ending in
// "/" is matched as a raw string prefix.
func Under(path, prefix string) bool {
	if strings.HasSuffix(prefix, "/") {
		return strings.HasPrefix(path, prefix) || path == strings.TrimSuffix(prefix, "/")
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
