package route

import (
	"errors"
	"net/url"
	"path"
	"strings"
)

// ErrNonCanonicalPath is returned for request paths that a downstream
// server could resolve to a different page than the one classified.
var ErrNonCanonicalPath = errors.New("non-canonical request path")

// CanonicalPath returns the path the gate classifies for u. Dot segments,
// repeated slashes, backslashes and encoded slashes are refused rather
// than rewritten, so the path the gate decides on is exactly the path the
// upstream receives.
func CanonicalPath(u *url.URL) (string, error) {
	p := u.Path
	if p == "" {
		return "/", nil
	}
	if p[0] != '/' || strings.ContainsAny(p, "\\\x00") {
		return "", ErrNonCanonicalPath
	}
	if raw := strings.ToLower(u.RawPath); strings.Contains(raw, "%2f") || strings.Contains(raw, "%5c") {
		return "", ErrNonCanonicalPath
	}
	if cleanPath(p) != p {
		return "", ErrNonCanonicalPath
	}
	return p, nil
}

// cleanPath is path.Clean keeping a trailing slash
func cleanPath(p string) string {
	np := path.Clean(p)
	if p[len(p)-1] == '/' && np != "/" {
		np += "/"
	}
	return np
}
