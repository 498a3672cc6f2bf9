package gate

import (
	"net/http"
	"net/url"

	"github.com/platinummonkey/gatehouse/pkg/route"
)

// Outcome is the terminal result of evaluating one request
type Outcome int

const (
	// Allow forwards the request to the application
	Allow Outcome = iota
	// Redirect sends the caller elsewhere; authorization denials always
	// redirect with an error marker instead of returning an error status.
	Redirect
	// Reject ends the request with an error status
	Reject
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	default:
		return "reject"
	}
}

// Error markers carried in the error= query parameter of redirects
const (
	ErrUnauthorizedAccess = "unauthorized_access"
	ErrWrongPortal        = "wrong_portal"
	ErrUnauthorizedPortal = "unauthorized_portal"
	ErrUnauthorizedModule = "unauthorized_module"
	ErrNoPortalAccess     = "no_portal_access"
	ErrAccessCheckFailed  = "access_check_failed"
)

// Reasons label every decision in logs and metrics
const (
	ReasonPublic             = "public"
	ReasonCron               = "cron"
	ReasonAuthorized         = "authorized"
	ReasonRoot               = "root"
	ReasonUnauthenticated    = "unauthenticated"
	ReasonRateLimited        = "rate_limited"
	ReasonCronUnconfigured   = "cron_unconfigured"
	ReasonCronUnauthorized   = "cron_unauthorized"
	ReasonNonceFailure       = "nonce_failure"
	ReasonProfileCheckFailed = "profile_check_failed"
	ReasonAdminDenied        = "admin_denied"
	ReasonAdminCheckFailed   = "admin_check_failed"
	ReasonPortalCheckFailed  = "portal_check_failed"
	ReasonBadPath            = "bad_path"
)

// Decision is what the gate decided for one request
type Decision struct {
	Outcome Outcome
	// Status is the response status for Redirect and Reject
	Status   int
	Location string
	Reason   string
	// Message is the error body for Reject
	Message string
	// RetryAfter is set, in seconds, for rate limit rejections
	RetryAfter int
	// Headers are written on the response whatever the outcome
	Headers http.Header
	Nonce   string
	UserID  string
	Route   route.Route
}

func redirectTo(location, reason string) Decision {
	return Decision{
		Outcome:  Redirect,
		Status:   http.StatusTemporaryRedirect,
		Location: location,
		Reason:   reason,
	}
}

func reject(status int, reason, message string) Decision {
	return Decision{
		Outcome: Reject,
		Status:  status,
		Reason:  reason,
		Message: message,
	}
}

// withQuery appends query parameters given as key, value pairs
func withQuery(path string, pairs ...string) string {
	q := url.Values{}
	for i := 0; i+1 < len(pairs); i += 2 {
		q.Set(pairs[i], pairs[i+1])
	}
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}
