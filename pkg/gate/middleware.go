package gate

import (
	"net/http"

	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/csp"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
)

// Middleware applies the gate's decision. Admitted requests reach next
// with the nonce in the x-nonce header and in the context; the CSP header
// is already on the response.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := g.Evaluate(r)

		for k, vs := range d.Headers {
			w.Header()[k] = vs
		}

		switch d.Outcome {
		case Redirect:
			http.Redirect(w, r, d.Location, d.Status)
		case Reject:
			if d.Status == http.StatusTooManyRequests {
				httputil.WriteTooManyRequests(w, d.Message, d.RetryAfter)
				return
			}
			httputil.WriteErrorMessage(w, d.Status, d.Message)
		default:
			ctx := contextkeys.WithNonce(r.Context(), d.Nonce)
			ctx = contextkeys.WithRoute(ctx, d.Route)
			if d.UserID != "" {
				ctx = contextkeys.WithUserID(ctx, d.UserID)
			}

			// Clone so the header write does not alias the caller's request
			admitted := r.Clone(ctx)
			admitted.Header.Set(csp.NonceHeader, d.Nonce)
			next.ServeHTTP(w, admitted)
		}
	})
}
