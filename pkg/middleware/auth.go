package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/platinummonkey/gatehouse/pkg/httputil"
)

// SecretCheck is the result of comparing a bearer header to a shared secret
type SecretCheck int

const (
	SecretOK SecretCheck = iota
	// SecretUnconfigured means no secret is set; callers must answer 500
	// rather than treat the route as public.
	SecretUnconfigured
	SecretMismatch
)

// CheckBearerSecret compares the Authorization header with exactly
// "Bearer <secret>" in constant time.
func CheckBearerSecret(r *http.Request, secret string) SecretCheck {
	if secret == "" {
		return SecretUnconfigured
	}

	want := []byte("Bearer " + secret)
	got := []byte(r.Header.Get("Authorization"))
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return SecretMismatch
	}
	return SecretOK
}

// WriteSecretFailure writes the response for a failed check
func WriteSecretFailure(w http.ResponseWriter, check SecretCheck) {
	switch check {
	case SecretUnconfigured:
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "server misconfigured: shared secret not set")
	default:
		httputil.WriteUnauthorized(w, "Unauthorized")
	}
}

// RequireBearerSecret protects a handler with a static bearer secret
func RequireBearerSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if check := CheckBearerSecret(r, secret); check != SecretOK {
				WriteSecretFailure(w, check)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
