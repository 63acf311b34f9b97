package interceptor

import (
	"net/http"

	"schoolsync/internal/backend"
	"schoolsync/internal/config"
)

// CredentialsProvider returns the identity for the next request.
type CredentialsProvider interface {
	Credentials() backend.Credentials
}

// AuthHeaders adds the session token, CSRF token and device id to requests that
// do not already carry them. The original request is never modified.
func AuthHeaders(provider CredentialsProvider, cfg *config.Config) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		if provider == nil || cfg == nil {
			return next
		}
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			creds := provider.Credentials()
			if creds == (backend.Credentials{}) {
				return next.RoundTrip(req)
			}
			out := req.Clone(req.Context())
			creds.Apply(out.Header, cfg)
			return next.RoundTrip(out)
		})
	}
}
