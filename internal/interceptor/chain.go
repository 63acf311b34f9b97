// Package interceptor wraps the HTTP transport used for backend mutations.
//
// Callers see an ordinary http.RoundTripper. Mutations that fail because the
// backend is unreachable are written to the outbox and answered with a
// synthetic 202 so the caller can show a pending state instead of an error.
// The stack is composed explicitly at startup:
//
//	auth headers -> offline fallback -> base transport
package interceptor

import (
	"log/slog"
	"net/http"

	"schoolsync/internal/config"
)

// Middleware decorates a RoundTripper.
type Middleware func(http.RoundTripper) http.RoundTripper

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

// RoundTrip implements http.RoundTripper.
func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Chain wraps base with mws. The first middleware is outermost.
func Chain(base http.RoundTripper, mws ...Middleware) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	rt := base
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		rt = mws[i](rt)
	}
	return rt
}

// Deps groups what the default stack needs.
type Deps struct {
	Credentials CredentialsProvider
	Offline     Options
	Base        http.RoundTripper
	Logger      *slog.Logger
}

// NewTransport builds the auth-headers -> offline-fallback -> base stack.
func NewTransport(cfg *config.Config, deps Deps) http.RoundTripper {
	offline := deps.Offline
	if offline.Logger == nil {
		offline.Logger = deps.Logger
	}
	if offline.MaxRequestBytes == 0 && cfg != nil {
		offline.MaxRequestBytes = cfg.Outbox.MaxRequestBytes
	}
	return Chain(deps.Base,
		AuthHeaders(deps.Credentials, cfg),
		OfflineFallback(offline),
	)
}

// NewClient returns an http.Client using NewTransport and the backend timeout.
func NewClient(cfg *config.Config, deps Deps) *http.Client {
	client := &http.Client{Transport: NewTransport(cfg, deps)}
	if cfg != nil {
		client.Timeout = cfg.RequestTimeout()
	}
	return client
}
