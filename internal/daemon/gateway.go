package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"schoolsync/internal/config"
	"schoolsync/internal/logging"
	"schoolsync/internal/outbox"
)

// gateway is the browser-facing listener on worker.bind.
type gateway struct {
	bind    string
	logger  *slog.Logger
	handler http.Handler

	listener net.Listener
	server   *http.Server
}

func newGateway(cfg *config.Config, handler http.Handler, logger *slog.Logger) *gateway {
	bind := strings.TrimSpace(cfg.Worker.Bind)
	if bind == "" {
		return nil
	}
	return &gateway{
		bind:    bind,
		logger:  logging.NewComponentLogger(logger, "gateway"),
		handler: handler,
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

func (g *gateway) start(ctx context.Context) error {
	if g == nil {
		return nil
	}
	listener, err := net.Listen("tcp", g.bind)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	g.listener = listener

	go func() {
		if err := g.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway server error", logging.Error(err))
		}
	}()
	g.logger.Info("gateway listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (g *gateway) stop() {
	if g == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = g.server.Shutdown(shutdownCtx)
	g.listener = nil
}

func (g *gateway) addr() string {
	if g == nil || g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// proxyError answers requests that reached neither the backend nor the outbox.
// Only the interceptor's synthetic 202 carries offline=true.
type proxyError struct {
	Error   string `json:"error"`
	Offline bool   `json:"offline"`
	Queued  bool   `json:"queued"`
}

// newBackendProxy forwards requests to the backend through transport, which is
// the intercepting round tripper for page-side traffic.
func newBackendProxy(cfg *config.Config, transport http.RoundTripper, logger *slog.Logger) http.Handler {
	target, err := url.Parse(cfg.Backend.BaseURL)
	if err != nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "invalid backend url", http.StatusBadGateway)
		})
	}
	proxyLogger := logging.NewComponentLogger(logger, "gateway")
	return &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.SetXForwarded()
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			proxyLogger.Debug("proxy request failed",
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Error(err),
			)
			status, body := http.StatusBadGateway, proxyError{Error: "backend unreachable"}
			if errors.Is(err, outbox.ErrStorageFull) {
				status, body = http.StatusInsufficientStorage, proxyError{Error: "storage_full"}
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(body)
		},
	}
}
