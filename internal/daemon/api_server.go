package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"schoolsync/internal/api"
	"schoolsync/internal/backend"
	"schoolsync/internal/config"
	"schoolsync/internal/logging"
	"schoolsync/internal/manifest"
	"schoolsync/internal/outbox"
	"schoolsync/internal/session"
	"schoolsync/internal/syncer"
)

// controller is the daemon surface served over HTTP.
type controller interface {
	Status(ctx context.Context) api.DaemonStatus
	ListOutbox(ctx context.Context) ([]outbox.Request, error)
	RemoveOutbox(ctx context.Context, id int64) error
	SyncNow(ctx context.Context) syncer.Report
	ManifestData(ctx context.Context) (manifest.Snapshot, error)
	SearchManifest(ctx context.Context, query string, limit int) ([]manifest.Match, error)
	RefreshManifest(ctx context.Context) (manifest.Snapshot, error)
	SetSession(ctx context.Context, s session.Session, verify bool) error
	ClearSession(ctx context.Context) error
}

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	ctl    controller

	listener net.Listener
	server   *http.Server
}

// SessionRequest is the body of PUT /api/session.
type SessionRequest struct {
	Token     string `json:"token"`
	CSRFToken string `json:"csrfToken,omitempty"`
	Username  string `json:"username,omitempty"`
	Role      string `json:"role,omitempty"`
	Verify    bool   `json:"verify,omitempty"`
}

func newAPIServer(cfg *config.Config, ctl controller, logger *slog.Logger) *apiServer {
	if cfg == nil || ctl == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:   bind,
		token:  strings.TrimSpace(cfg.Paths.APIToken),
		logger: logger,
		ctl:    ctl,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", authMiddleware(s.token, s.handleStatus))
	mux.HandleFunc("/api/outbox", authMiddleware(s.token, s.handleOutbox))
	mux.HandleFunc("/api/outbox/", authMiddleware(s.token, s.handleOutboxItem))
	mux.HandleFunc("/api/sync", authMiddleware(s.token, s.handleSync))
	mux.HandleFunc("/api/manifest", authMiddleware(s.token, s.handleManifest))
	mux.HandleFunc("/api/manifest/refresh", authMiddleware(s.token, s.handleManifestRefresh))
	mux.HandleFunc("/api/session", authMiddleware(s.token, s.handleSession))
	return mux
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", slog.String("error", err.Error()))
		}
	}()

	s.log().Info("api server listening", slog.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	s.listener = nil
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.ctl.Status(r.Context()))
}

func (s *apiServer) handleOutbox(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	entries, err := s.ctl.ListOutbox(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.OutboxListResponse{Entries: api.FromRequests(entries)})
}

// handleOutboxItem serves DELETE /api/outbox/{id}: 204 when removed, 404
// when the id is not queued. Neither changes anything on a retry.
func (s *apiServer) handleOutboxItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	idStr := strings.TrimPrefix(r.URL.Path, "/api/outbox/")
	if idStr == "" || strings.Contains(idStr, "/") {
		s.writeError(w, http.StatusNotFound, "outbox entry not found")
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid outbox entry id")
		return
	}
	if err := s.ctl.RemoveOutbox(r.Context(), id); err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	report := s.ctl.SyncNow(r.Context())
	s.writeJSON(w, http.StatusOK, api.FromReport(report))
}

func (s *apiServer) handleManifest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	query := r.URL.Query()
	if q := strings.TrimSpace(query.Get("q")); q != "" {
		limit, _ := strconv.Atoi(query.Get("limit"))
		matches, err := s.ctl.SearchManifest(r.Context(), q, limit)
		if err != nil {
			s.writeManifestError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.ManifestSearchResponse{Query: q, Matches: api.FromMatches(matches)})
		return
	}
	snap, err := s.ctl.ManifestData(r.Context())
	if err != nil {
		s.writeManifestError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", strconv.Quote(snap.SHA256))
	w.Header().Set("Last-Modified", snap.FetchedAt.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(snap.Data)
}

func (s *apiServer) handleManifestRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap, err := s.ctl.RefreshManifest(r.Context())
	if err != nil {
		s.writeManifestError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromSnapshot(snap))
}

func (s *apiServer) writeManifestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, manifest.ErrNoManifest):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, backend.ErrOffline):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, backend.ErrUnauthenticated):
		s.writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, backend.ErrNetworkUnavailable), errors.Is(err, backend.ErrServer):
		s.writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *apiServer) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPut:
		var req SessionRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid session payload")
			return
		}
		err := s.ctl.SetSession(r.Context(), session.Session{
			Token:     req.Token,
			CSRFToken: req.CSRFToken,
			Username:  req.Username,
			Role:      req.Role,
		}, req.Verify)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, backend.ErrUnauthenticated):
			s.writeError(w, http.StatusUnauthorized, err.Error())
		case errors.Is(err, backend.ErrNetworkUnavailable), errors.Is(err, backend.ErrServer):
			s.writeError(w, http.StatusBadGateway, err.Error())
		default:
			s.writeError(w, http.StatusBadRequest, err.Error())
		}
	case http.MethodDelete:
		if err := s.ctl.ClearSession(r.Context()); err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String("component", "api-server"))
	}
	return logging.NewNop()
}
