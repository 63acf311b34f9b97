package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"schoolsync/internal/api"
	"schoolsync/internal/backend"
	"schoolsync/internal/manifest"
	"schoolsync/internal/outbox"
	"schoolsync/internal/session"
	"schoolsync/internal/syncer"
	"schoolsync/internal/testsupport"
)

type controllerStub struct {
	entries  []outbox.Request
	removed  []int64
	session  session.Session
	verified bool
	cleared  bool
	snap     manifest.Snapshot
	snapErr  error
}

func (c *controllerStub) Status(context.Context) api.DaemonStatus {
	return api.DaemonStatus{Running: true, Outbox: api.OutboxUsage{Entries: len(c.entries)}}
}

func (c *controllerStub) ListOutbox(context.Context) ([]outbox.Request, error) { return c.entries, nil }

func (c *controllerStub) RemoveOutbox(_ context.Context, id int64) error {
	for _, e := range c.entries {
		if e.ID == id {
			c.removed = append(c.removed, id)
			return nil
		}
	}
	return fmt.Errorf("%w: %d", ErrEntryNotFound, id)
}

func (c *controllerStub) SyncNow(context.Context) syncer.Report {
	return syncer.Report{Trigger: syncer.TriggerManual, Synced: len(c.entries), Drained: true}
}

func (c *controllerStub) ManifestData(context.Context) (manifest.Snapshot, error) {
	return c.snap, c.snapErr
}

func (c *controllerStub) SearchManifest(_ context.Context, query string, _ int) ([]manifest.Match, error) {
	return []manifest.Match{{Name: "Amína Diallo", Record: map[string]any{"q": query}}}, nil
}

func (c *controllerStub) RefreshManifest(context.Context) (manifest.Snapshot, error) {
	return manifest.Snapshot{}, backend.Wrap(backend.ErrOffline, "manifest", "refresh", "backend unreachable", nil)
}

func (c *controllerStub) SetSession(_ context.Context, s session.Session, verify bool) error {
	c.session, c.verified = s, verify
	return nil
}

func (c *controllerStub) ClearSession(context.Context) error {
	c.cleared = true
	return nil
}

func newTestAPI(t *testing.T, token string, ctl *controllerStub) http.Handler {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIToken = token
	srv := newAPIServer(cfg, ctl, nil)
	if srv == nil {
		t.Fatal("expected api server")
	}
	return srv.routes()
}

func serve(h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAPIRequiresBearerToken(t *testing.T) {
	h := newTestAPI(t, "secret", &controllerStub{})
	if w := serve(h, http.MethodGet, "/api/status", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := serve(h, http.MethodGet, "/api/status", "", "wrong"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", w.Code)
	}
	if w := serve(h, http.MethodGet, "/api/status", "", "secret"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", w.Code)
	}
}

func TestAPIOutboxRoutes(t *testing.T) {
	ctl := &controllerStub{entries: []outbox.Request{
		{ID: 3, URL: "http://school/api/attendance/", Method: http.MethodPost, SessionToken: "session-token-abc"},
	}}
	h := newTestAPI(t, "", ctl)

	w := serve(h, http.MethodGet, "/api/outbox", "", "")
	var list api.OutboxListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Entries) != 1 || list.Entries[0].ID != 3 || list.Entries[0].Session == "session-token-abc" {
		t.Fatalf("unexpected outbox listing %#v", list)
	}

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{method: http.MethodDelete, path: "/api/outbox/3", want: http.StatusNoContent},
		{method: http.MethodDelete, path: "/api/outbox/99", want: http.StatusNotFound},
		{method: http.MethodDelete, path: "/api/outbox/abc", want: http.StatusBadRequest},
		{method: http.MethodGet, path: "/api/outbox/3", want: http.StatusMethodNotAllowed},
		{method: http.MethodPost, path: "/api/outbox", want: http.StatusMethodNotAllowed},
	}
	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			if w := serve(h, tc.method, tc.path, "", ""); w.Code != tc.want {
				t.Fatalf("expected %d, got %d (%s)", tc.want, w.Code, w.Body.String())
			}
		})
	}
	if len(ctl.removed) != 1 || ctl.removed[0] != 3 {
		t.Fatalf("expected entry 3 removed once, got %v", ctl.removed)
	}
}

func TestAPISyncReturnsReport(t *testing.T) {
	h := newTestAPI(t, "", &controllerStub{entries: make([]outbox.Request, 2)})
	w := serve(h, http.MethodPost, "/api/sync", "", "")
	var report api.SyncReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if w.Code != http.StatusOK || report.Synced != 2 || !report.Drained {
		t.Fatalf("unexpected sync response %d %#v", w.Code, report)
	}
}

func TestAPIManifestRoutes(t *testing.T) {
	ctl := &controllerStub{snapErr: manifest.ErrNoManifest}
	h := newTestAPI(t, "", ctl)

	if w := serve(h, http.MethodGet, "/api/manifest", "", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before download, got %d", w.Code)
	}
	ctl.snap, ctl.snapErr = manifest.Snapshot{Data: []byte(`{"students":[]}`), SHA256: "abc"}, nil
	w := serve(h, http.MethodGet, "/api/manifest", "", "")
	if w.Code != http.StatusOK || w.Body.String() != `{"students":[]}` || w.Header().Get("ETag") != `"abc"` {
		t.Fatalf("unexpected manifest response %d %q", w.Code, w.Body.String())
	}

	w = serve(h, http.MethodGet, "/api/manifest?q=amina", "", "")
	var search api.ManifestSearchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &search); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(search.Matches) != 1 || search.Matches[0].Name != "Amína Diallo" {
		t.Fatalf("unexpected search response %#v", search)
	}

	if w := serve(h, http.MethodPost, "/api/manifest/refresh", "", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when offline, got %d", w.Code)
	}
}

func TestAPISessionRoutes(t *testing.T) {
	ctl := &controllerStub{}
	h := newTestAPI(t, "", ctl)

	w := serve(h, http.MethodPut, "/api/session", `{"token":"tok","username":"registrar","verify":true}`, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d (%s)", w.Code, w.Body.String())
	}
	if ctl.session.Token != "tok" || ctl.session.Username != "registrar" || !ctl.verified {
		t.Fatalf("unexpected session %#v verified=%v", ctl.session, ctl.verified)
	}
	if w := serve(h, http.MethodPut, "/api/session", `not json`, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad payload, got %d", w.Code)
	}
	if w := serve(h, http.MethodDelete, "/api/session", "", ""); w.Code != http.StatusNoContent || !ctl.cleared {
		t.Fatalf("expected session cleared, got %d", w.Code)
	}
}
