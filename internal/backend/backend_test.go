package backend_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"schoolsync/internal/backend"
	"schoolsync/internal/config"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := backend.Wrap(backend.ErrServer, "syncer", "replay", "failed", base)
	if !errors.Is(err, backend.ErrServer) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"syncer", "replay", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestStatusErrorMarkers(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{code: 500, want: backend.ErrServer},
		{code: 503, want: backend.ErrServer},
		{code: 401, want: backend.ErrUnauthenticated},
		{code: 409, want: backend.ErrClient},
	}
	for _, tc := range tests {
		err := backend.Wrap(nil, "backend", "op", "", &backend.StatusError{StatusCode: tc.code})
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.code, tc.want, err)
		}
	}
	if err := backend.Wrap(nil, "backend", "op", "", errors.New("dial")); !errors.Is(err, backend.ErrNetworkUnavailable) {
		t.Fatalf("expected network marker, got %v", err)
	}
}

func newTestConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.Backend.BaseURL = baseURL
	return &cfg
}

func TestFetchManifestSendsCredentials(t *testing.T) {
	var gotAuth, gotCSRF, gotDevice string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/students/manifest/" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		gotCSRF = r.Header.Get("X-CSRFToken")
		gotDevice = r.Header.Get("X-Device-ID")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"students":[]}`)
	}))
	defer srv.Close()

	client := backend.NewClient(newTestConfig(srv.URL), nil)
	data, err := client.FetchManifest(context.Background(), backend.Credentials{Token: "tok", CSRFToken: "csrf", DeviceID: "dev"})
	if err != nil {
		t.Fatalf("FetchManifest: %v", err)
	}
	if string(data) != `{"students":[]}` {
		t.Fatalf("unexpected body %q", data)
	}
	if gotAuth != "Token tok" || gotCSRF != "csrf" || gotDevice != "dev" {
		t.Fatalf("unexpected headers auth=%q csrf=%q device=%q", gotAuth, gotCSRF, gotDevice)
	}
}

func TestVerifyMapsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "expired", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := backend.NewClient(newTestConfig(srv.URL), nil)
	err := client.Verify(context.Background(), backend.Credentials{Token: "old"})
	if !errors.Is(err, backend.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestProbeTreatsServerErrorAsUnreachable(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	client := backend.NewClient(newTestConfig(srv.URL), nil)
	if err := client.Probe(context.Background()); err != nil {
		t.Fatalf("expected reachable, got %v", err)
	}
	status.Store(http.StatusNotFound)
	if err := client.Probe(context.Background()); err != nil {
		t.Fatalf("expected 404 to count as reachable, got %v", err)
	}
	status.Store(http.StatusBadGateway)
	if err := client.Probe(context.Background()); !errors.Is(err, backend.ErrServer) {
		t.Fatalf("expected ErrServer, got %v", err)
	}
	srv.Close()
	if err := client.Probe(context.Background()); !errors.Is(err, backend.ErrNetworkUnavailable) {
		t.Fatalf("expected ErrNetworkUnavailable, got %v", err)
	}
}

func TestCredentialsDoNotOverwrite(t *testing.T) {
	cfg := config.Default()
	h := http.Header{}
	h.Set("Authorization", "Bearer explicit")
	backend.Credentials{Token: "tok", CSRFToken: "c"}.Apply(h, &cfg)
	if h.Get("Authorization") != "Bearer explicit" {
		t.Fatalf("expected explicit authorization to win, got %q", h.Get("Authorization"))
	}
	if h.Get("X-CSRFToken") != "c" {
		t.Fatalf("expected csrf header, got %q", h.Get("X-CSRFToken"))
	}
}
