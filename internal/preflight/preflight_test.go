package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"schoolsync/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckDatabaseFile(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "outbox.db")
	if err := os.WriteFile(existing, []byte("sqlite"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		pass bool
	}{
		{name: "missing file is created later", path: filepath.Join(dir, "absent.db"), pass: true},
		{name: "existing writable file", path: existing, pass: true},
		{name: "directory", path: dir, pass: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckDatabaseFile("db", tt.path)
			if result.Passed != tt.pass {
				t.Fatalf("Passed = %v, want %v (%s)", result.Passed, tt.pass, result.Detail)
			}
		})
	}
}

func newConfig(t *testing.T, backendURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Backend.BaseURL = backendURL
	cfg.Worker.Enabled = false
	return &cfg
}

func TestCheckBackend_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	result := CheckBackend(context.Background(), newConfig(t, srv.URL))
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckBackend_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	result := CheckBackend(context.Background(), newConfig(t, srv.URL))
	if result.Passed {
		t.Fatal("expected failure for 502 probe")
	}
}

func TestCheckBackend_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	result := CheckBackend(context.Background(), newConfig(t, url))
	if result.Passed {
		t.Fatal("expected failure for closed server")
	}
}

func TestCheckBackend_MissingURL(t *testing.T) {
	result := CheckBackend(context.Background(), newConfig(t, ""))
	if result.Passed {
		t.Fatal("expected failure for missing URL")
	}
}

func TestCheckNotificationsFromConfig(t *testing.T) {
	cfg := newConfig(t, "http://localhost")
	if r := CheckNotificationsFromConfig(cfg); !r.Passed || r.Detail != "Disabled" {
		t.Fatalf("unexpected result without topic: %#v", r)
	}
	cfg.Notifications.NtfyTopic = "school-alerts"
	if r := CheckNotificationsFromConfig(cfg); r.Passed {
		t.Fatal("expected bare topic name to fail")
	}
	cfg.Notifications.NtfyTopic = "https://ntfy.sh/school-alerts"
	if r := CheckNotificationsFromConfig(cfg); !r.Passed {
		t.Fatalf("expected URL topic to pass: %s", r.Detail)
	}
}

func TestCheckDaemon_NotRunning(t *testing.T) {
	result := CheckDaemon(context.Background(), newConfig(t, "http://localhost"))
	if result.Passed || result.Detail != "not running" {
		t.Fatalf("unexpected result %#v", result)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_MinimalConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := newConfig(t, srv.URL)
	cfg.Outbox.MaxBytes = 1

	results := RunAll(context.Background(), cfg)
	// data dir, log dir, outbox db, free space, backend
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %#v", failed)
	}
}
