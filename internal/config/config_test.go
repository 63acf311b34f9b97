package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"schoolsync/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("SCHOOLSYNC_BACKEND_URL", "")
	t.Setenv("SCHOOLSYNC_API_TOKEN", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "schoolsync")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.OutboxPath() != filepath.Join(wantData, "outbox.db") {
		t.Fatalf("unexpected outbox path: %q", cfg.OutboxPath())
	}
	if cfg.Paths.APIBind != "127.0.0.1:7590" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Sync.Mode != config.SyncModeReplay {
		t.Fatalf("unexpected sync mode: %q", cfg.Sync.Mode)
	}
	if cfg.CacheGeneration() != "school-sys-v1" {
		t.Fatalf("unexpected cache generation: %q", cfg.CacheGeneration())
	}
	if cfg.Worker.LandingPage != "/canteen/" {
		t.Fatalf("unexpected landing page: %q", cfg.Worker.LandingPage)
	}
	if cfg.Logging.Format != "console" {
		t.Fatalf("unexpected log format: %q", cfg.Logging.Format)
	}
}

func TestLoadCustomConfig(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("SCHOOLSYNC_BACKEND_URL", "")

	configPath := filepath.Join(tempHome, "config.toml")
	payload := struct {
		Paths struct {
			DataDir string `toml:"data_dir"`
		} `toml:"paths"`
		Backend struct {
			BaseURL  string `toml:"base_url"`
			SyncPath string `toml:"sync_path"`
		} `toml:"backend"`
		Sync struct {
			Mode                    string `toml:"mode"`
			RetryableClientStatuses []int  `toml:"retryable_client_statuses"`
		} `toml:"sync"`
		Worker struct {
			CacheVersion   int      `toml:"cache_version"`
			BypassPrefixes []string `toml:"bypass_prefixes"`
		} `toml:"worker"`
		Logging struct {
			Format string `toml:"format"`
		} `toml:"logging"`
	}{}
	payload.Paths.DataDir = "~/school"
	payload.Backend.BaseURL = "https://school.example.com/"
	payload.Backend.SyncPath = "api/sync/"
	payload.Sync.Mode = "BULK"
	payload.Sync.RetryableClientStatuses = []int{429, 401, 429}
	payload.Worker.CacheVersion = 3
	payload.Worker.BypassPrefixes = []string{" /api/ ", "/api/", "/auth/"}
	payload.Logging.Format = "JSON"

	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Paths.DataDir != filepath.Join(tempHome, "school") {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if cfg.Backend.BaseURL != "https://school.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.SyncPath != "/api/sync/" {
		t.Fatalf("expected leading slash added, got %q", cfg.Backend.SyncPath)
	}
	if got := cfg.ResolveURL(cfg.Backend.SyncPath); got != "https://school.example.com/api/sync/" {
		t.Fatalf("unexpected resolved sync url %q", got)
	}
	if cfg.Sync.Mode != config.SyncModeBulk {
		t.Fatalf("expected bulk mode, got %q", cfg.Sync.Mode)
	}
	if len(cfg.Sync.RetryableClientStatuses) != 2 || cfg.Sync.RetryableClientStatuses[0] != 401 {
		t.Fatalf("expected deduped sorted statuses, got %v", cfg.Sync.RetryableClientStatuses)
	}
	if cfg.CacheGeneration() != "school-sys-v3" {
		t.Fatalf("unexpected cache generation %q", cfg.CacheGeneration())
	}
	if len(cfg.Worker.BypassPrefixes) != 2 {
		t.Fatalf("expected deduped bypass prefixes, got %v", cfg.Worker.BypassPrefixes)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("unexpected log format %q", cfg.Logging.Format)
	}
}

func TestEnvFallbacks(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SCHOOLSYNC_BACKEND_URL", "https://env.example.com/")
	t.Setenv("SCHOOLSYNC_API_TOKEN", " secret ")
	t.Setenv("SCHOOLSYNC_NTFY_TOPIC", "https://ntfy.sh/school")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Backend.BaseURL != "https://env.example.com" {
		t.Fatalf("unexpected base url %q", cfg.Backend.BaseURL)
	}
	if cfg.Paths.APIToken != "secret" {
		t.Fatalf("unexpected api token %q", cfg.Paths.APIToken)
	}
	if cfg.Notifications.NtfyTopic != "https://ntfy.sh/school" {
		t.Fatalf("unexpected ntfy topic %q", cfg.Notifications.NtfyTopic)
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories returned error: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("stat %s: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %s to be a directory", dir)
		}
	}
}

func TestCreateSample(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[worker]") {
		t.Fatal("expected sample config to contain worker section")
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config failed to load: %v", err)
	}
	if !exists {
		t.Fatal("expected sample config to exist")
	}
	if cfg.Sync.BatchSize != 50 {
		t.Fatalf("unexpected batch size %d", cfg.Sync.BatchSize)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "unknown sync mode",
			mutate: func(c *config.Config) { c.Sync.Mode = "parallel" },
			want:   "sync.mode",
		},
		{
			name:   "terminal status marked retryable",
			mutate: func(c *config.Config) { c.Sync.RetryableClientStatuses = []int{409} },
			want:   "always terminal",
		},
		{
			name:   "server status marked retryable",
			mutate: func(c *config.Config) { c.Sync.RetryableClientStatuses = []int{503} },
			want:   "4xx",
		},
		{
			name:   "backend without scheme",
			mutate: func(c *config.Config) { c.Backend.BaseURL = "school.example.com" },
			want:   "backend.base_url",
		},
		{
			name:   "worker shares api bind",
			mutate: func(c *config.Config) { c.Worker.Bind = c.Paths.APIBind },
			want:   "worker.bind",
		},
		{
			name:   "request bigger than outbox",
			mutate: func(c *config.Config) { c.Outbox.MaxBytes = 10; c.Outbox.MaxRequestBytes = 20 },
			want:   "outbox.max_request_bytes",
		},
		{
			name:   "bypass prefix without slash",
			mutate: func(c *config.Config) { c.Worker.BypassPrefixes = []string{"api"} },
			want:   "worker.bypass_prefixes",
		},
		{
			name:   "unknown log level",
			mutate: func(c *config.Config) { c.Logging.Level = "loud" },
			want:   "logging.level",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("unexpected error: got %q want substring %q", err.Error(), tc.want)
			}
		})
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
